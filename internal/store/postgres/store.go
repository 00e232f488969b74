package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/voxtools/mindstream/internal/mindmap"
	"github.com/voxtools/mindstream/internal/store"
)

// Compile-time interface checks.
var (
	_ store.Store    = (*Store)(nil)
	_ store.Searcher = (*Store)(nil)
)

// DefaultEmbeddingDimensions is used when the configuration does not specify
// a dimension. Matches OpenAI text-embedding-3-small.
const DefaultEmbeddingDimensions = 1536

// Store is the PostgreSQL-backed persistence layer.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore establishes a connection pool to the PostgreSQL database at dsn,
// registers pgvector types on every connection, and runs [Migrate] to ensure
// all required tables and extensions exist.
func NewStore(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	if embeddingDimensions <= 0 {
		embeddingDimensions = DefaultEmbeddingDimensions
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	// Register pgvector types on every new connection so the transcript
	// embedding column can be scanned into and inserted from pgvector.Vector
	// values.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close releases all connections held by the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) CreateSession(ctx context.Context, sess store.Session) (store.Session, error) {
	now := time.Now()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	if sess.LastActivity.IsZero() {
		sess.LastActivity = sess.CreatedAt
	}

	const q = `
		INSERT INTO sessions (id, name, created_at, last_activity, is_active)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING`

	tag, err := s.pool.Exec(ctx, q, sess.ID, sess.Name, sess.CreatedAt, sess.LastActivity, sess.IsActive)
	if err != nil {
		return store.Session{}, fmt.Errorf("postgres store: create session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.Session{}, store.ErrDuplicateID
	}
	return sess, nil
}

func (s *Store) GetSession(ctx context.Context, id string) (store.Session, error) {
	const q = `
		SELECT id, name, created_at, last_activity, is_active
		FROM   sessions
		WHERE  id = $1`

	var sess store.Session
	err := s.pool.QueryRow(ctx, q, id).Scan(
		&sess.ID, &sess.Name, &sess.CreatedAt, &sess.LastActivity, &sess.IsActive,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Session{}, store.ErrNotFound
	}
	if err != nil {
		return store.Session{}, fmt.Errorf("postgres store: get session: %w", err)
	}
	return sess, nil
}

func (s *Store) ListSessions(ctx context.Context) ([]store.SessionInfo, error) {
	const q = `
		SELECT s.id, s.name, s.created_at, s.last_activity, s.is_active,
		       (SELECT count(*) FROM transcripts t WHERE t.session_id = s.id),
		       (SELECT count(*) FROM analyses a WHERE a.session_id = s.id),
		       (SELECT count(*) FROM mind_maps m WHERE m.session_id = s.id)
		FROM   sessions s
		ORDER  BY s.last_activity DESC`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list sessions: %w", err)
	}

	infos, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.SessionInfo, error) {
		var info store.SessionInfo
		err := row.Scan(
			&info.ID, &info.Name, &info.CreatedAt, &info.LastActivity, &info.IsActive,
			&info.TranscriptCount, &info.AnalysisCount, &info.MindMapCount,
		)
		return info, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan sessions: %w", err)
	}
	if infos == nil {
		infos = []store.SessionInfo{}
	}
	return infos, nil
}

func (s *Store) RenameSession(ctx context.Context, id, name string) error {
	return s.updateSession(ctx, "rename session",
		`UPDATE sessions SET name = $2 WHERE id = $1`, id, name)
}

func (s *Store) SetSessionActive(ctx context.Context, id string, active bool) error {
	return s.updateSession(ctx, "set session active",
		`UPDATE sessions SET is_active = $2 WHERE id = $1`, id, active)
}

func (s *Store) TouchSession(ctx context.Context, id string) error {
	return s.updateSession(ctx, "touch session",
		`UPDATE sessions SET last_activity = now() WHERE id = $1`, id)
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	// Child rows cascade via foreign keys.
	return s.updateSession(ctx, "delete session",
		`DELETE FROM sessions WHERE id = $1`, id)
}

func (s *Store) updateSession(ctx context.Context, op, q string, args ...any) error {
	tag, err := s.pool.Exec(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("postgres store: %s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) AddTranscript(ctx context.Context, t store.Transcript) (store.Transcript, error) {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}

	var embedding any
	if len(t.Embedding) > 0 {
		embedding = pgvector.NewVector(t.Embedding)
	}

	const q = `
		INSERT INTO transcripts (session_id, text, language, model, created_at, embedding)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	err := s.pool.QueryRow(ctx, q, t.SessionID, t.Text, t.Language, t.Model, t.CreatedAt, embedding).Scan(&t.ID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return store.Transcript{}, store.ErrNotFound
		}
		return store.Transcript{}, fmt.Errorf("postgres store: add transcript: %w", err)
	}
	return t, nil
}

func (s *Store) ListTranscripts(ctx context.Context, sessionID string) ([]store.Transcript, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}

	const q = `
		SELECT id, session_id, text, language, model, created_at, processed_at
		FROM   transcripts
		WHERE  session_id = $1
		ORDER  BY id`

	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list transcripts: %w", err)
	}
	return collectTranscripts(rows)
}

func (s *Store) MarkTranscriptsProcessed(ctx context.Context, sessionID string, throughID int64, at time.Time) error {
	const q = `
		UPDATE transcripts
		SET    processed_at = $3
		WHERE  session_id = $1 AND id <= $2 AND processed_at IS NULL`

	if _, err := s.pool.Exec(ctx, q, sessionID, throughID, at); err != nil {
		return fmt.Errorf("postgres store: mark processed: %w", err)
	}
	return nil
}

func (s *Store) CountUnprocessed(ctx context.Context, sessionID string) (int, error) {
	const q = `
		SELECT count(*)
		FROM   transcripts
		WHERE  session_id = $1 AND processed_at IS NULL`

	var n int
	if err := s.pool.QueryRow(ctx, q, sessionID).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres store: count unprocessed: %w", err)
	}
	return n, nil
}

func (s *Store) SessionsWithUnprocessed(ctx context.Context) ([]string, error) {
	const q = `
		SELECT DISTINCT session_id
		FROM   transcripts
		WHERE  processed_at IS NULL
		ORDER  BY session_id`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("postgres store: sessions with unprocessed: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan session ids: %w", err)
	}
	return ids, nil
}

func (s *Store) AddAnalysis(ctx context.Context, a store.Analysis) (store.Analysis, error) {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}

	const q = `
		INSERT INTO analyses (session_id, prompt, response, model, processing_ns, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	err := s.pool.QueryRow(ctx, q,
		a.SessionID, a.Prompt, a.Response, a.Model, a.ProcessingTime.Nanoseconds(), a.CreatedAt,
	).Scan(&a.ID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return store.Analysis{}, store.ErrNotFound
		}
		return store.Analysis{}, fmt.Errorf("postgres store: add analysis: %w", err)
	}
	return a, nil
}

func (s *Store) ListAnalyses(ctx context.Context, sessionID string) ([]store.Analysis, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}

	const q = `
		SELECT id, session_id, prompt, response, model, processing_ns, created_at
		FROM   analyses
		WHERE  session_id = $1
		ORDER  BY id DESC`

	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list analyses: %w", err)
	}
	return collectAnalyses(rows)
}

func (s *Store) LatestAnalysis(ctx context.Context, sessionID string) (store.Analysis, error) {
	const q = `
		SELECT id, session_id, prompt, response, model, processing_ns, created_at
		FROM   analyses
		WHERE  session_id = $1
		ORDER  BY id DESC
		LIMIT  1`

	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return store.Analysis{}, fmt.Errorf("postgres store: latest analysis: %w", err)
	}
	list, err := collectAnalyses(rows)
	if err != nil {
		return store.Analysis{}, err
	}
	if len(list) == 0 {
		return store.Analysis{}, store.ErrNotFound
	}
	return list[0], nil
}

func (s *Store) AddMindMap(ctx context.Context, m store.MindMap) (store.MindMap, error) {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}

	graph, err := json.Marshal(m.Graph)
	if err != nil {
		return store.MindMap{}, fmt.Errorf("postgres store: marshal mind map: %w", err)
	}

	const q = `
		INSERT INTO mind_maps (session_id, graph, model, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`

	err = s.pool.QueryRow(ctx, q, m.SessionID, graph, m.Model, m.CreatedAt).Scan(&m.ID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return store.MindMap{}, store.ErrNotFound
		}
		return store.MindMap{}, fmt.Errorf("postgres store: add mind map: %w", err)
	}
	return m, nil
}

func (s *Store) ListMindMaps(ctx context.Context, sessionID string) ([]store.MindMap, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}

	const q = `
		SELECT id, session_id, graph, model, created_at
		FROM   mind_maps
		WHERE  session_id = $1
		ORDER  BY id DESC`

	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list mind maps: %w", err)
	}
	return collectMindMaps(rows)
}

func (s *Store) LatestMindMap(ctx context.Context, sessionID string) (store.MindMap, error) {
	const q = `
		SELECT id, session_id, graph, model, created_at
		FROM   mind_maps
		WHERE  session_id = $1
		ORDER  BY id DESC
		LIMIT  1`

	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return store.MindMap{}, fmt.Errorf("postgres store: latest mind map: %w", err)
	}
	list, err := collectMindMaps(rows)
	if err != nil {
		return store.MindMap{}, err
	}
	if len(list) == 0 {
		return store.MindMap{}, store.ErrNotFound
	}
	return list[0], nil
}

func (s *Store) GetSettings(ctx context.Context) (store.Settings, error) {
	const q = `
		SELECT whisper_language, whisper_model, model, summary_model, mind_map_model,
		       summary_prompt, mind_map_prompt, frame_length_ms, frames_per_batch,
		       active_session_id, updated_at
		FROM   settings
		WHERE  id = 1`

	var st store.Settings
	err := s.pool.QueryRow(ctx, q).Scan(
		&st.WhisperLanguage, &st.WhisperModel, &st.Model, &st.SummaryModel, &st.MindMapModel,
		&st.SummaryPrompt, &st.MindMapPrompt, &st.FrameLengthMs, &st.FramesPerBatch,
		&st.ActiveSessionID, &st.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Settings{}, store.ErrNotFound
	}
	if err != nil {
		return store.Settings{}, fmt.Errorf("postgres store: get settings: %w", err)
	}
	return st, nil
}

func (s *Store) UpdateSettings(ctx context.Context, st store.Settings) error {
	const q = `
		INSERT INTO settings
		    (id, whisper_language, whisper_model, model, summary_model, mind_map_model,
		     summary_prompt, mind_map_prompt, frame_length_ms, frames_per_batch,
		     active_session_id, updated_at)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
		ON CONFLICT (id) DO UPDATE SET
		    whisper_language  = EXCLUDED.whisper_language,
		    whisper_model     = EXCLUDED.whisper_model,
		    model             = EXCLUDED.model,
		    summary_model     = EXCLUDED.summary_model,
		    mind_map_model    = EXCLUDED.mind_map_model,
		    summary_prompt    = EXCLUDED.summary_prompt,
		    mind_map_prompt   = EXCLUDED.mind_map_prompt,
		    frame_length_ms   = EXCLUDED.frame_length_ms,
		    frames_per_batch  = EXCLUDED.frames_per_batch,
		    active_session_id = EXCLUDED.active_session_id,
		    updated_at        = now()`

	_, err := s.pool.Exec(ctx, q,
		st.WhisperLanguage, st.WhisperModel, st.Model, st.SummaryModel, st.MindMapModel,
		st.SummaryPrompt, st.MindMapPrompt, st.FrameLengthMs, st.FramesPerBatch,
		st.ActiveSessionID,
	)
	if err != nil {
		return fmt.Errorf("postgres store: update settings: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres store: ping: %w", err)
	}
	return nil
}

// SearchTranscripts implements [store.Searcher] via a pgvector cosine-distance
// nearest-neighbour query over the transcripts embedding column. Results are
// ordered most similar first; transcripts without an embedding never match.
func (s *Store) SearchTranscripts(ctx context.Context, sessionID string, embedding []float32, limit int) ([]store.SearchHit, error) {
	const q = `
		SELECT id, session_id, text, language, model, created_at, processed_at,
		       embedding <=> $2 AS distance
		FROM   transcripts
		WHERE  session_id = $1 AND embedding IS NOT NULL
		ORDER  BY distance
		LIMIT  $3`

	rows, err := s.pool.Query(ctx, q, sessionID, pgvector.NewVector(embedding), limit)
	if err != nil {
		return nil, fmt.Errorf("postgres store: search transcripts: %w", err)
	}

	hits, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.SearchHit, error) {
		var (
			hit      store.SearchHit
			distance float64
		)
		err := row.Scan(
			&hit.Transcript.ID, &hit.Transcript.SessionID, &hit.Transcript.Text,
			&hit.Transcript.Language, &hit.Transcript.Model, &hit.Transcript.CreatedAt,
			&hit.Transcript.ProcessedAt, &distance,
		)
		hit.Similarity = 1 - distance
		return hit, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan search hits: %w", err)
	}
	if hits == nil {
		hits = []store.SearchHit{}
	}
	return hits, nil
}

func collectTranscripts(rows pgx.Rows) ([]store.Transcript, error) {
	ts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.Transcript, error) {
		var t store.Transcript
		err := row.Scan(&t.ID, &t.SessionID, &t.Text, &t.Language, &t.Model, &t.CreatedAt, &t.ProcessedAt)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan transcripts: %w", err)
	}
	if ts == nil {
		ts = []store.Transcript{}
	}
	return ts, nil
}

func collectAnalyses(rows pgx.Rows) ([]store.Analysis, error) {
	list, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.Analysis, error) {
		var (
			a  store.Analysis
			ns int64
		)
		if err := row.Scan(&a.ID, &a.SessionID, &a.Prompt, &a.Response, &a.Model, &ns, &a.CreatedAt); err != nil {
			return store.Analysis{}, err
		}
		a.ProcessingTime = time.Duration(ns)
		return a, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan analyses: %w", err)
	}
	if list == nil {
		list = []store.Analysis{}
	}
	return list, nil
}

func collectMindMaps(rows pgx.Rows) ([]store.MindMap, error) {
	list, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.MindMap, error) {
		var (
			m   store.MindMap
			raw []byte
		)
		if err := row.Scan(&m.ID, &m.SessionID, &raw, &m.Model, &m.CreatedAt); err != nil {
			return store.MindMap{}, err
		}
		var graph mindmap.Map
		if err := json.Unmarshal(raw, &graph); err != nil {
			return store.MindMap{}, fmt.Errorf("unmarshal graph: %w", err)
		}
		m.Graph = graph
		return m, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan mind maps: %w", err)
	}
	if list == nil {
		list = []store.MindMap{}
	}
	return list, nil
}

// isForeignKeyViolation reports whether err is a PostgreSQL foreign key
// violation (SQLSTATE 23503), which surfaces when a child row references a
// session that does not exist.
func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

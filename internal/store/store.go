// Package store defines the persistence contract for sessions, transcripts,
// analyses, mind maps, and the settings row, together with an in-memory
// implementation. The PostgreSQL implementation lives in store/postgres.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/voxtools/mindstream/internal/mindmap"
)

// ErrNotFound is returned when a referenced row does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrDuplicateID is returned by CreateSession when a session with the same id
// already exists.
var ErrDuplicateID = errors.New("store: session with that id already exists")

// Session is a logical conversation with its own transcript history and
// derived artifacts.
type Session struct {
	ID           string
	Name         string
	CreatedAt    time.Time
	LastActivity time.Time
	IsActive     bool
}

// SessionInfo is a Session together with its artifact counts, as returned by
// the session listing API.
type SessionInfo struct {
	Session
	TranscriptCount int
	AnalysisCount   int
	MindMapCount    int
}

// Transcript is one transcribed utterance. Text and Language are immutable
// once created; only ProcessedAt is ever updated.
type Transcript struct {
	ID        int64
	SessionID string
	Text      string
	Language  string
	Model     string
	CreatedAt time.Time

	// ProcessedAt is set once both analysis pipelines have considered this
	// transcript. Nil while unprocessed.
	ProcessedAt *time.Time

	// Embedding is the optional semantic search vector for Text. Stores
	// without vector support ignore it.
	Embedding []float32
}

// Analysis is one summary pipeline result. Append-only.
type Analysis struct {
	ID             int64
	SessionID      string
	Prompt         string
	Response       string
	Model          string
	ProcessingTime time.Duration
	CreatedAt      time.Time
}

// MindMap is one mind-map pipeline result. Append-only. The graph has been
// validated before persistence; see mindmap.Validate.
type MindMap struct {
	ID        int64
	SessionID string
	Graph     mindmap.Map
	Model     string
	CreatedAt time.Time
}

// Settings is the singleton settings row. Model fields may carry the sentinel
// "none", which disables the corresponding pipeline.
type Settings struct {
	WhisperLanguage string
	WhisperModel    string

	// Model is the legacy single model field; SummaryModel and MindMapModel
	// fall back to it when empty.
	Model        string
	SummaryModel string
	MindMapModel string

	SummaryPrompt string
	MindMapPrompt string

	FrameLengthMs  int
	FramesPerBatch int

	// ActiveSessionID records the most recently activated session, if any.
	ActiveSessionID string

	UpdatedAt time.Time
}

// SearchHit is one semantic search result.
type SearchHit struct {
	Transcript Transcript

	// Similarity is cosine similarity in [0, 1]; higher is closer.
	Similarity float64
}

// Store is the persistence contract the pipelines depend on.
//
// All implementations must be safe for concurrent use; pipelines treat the
// store as a serialisation point and never wrap it in additional locking.
type Store interface {
	// CreateSession creates a new session. CreatedAt/LastActivity are set to
	// now when zero. Returns ErrDuplicateID when the id is taken.
	CreateSession(ctx context.Context, s Session) (Session, error)

	// GetSession retrieves a session by id. Returns ErrNotFound when absent.
	GetSession(ctx context.Context, id string) (Session, error)

	// ListSessions returns all sessions with artifact counts, most recently
	// active first.
	ListSessions(ctx context.Context) ([]SessionInfo, error)

	// RenameSession updates the session name. Returns ErrNotFound when absent.
	RenameSession(ctx context.Context, id, name string) error

	// SetSessionActive flips the active flag. Returns ErrNotFound when absent.
	SetSessionActive(ctx context.Context, id string, active bool) error

	// TouchSession bumps LastActivity to now. Returns ErrNotFound when absent.
	TouchSession(ctx context.Context, id string) error

	// DeleteSession removes a session and cascades to all child rows.
	// Returns ErrNotFound when absent.
	DeleteSession(ctx context.Context, id string) error

	// AddTranscript persists a transcript and assigns its monotonic id.
	// Returns ErrNotFound when the session does not exist.
	AddTranscript(ctx context.Context, t Transcript) (Transcript, error)

	// ListTranscripts returns all transcripts of a session ordered by
	// creation (ascending id).
	ListTranscripts(ctx context.Context, sessionID string) ([]Transcript, error)

	// MarkTranscriptsProcessed sets ProcessedAt on every unprocessed
	// transcript of the session with id <= throughID.
	MarkTranscriptsProcessed(ctx context.Context, sessionID string, throughID int64, at time.Time) error

	// CountUnprocessed returns the number of transcripts of the session with
	// ProcessedAt unset.
	CountUnprocessed(ctx context.Context, sessionID string) (int, error)

	// SessionsWithUnprocessed returns ids of sessions that currently hold
	// unprocessed transcripts. Used by the background sweep.
	SessionsWithUnprocessed(ctx context.Context) ([]string, error)

	// AddAnalysis persists a summary result and assigns its id.
	AddAnalysis(ctx context.Context, a Analysis) (Analysis, error)

	// ListAnalyses returns all analyses of a session, newest first.
	ListAnalyses(ctx context.Context, sessionID string) ([]Analysis, error)

	// LatestAnalysis returns the most recent analysis of a session.
	// Returns ErrNotFound when the session has none.
	LatestAnalysis(ctx context.Context, sessionID string) (Analysis, error)

	// AddMindMap persists a mind map and assigns its id.
	AddMindMap(ctx context.Context, m MindMap) (MindMap, error)

	// ListMindMaps returns all mind maps of a session, newest first.
	ListMindMaps(ctx context.Context, sessionID string) ([]MindMap, error)

	// LatestMindMap returns the most recent mind map of a session.
	// Returns ErrNotFound when the session has none.
	LatestMindMap(ctx context.Context, sessionID string) (MindMap, error)

	// GetSettings returns the singleton settings row. Returns ErrNotFound
	// when it was never written; callers fall back to defaults.
	GetSettings(ctx context.Context) (Settings, error)

	// UpdateSettings upserts the singleton settings row.
	UpdateSettings(ctx context.Context, s Settings) error

	// Ping verifies the backing storage is reachable. Used by the readiness
	// probe.
	Ping(ctx context.Context) error
}

// Searcher is the optional semantic search capability. The PostgreSQL store
// implements it via pgvector; the in-memory store does not.
type Searcher interface {
	// SearchTranscripts returns up to limit transcripts of the session
	// ranked by cosine similarity to the query embedding.
	SearchTranscripts(ctx context.Context, sessionID string, embedding []float32, limit int) ([]SearchHit, error)
}

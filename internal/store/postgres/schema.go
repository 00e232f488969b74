// Package postgres provides the PostgreSQL-backed [store.Store] used in
// production deployments. It additionally implements [store.Searcher] via the
// pgvector extension, which [Migrate] installs automatically.
//
// All operations share a single [pgxpool.Pool] and are safe for concurrent use.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlSessions = `
CREATE TABLE IF NOT EXISTS sessions (
    id            TEXT         PRIMARY KEY,
    name          TEXT         NOT NULL DEFAULT '',
    created_at    TIMESTAMPTZ  NOT NULL DEFAULT now(),
    last_activity TIMESTAMPTZ  NOT NULL DEFAULT now(),
    is_active     BOOLEAN      NOT NULL DEFAULT FALSE
);

CREATE INDEX IF NOT EXISTS idx_sessions_last_activity
    ON sessions (last_activity DESC);
`

const ddlAnalyses = `
CREATE TABLE IF NOT EXISTS analyses (
    id            BIGSERIAL    PRIMARY KEY,
    session_id    TEXT         NOT NULL REFERENCES sessions (id) ON DELETE CASCADE,
    prompt        TEXT         NOT NULL,
    response      TEXT         NOT NULL,
    model         TEXT         NOT NULL DEFAULT '',
    processing_ns BIGINT       NOT NULL DEFAULT 0,
    created_at    TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_analyses_session_id
    ON analyses (session_id, id DESC);

CREATE TABLE IF NOT EXISTS mind_maps (
    id          BIGSERIAL    PRIMARY KEY,
    session_id  TEXT         NOT NULL REFERENCES sessions (id) ON DELETE CASCADE,
    graph       JSONB        NOT NULL,
    model       TEXT         NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_mind_maps_session_id
    ON mind_maps (session_id, id DESC);
`

const ddlSettings = `
CREATE TABLE IF NOT EXISTS settings (
    id                SMALLINT     PRIMARY KEY DEFAULT 1 CHECK (id = 1),
    whisper_language  TEXT         NOT NULL DEFAULT '',
    whisper_model     TEXT         NOT NULL DEFAULT '',
    model             TEXT         NOT NULL DEFAULT '',
    summary_model     TEXT         NOT NULL DEFAULT '',
    mind_map_model    TEXT         NOT NULL DEFAULT '',
    summary_prompt    TEXT         NOT NULL DEFAULT '',
    mind_map_prompt   TEXT         NOT NULL DEFAULT '',
    frame_length_ms   INTEGER      NOT NULL DEFAULT 0,
    frames_per_batch  INTEGER      NOT NULL DEFAULT 0,
    active_session_id TEXT         NOT NULL DEFAULT '',
    updated_at        TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

// ddlTranscripts returns the transcripts DDL with the embedding dimension
// substituted. The vector dimension is baked into the column type at schema
// creation time.
func ddlTranscripts(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS transcripts (
    id           BIGSERIAL    PRIMARY KEY,
    session_id   TEXT         NOT NULL REFERENCES sessions (id) ON DELETE CASCADE,
    text         TEXT         NOT NULL,
    language     TEXT         NOT NULL DEFAULT '',
    model        TEXT         NOT NULL DEFAULT '',
    created_at   TIMESTAMPTZ  NOT NULL DEFAULT now(),
    processed_at TIMESTAMPTZ,
    embedding    vector(%d)
);

CREATE INDEX IF NOT EXISTS idx_transcripts_session_id
    ON transcripts (session_id, id);

CREATE INDEX IF NOT EXISTS idx_transcripts_unprocessed
    ON transcripts (session_id) WHERE processed_at IS NULL;

CREATE INDEX IF NOT EXISTS idx_transcripts_embedding
    ON transcripts USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate creates or ensures all required tables and extensions exist. It is
// idempotent and safe to call on every application start.
//
// embeddingDimensions must match the output dimension of the configured
// embedding model (e.g., 1536 for OpenAI text-embedding-3-small, 768 for
// nomic-embed-text). Changing it after the first migration requires a manual
// schema update.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	statements := []string{
		ddlSessions,
		ddlTranscripts(embeddingDimensions),
		ddlAnalyses,
		ddlSettings,
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}

// Package postgres provides the PostgreSQL implementation of turn history:
// a session log with full-text search and a pgvector chunk index.
//
// Both layers share one [pgxpool.Pool]. The pgvector extension must be
// available in the target database; [Migrate] installs it via CREATE
// EXTENSION IF NOT EXISTS.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn, 1536)
//	if err != nil { … }
//	_ = store.Sessions().WriteEntry(ctx, entry)
//	_ = store.Index().IndexChunk(ctx, chunk)
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ─────────────────────────────────────────────────────────────────────────────
// Session log
// ─────────────────────────────────────────────────────────────────────────────

const ddlTurnEntries = `
CREATE TABLE IF NOT EXISTS turn_entries (
    id           BIGSERIAL    PRIMARY KEY,
    session_id   TEXT         NOT NULL,
    turn_id      TEXT         NOT NULL DEFAULT '',
    role         TEXT         NOT NULL,
    text         TEXT         NOT NULL,
    timestamp    TIMESTAMPTZ  NOT NULL DEFAULT now(),
    duration_ns  BIGINT       NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_turn_entries_session_timestamp
    ON turn_entries (session_id, timestamp);

CREATE INDEX IF NOT EXISTS idx_turn_entries_fts
    ON turn_entries USING GIN (to_tsvector('english', text));
`

// ─────────────────────────────────────────────────────────────────────────────
// Chunk index
// ─────────────────────────────────────────────────────────────────────────────

// ddlTurnChunks returns the chunk DDL with the embedding dimension baked into
// the column type.
func ddlTurnChunks(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS turn_chunks (
    id          TEXT         PRIMARY KEY,
    session_id  TEXT         NOT NULL,
    turn_id     TEXT         NOT NULL DEFAULT '',
    role        TEXT         NOT NULL DEFAULT '',
    content     TEXT         NOT NULL,
    embedding   vector(%d),
    timestamp   TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_turn_chunks_session_id
    ON turn_chunks (session_id);

CREATE INDEX IF NOT EXISTS idx_turn_chunks_embedding
    ON turn_chunks USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate creates all tables, indexes and extensions. It is idempotent and
// safe to call on every start.
//
// embeddingDimensions must match the configured embeddings model. Changing it
// after the first migration requires a manual schema update.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	if embeddingDimensions <= 0 {
		return errors.New("postgres migrate: embedding dimensions must be positive")
	}
	for _, stmt := range []string{ddlTurnEntries, ddlTurnChunks(embeddingDimensions)} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}

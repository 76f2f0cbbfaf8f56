package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/MrWong99/voiceturn/pkg/memory"
)

// SemanticIndexImpl is the chunk index backed by turn_chunks with a pgvector
// HNSW index. Obtain one via [Store.Index].
type SemanticIndexImpl struct {
	pool       *pgxpool.Pool
	dimensions int
}

// IndexChunk implements [memory.SemanticIndex].
func (s *SemanticIndexImpl) IndexChunk(ctx context.Context, chunk memory.Chunk) error {
	if len(chunk.Embedding) != s.dimensions {
		return fmt.Errorf("semantic index: chunk %s has %d dimensions, want %d", chunk.ID, len(chunk.Embedding), s.dimensions)
	}
	ts := chunk.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	const q = `
		INSERT INTO turn_chunks (id, session_id, turn_id, role, content, embedding, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
		    session_id = EXCLUDED.session_id,
		    turn_id    = EXCLUDED.turn_id,
		    role       = EXCLUDED.role,
		    content    = EXCLUDED.content,
		    embedding  = EXCLUDED.embedding,
		    timestamp  = EXCLUDED.timestamp`

	if _, err := s.pool.Exec(ctx, q,
		chunk.ID,
		chunk.SessionID,
		chunk.TurnID,
		string(chunk.Role),
		chunk.Content,
		pgvector.NewVector(chunk.Embedding),
		ts,
	); err != nil {
		return fmt.Errorf("semantic index: index chunk: %w", err)
	}
	return nil
}

// Search implements [memory.SemanticIndex]. Results are ordered by ascending
// cosine distance.
func (s *SemanticIndexImpl) Search(ctx context.Context, embedding []float32, topK int, filter memory.ChunkFilter) ([]memory.ChunkResult, error) {
	args := []any{pgvector.NewVector(embedding)}
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	var conditions []string
	if filter.SessionID != "" {
		conditions = append(conditions, "session_id = "+next(filter.SessionID))
	}
	if filter.Role != "" {
		conditions = append(conditions, "role = "+next(string(filter.Role)))
	}
	if !filter.After.IsZero() {
		conditions = append(conditions, "timestamp > "+next(filter.After))
	}
	if !filter.Before.IsZero() {
		conditions = append(conditions, "timestamp < "+next(filter.Before))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, "\n  AND ")
	}
	if topK <= 0 {
		topK = 10
	}

	q := fmt.Sprintf(`
		SELECT id, session_id, turn_id, role, content, embedding, timestamp,
		       embedding <=> $1 AS distance
		FROM   turn_chunks
		%s
		ORDER  BY distance
		LIMIT  %s`, where, next(topK))

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("semantic index: search: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.ChunkResult, error) {
		var (
			cr   memory.ChunkResult
			role string
			vec  pgvector.Vector
		)
		if err := row.Scan(
			&cr.Chunk.ID,
			&cr.Chunk.SessionID,
			&cr.Chunk.TurnID,
			&role,
			&cr.Chunk.Content,
			&vec,
			&cr.Chunk.Timestamp,
			&cr.Distance,
		); err != nil {
			return memory.ChunkResult{}, err
		}
		cr.Chunk.Role = memory.Role(role)
		cr.Chunk.Embedding = vec.Slice()
		return cr, nil
	})
	if err != nil {
		return nil, fmt.Errorf("semantic index: scan rows: %w", err)
	}
	if results == nil {
		results = []memory.ChunkResult{}
	}
	return results, nil
}

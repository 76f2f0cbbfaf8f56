package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/voiceturn/pkg/memory"
)

// SessionStore and SemanticIndex both define Search with different
// signatures, so they are separate types reached through [Store.Sessions]
// and [Store.Index].
var (
	_ memory.SessionStore  = (*SessionStoreImpl)(nil)
	_ memory.SemanticIndex = (*SemanticIndexImpl)(nil)
)

// Store owns the connection pool shared by both history layers.
type Store struct {
	pool     *pgxpool.Pool
	sessions *SessionStoreImpl
	index    *SemanticIndexImpl
}

// NewStore connects to dsn, registers pgvector types on every connection and
// runs [Migrate].
func NewStore(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}
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

	return &Store{
		pool:     pool,
		sessions: &SessionStoreImpl{pool: pool},
		index:    &SemanticIndexImpl{pool: pool, dimensions: embeddingDimensions},
	}, nil
}

// Sessions returns the session log.
func (s *Store) Sessions() *SessionStoreImpl { return s.sessions }

// Index returns the chunk index.
func (s *Store) Index() *SemanticIndexImpl { return s.index }

// Ping checks database reachability. It backs the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres store: ping: %w", err)
	}
	return nil
}

// Close releases all pooled connections.
func (s *Store) Close() {
	s.pool.Close()
}

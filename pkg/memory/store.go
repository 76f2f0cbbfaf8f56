// Package memory defines storage for turn history.
//
// History has two layers:
//
//   - [SessionStore]: the time-ordered log of transcripts and replies per
//     session, with full-text search.
//   - [SemanticIndex]: embedded copies of the same lines for similarity
//     search.
//
// Every implementation must be safe for concurrent use.
package memory

import (
	"context"
	"time"
)

// Role marks who produced an entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Entry is one line of turn history.
type Entry struct {
	// ID is assigned by the store on write.
	ID int64

	SessionID string
	TurnID    string
	Role      Role
	Text      string
	Timestamp time.Time

	// Duration is the length of the spoken audio, if known.
	Duration time.Duration
}

// SearchOpts narrows a full-text search. Non-zero fields are ANDed.
type SearchOpts struct {
	SessionID string
	Role      Role
	After     time.Time
	Before    time.Time

	// Limit caps the number of results. Zero lets the store choose.
	Limit int
}

// Chunk is an embedded copy of an entry.
type Chunk struct {
	ID        string
	SessionID string
	TurnID    string
	Role      Role
	Content   string
	Embedding []float32
	Timestamp time.Time
}

// ChunkFilter narrows a similarity search. Non-zero fields are ANDed.
type ChunkFilter struct {
	SessionID string
	Role      Role
	After     time.Time
	Before    time.Time
}

// ChunkResult is a chunk with its cosine distance to the query. Lower is
// more similar.
type ChunkResult struct {
	Chunk    Chunk
	Distance float64
}

// SessionStore is the history log.
type SessionStore interface {
	// WriteEntry appends entry. Entry.SessionID must be set.
	WriteEntry(ctx context.Context, entry Entry) error

	// Entries returns the newest limit entries of a session, oldest first.
	// A limit of zero or less returns all of them.
	Entries(ctx context.Context, sessionID string, limit int) ([]Entry, error)

	// Search runs a full-text query over entry text.
	Search(ctx context.Context, query string, opts SearchOpts) ([]Entry, error)
}

// SemanticIndex stores embedded chunks.
type SemanticIndex interface {
	// IndexChunk inserts or replaces chunk by ID.
	IndexChunk(ctx context.Context, chunk Chunk) error

	// Search returns the topK chunks closest to embedding.
	Search(ctx context.Context, embedding []float32, topK int, filter ChunkFilter) ([]ChunkResult, error)
}

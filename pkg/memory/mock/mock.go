// Package mock provides in-memory implementations of memory.SessionStore and
// memory.SemanticIndex for tests.
package mock

import (
	"context"
	"math"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/MrWong99/voiceturn/pkg/memory"
)

var (
	_ memory.SessionStore  = (*SessionStore)(nil)
	_ memory.SemanticIndex = (*SemanticIndex)(nil)
)

// SessionStore keeps entries in a slice. Search matches entries containing
// every query word, case-insensitively.
type SessionStore struct {
	mu      sync.Mutex
	entries []memory.Entry
	nextID  int64

	// WriteErr, when non-nil, is returned by WriteEntry.
	WriteErr error

	// ReadErr, when non-nil, is returned by Entries and Search.
	ReadErr error
}

// WriteEntry implements memory.SessionStore.
func (s *SessionStore) WriteEntry(_ context.Context, entry memory.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.WriteErr != nil {
		return s.WriteErr
	}
	s.nextID++
	entry.ID = s.nextID
	s.entries = append(s.entries, entry)
	return nil
}

// Entries implements memory.SessionStore.
func (s *SessionStore) Entries(_ context.Context, sessionID string, limit int) ([]memory.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ReadErr != nil {
		return nil, s.ReadErr
	}
	out := []memory.Entry{}
	for _, e := range s.entries {
		if e.SessionID == sessionID {
			out = append(out, e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// Search implements memory.SessionStore.
func (s *SessionStore) Search(_ context.Context, query string, opts memory.SearchOpts) ([]memory.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ReadErr != nil {
		return nil, s.ReadErr
	}
	words := strings.Fields(strings.ToLower(query))
	out := []memory.Entry{}
	for _, e := range s.entries {
		if opts.SessionID != "" && e.SessionID != opts.SessionID {
			continue
		}
		if opts.Role != "" && e.Role != opts.Role {
			continue
		}
		if !opts.After.IsZero() && !e.Timestamp.After(opts.After) {
			continue
		}
		if !opts.Before.IsZero() && !e.Timestamp.Before(opts.Before) {
			continue
		}
		text := strings.ToLower(e.Text)
		if len(words) == 0 || !allContained(text, words) {
			continue
		}
		out = append(out, e)
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out, nil
}

// All returns a copy of every stored entry in write order.
func (s *SessionStore) All() []memory.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.entries)
}

func allContained(text string, words []string) bool {
	for _, w := range words {
		if !strings.Contains(text, w) {
			return false
		}
	}
	return true
}

// SemanticIndex keeps chunks in a map and ranks them by exact cosine
// distance.
type SemanticIndex struct {
	mu     sync.Mutex
	chunks map[string]memory.Chunk

	// IndexErr, when non-nil, is returned by IndexChunk.
	IndexErr error
}

// IndexChunk implements memory.SemanticIndex.
func (x *SemanticIndex) IndexChunk(_ context.Context, chunk memory.Chunk) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.IndexErr != nil {
		return x.IndexErr
	}
	if x.chunks == nil {
		x.chunks = map[string]memory.Chunk{}
	}
	x.chunks[chunk.ID] = chunk
	return nil
}

// Search implements memory.SemanticIndex.
func (x *SemanticIndex) Search(_ context.Context, embedding []float32, topK int, filter memory.ChunkFilter) ([]memory.ChunkResult, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	out := []memory.ChunkResult{}
	for _, c := range x.chunks {
		if filter.SessionID != "" && c.SessionID != filter.SessionID {
			continue
		}
		if filter.Role != "" && c.Role != filter.Role {
			continue
		}
		if !filter.After.IsZero() && !c.Timestamp.After(filter.After) {
			continue
		}
		if !filter.Before.IsZero() && !c.Timestamp.Before(filter.Before) {
			continue
		}
		out = append(out, memory.ChunkResult{Chunk: c, Distance: cosineDistance(embedding, c.Embedding)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

// Len returns the number of indexed chunks.
func (x *SemanticIndex) Len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.chunks)
}

func cosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 2
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

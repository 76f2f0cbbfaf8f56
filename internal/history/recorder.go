// Package history persists finished turns and serves them back over HTTP.
//
// [Recorder] writes the user transcript and the assistant reply of every
// turn to a [memory.SessionStore] and, when an embeddings provider is set,
// indexes both lines in a [memory.SemanticIndex]. [API] exposes the log,
// full-text search and similarity search as JSON endpoints.
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voiceturn/internal/pipeline"
	"github.com/MrWong99/voiceturn/internal/utterance"
	"github.com/MrWong99/voiceturn/pkg/memory"
	"github.com/MrWong99/voiceturn/pkg/provider/embeddings"
)

// Recorder writes turns to history. It is safe for concurrent use.
type Recorder struct {
	sessions memory.SessionStore
	index    memory.SemanticIndex
	embedder embeddings.Provider
	logger   *slog.Logger
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithSemanticIndex enables chunk indexing with embedder.
func WithSemanticIndex(index memory.SemanticIndex, embedder embeddings.Provider) RecorderOption {
	return func(r *Recorder) {
		r.index = index
		r.embedder = embedder
	}
}

// WithRecorderLogger sets the logger. Defaults to slog.Default().
func WithRecorderLogger(l *slog.Logger) RecorderOption {
	return func(r *Recorder) { r.logger = l }
}

// NewRecorder creates a Recorder writing to sessions.
func NewRecorder(sessions memory.SessionStore, opts ...RecorderOption) (*Recorder, error) {
	if sessions == nil {
		return nil, errors.New("history: session store must not be nil")
	}
	r := &Recorder{sessions: sessions, logger: slog.Default()}
	for _, o := range opts {
		o(r)
	}
	if (r.index == nil) != (r.embedder == nil) {
		return nil, errors.New("history: semantic index and embedder must be set together")
	}
	return r, nil
}

// Record stores the transcript and reply of a turn. A result without a
// transcript is not recorded.
func (r *Recorder) Record(ctx context.Context, sessionID string, turn utterance.Turn, res pipeline.Result) error {
	entries := turnEntries(sessionID, turn, res)
	if len(entries) == 0 {
		return nil
	}

	// Entries are written in order so the log reads user then assistant.
	for _, e := range entries {
		if err := r.sessions.WriteEntry(ctx, e); err != nil {
			return fmt.Errorf("history: record turn %s: %w", turn.ID, err)
		}
	}

	if r.embedder == nil {
		return nil
	}
	if err := r.indexEntries(ctx, entries); err != nil {
		return fmt.Errorf("history: index turn %s: %w", turn.ID, err)
	}
	r.logger.Debug("history: turn recorded", "session_id", sessionID, "turn_id", turn.ID, "entries", len(entries))
	return nil
}

func (r *Recorder) indexEntries(ctx context.Context, entries []memory.Entry) error {
	texts := make([]string, len(entries))
	for i, e := range entries {
		texts[i] = e.Text
	}
	vecs, err := r.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return err
	}
	if len(vecs) != len(entries) {
		return fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(entries))
	}

	g, ctx := errgroup.WithContext(ctx)
	for i, e := range entries {
		chunk := memory.Chunk{
			ID:        e.TurnID + ":" + string(e.Role),
			SessionID: e.SessionID,
			TurnID:    e.TurnID,
			Role:      e.Role,
			Content:   e.Text,
			Embedding: vecs[i],
			Timestamp: e.Timestamp,
		}
		g.Go(func() error {
			return r.index.IndexChunk(ctx, chunk)
		})
	}
	return g.Wait()
}

func turnEntries(sessionID string, turn utterance.Turn, res pipeline.Result) []memory.Entry {
	if !res.HasTranscript() {
		return nil
	}
	at := turn.CapturedAt
	if at.IsZero() {
		at = time.Now()
	}
	entries := []memory.Entry{{
		SessionID: sessionID,
		TurnID:    turn.ID,
		Role:      memory.RoleUser,
		Text:      res.Transcript,
		Timestamp: at,
		Duration:  turn.Duration(),
	}}
	if res.HasReply() {
		entries = append(entries, memory.Entry{
			SessionID: sessionID,
			TurnID:    turn.ID,
			Role:      memory.RoleAssistant,
			Text:      res.Reply,
			// Keeps ordering stable when both lines share a timestamp.
			Timestamp: at.Add(time.Millisecond),
		})
	}
	return entries
}

package history

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/voiceturn/pkg/memory"
	"github.com/MrWong99/voiceturn/pkg/provider/embeddings"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

// API serves turn history as JSON.
type API struct {
	sessions memory.SessionStore
	index    memory.SemanticIndex
	embedder embeddings.Provider
}

// NewAPI creates an API reading from sessions. index and embedder may both
// be nil, in which case /api/similar answers 501.
func NewAPI(sessions memory.SessionStore, index memory.SemanticIndex, embedder embeddings.Provider) *API {
	return &API{sessions: sessions, index: index, embedder: embedder}
}

// Register adds the history routes to mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/sessions/{id}/entries", a.Entries)
	mux.HandleFunc("GET /api/search", a.Search)
	mux.HandleFunc("GET /api/similar", a.Similar)
}

type entryJSON struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"session_id"`
	TurnID     string    `json:"turn_id,omitempty"`
	Role       string    `json:"role"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
	DurationMs int64     `json:"duration_ms,omitempty"`
}

type chunkJSON struct {
	SessionID string    `json:"session_id"`
	TurnID    string    `json:"turn_id,omitempty"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Distance  float64   `json:"distance"`
}

type errorJSON struct {
	Error string `json:"error"`
}

// Entries handles GET /api/sessions/{id}/entries?limit=N.
func (a *API) Entries(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorJSON{Error: err.Error()})
		return
	}
	entries, err := a.sessions.Entries(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		slog.Error("history: list entries failed", "session_id", r.PathValue("id"), "err", err)
		writeJSON(w, http.StatusInternalServerError, errorJSON{Error: "could not load entries"})
		return
	}
	writeJSON(w, http.StatusOK, toEntryJSON(entries))
}

// Search handles GET /api/search?q=...&session_id=...&role=...&limit=N.
func (a *API) Search(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorJSON{Error: "query parameter q is required"})
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorJSON{Error: err.Error()})
		return
	}
	opts := memory.SearchOpts{
		SessionID: r.URL.Query().Get("session_id"),
		Role:      memory.Role(r.URL.Query().Get("role")),
		Limit:     limit,
	}
	entries, err := a.sessions.Search(r.Context(), q, opts)
	if err != nil {
		slog.Error("history: search failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorJSON{Error: "search failed"})
		return
	}
	writeJSON(w, http.StatusOK, toEntryJSON(entries))
}

// Similar handles GET /api/similar?q=...&session_id=...&k=N.
func (a *API) Similar(w http.ResponseWriter, r *http.Request) {
	if a.index == nil || a.embedder == nil {
		writeJSON(w, http.StatusNotImplemented, errorJSON{Error: "similarity search is not configured"})
		return
	}
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorJSON{Error: "query parameter q is required"})
		return
	}
	k := 5
	if v := r.URL.Query().Get("k"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxLimit {
			writeJSON(w, http.StatusBadRequest, errorJSON{Error: "k must be between 1 and 500"})
			return
		}
		k = n
	}

	vec, err := a.embedder.Embed(r.Context(), q)
	if err != nil {
		slog.Error("history: embed query failed", "err", err)
		writeJSON(w, http.StatusBadGateway, errorJSON{Error: "could not embed query"})
		return
	}
	results, err := a.index.Search(r.Context(), vec, k, memory.ChunkFilter{
		SessionID: r.URL.Query().Get("session_id"),
	})
	if err != nil {
		slog.Error("history: similarity search failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorJSON{Error: "search failed"})
		return
	}

	out := make([]chunkJSON, len(results))
	for i, cr := range results {
		out[i] = chunkJSON{
			SessionID: cr.Chunk.SessionID,
			TurnID:    cr.Chunk.TurnID,
			Role:      string(cr.Chunk.Role),
			Text:      cr.Chunk.Content,
			Timestamp: cr.Chunk.Timestamp,
			Distance:  cr.Distance,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func parseLimit(r *http.Request) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return defaultLimit, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 || n > maxLimit {
		return 0, errors.New("limit must be between 1 and 500")
	}
	return n, nil
}

func toEntryJSON(entries []memory.Entry) []entryJSON {
	out := make([]entryJSON, len(entries))
	for i, e := range entries {
		out[i] = entryJSON{
			ID:         e.ID,
			SessionID:  e.SessionID,
			TurnID:     e.TurnID,
			Role:       string(e.Role),
			Text:       e.Text,
			Timestamp:  e.Timestamp,
			DurationMs: e.Duration.Milliseconds(),
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("history: encode response failed", "err", err)
	}
}

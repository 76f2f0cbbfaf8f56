package session

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"

	"github.com/MrWong99/voiceturn/pkg/provider/vad"
)

// DefaultReadLimit caps a single inbound message.
const DefaultReadLimit = 1 << 20

// ErrShuttingDown is returned by [Manager.Run] after shutdown began.
var ErrShuttingDown = errors.New("session: shutting down")

// Handler accepts WebSocket connections and runs a controller on each.
type Handler struct {
	engine    vad.Engine
	processor Processor
	manager   *Manager
	cfg       Config

	readLimit      int64
	originPatterns []string
	recorder       Recorder
	logger         *slog.Logger
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithReadLimit sets the maximum inbound message size in bytes.
func WithReadLimit(n int64) HandlerOption {
	return func(h *Handler) { h.readLimit = n }
}

// WithOriginPatterns allows cross-origin connections from hosts matching
// patterns. See [websocket.AcceptOptions].
func WithOriginPatterns(patterns ...string) HandlerOption {
	return func(h *Handler) { h.originPatterns = patterns }
}

// WithTurnRecorder sets the Recorder passed to every controller.
func WithTurnRecorder(r Recorder) HandlerOption {
	return func(h *Handler) { h.recorder = r }
}

// WithHandlerLogger sets the logger. Defaults to slog.Default().
func WithHandlerLogger(l *slog.Logger) HandlerOption {
	return func(h *Handler) { h.logger = l }
}

// NewHandler creates a Handler. Every connection gets its own classifier
// from engine and shares p.
func NewHandler(engine vad.Engine, p Processor, m *Manager, cfg Config, opts ...HandlerOption) (*Handler, error) {
	if engine == nil {
		return nil, errors.New("session: vad engine must not be nil")
	}
	if p == nil {
		return nil, errors.New("session: processor must not be nil")
	}
	if m == nil {
		return nil, errors.New("session: manager must not be nil")
	}
	h := &Handler{
		engine:    engine,
		processor: p,
		manager:   m,
		cfg:       cfg.withDefaults(),
		readLimit: DefaultReadLimit,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(h)
	}
	return h, nil
}

// ServeHTTP upgrades the request and blocks until the session ends.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		// Accept already wrote the error response.
		h.logger.Warn("session: websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(h.readLimit)

	classifier, err := h.engine.NewClassifier(h.cfg.VADConfig())
	if err != nil {
		h.logger.Error("session: create vad classifier", "err", err)
		conn.Close(websocket.StatusInternalError, "voice activity detection unavailable")
		return
	}
	defer classifier.Close()

	opts := []Option{WithLogger(h.logger)}
	if h.recorder != nil {
		opts = append(opts, WithRecorder(h.recorder))
	}
	ctrl, err := NewController(conn, classifier, h.processor, h.cfg, opts...)
	if err != nil {
		h.logger.Error("session: create controller", "err", err)
		conn.Close(websocket.StatusInternalError, "session setup failed")
		return
	}

	err = h.manager.Run(r.Context(), ctrl)
	switch {
	case err == nil:
		conn.Close(websocket.StatusNormalClosure, "")
	case errors.Is(err, ErrShuttingDown), errors.Is(err, context.Canceled):
		conn.Close(websocket.StatusGoingAway, "server shutting down")
	default:
		h.logger.Warn("session: ended with error", "session_id", ctrl.ID(), "err", err)
		conn.Close(websocket.StatusInternalError, "session error")
	}
}

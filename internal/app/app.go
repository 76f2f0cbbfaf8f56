// Package app wires all voiceturn subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context is cancelled, and Shutdown
// tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithSessionStore, WithSemanticIndex, WithMetrics). When an option is not
// provided, New creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voiceturn/internal/activity"
	"github.com/MrWong99/voiceturn/internal/config"
	"github.com/MrWong99/voiceturn/internal/health"
	"github.com/MrWong99/voiceturn/internal/history"
	"github.com/MrWong99/voiceturn/internal/observe"
	"github.com/MrWong99/voiceturn/internal/pipeline"
	"github.com/MrWong99/voiceturn/internal/session"
	"github.com/MrWong99/voiceturn/internal/vocabulary"
	"github.com/MrWong99/voiceturn/pkg/audio"
	"github.com/MrWong99/voiceturn/pkg/memory"
	"github.com/MrWong99/voiceturn/pkg/memory/postgres"
)

// App owns all subsystem lifetimes and serves the voice-turn endpoint.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics

	// Subsystems, initialised in New and torn down in Shutdown.
	sessions memory.SessionStore
	index    memory.SemanticIndex
	pipeline *pipeline.Orchestrator
	recorder *history.Recorder
	manager  *session.Manager
	health   *health.Handler
	handler  http.Handler
	checkers []health.Checker

	srvMu  sync.Mutex
	server *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
	stopErr  error
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSessionStore injects a session store instead of connecting to the
// configured PostgreSQL database.
func WithSessionStore(s memory.SessionStore) Option {
	return func(a *App) { a.sessions = s }
}

// WithSemanticIndex injects a semantic index. It is only used together with
// a session store and an embeddings provider.
func WithSemanticIndex(idx memory.SemanticIndex) Option {
	return func(a *App) { a.index = idx }
}

// WithMetrics replaces the global metrics instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers come
// from main.go (populated via the config registry).
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config must not be nil")
	}
	if providers == nil {
		return nil, errors.New("app: providers must not be nil")
	}
	if providers.VAD == nil || providers.STT == nil || providers.LLM == nil || providers.TTS == nil {
		return nil, errors.New("app: vad, stt, llm and tts providers are required")
	}

	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Memory store ──────────────────────────────────────────────────
	if err := a.initMemory(ctx); err != nil {
		return nil, fmt.Errorf("app: init memory: %w", err)
	}

	// ── 2. Pipeline ──────────────────────────────────────────────────────
	if err := a.initPipeline(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init pipeline: %w", err)
	}

	// ── 3. Sessions + routes ─────────────────────────────────────────────
	if err := a.initHTTP(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init http: %w", err)
	}

	slog.Info("app initialised",
		"stt", providers.STTName,
		"llm", providers.LLMName,
		"tts", providers.TTSName,
		"history", a.sessions != nil,
		"similarity", a.index != nil && providers.Embeddings != nil,
	)
	return a, nil
}

// initMemory connects to PostgreSQL unless a store was injected. Without a
// DSN the server runs without turn history.
func (a *App) initMemory(ctx context.Context) error {
	if a.sessions != nil {
		return nil
	}
	dsn := a.cfg.Memory.PostgresDSN
	if dsn == "" {
		slog.Info("no postgres dsn configured, turn history disabled")
		return nil
	}

	store, err := postgres.NewStore(ctx, dsn, a.cfg.Memory.EmbeddingDimensions)
	if err != nil {
		return err
	}
	a.sessions = store.Sessions()
	if a.index == nil {
		a.index = store.Index()
	}
	a.checkers = append(a.checkers, health.Checker{Name: "postgres", Check: store.Ping})
	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})
	slog.Info("connected to postgres", "embedding_dimensions", a.cfg.Memory.EmbeddingDimensions)
	return nil
}

func (a *App) initPipeline() error {
	turn := a.cfg.Turn
	opts := []pipeline.Option{
		pipeline.WithTimeouts(pipeline.Timeouts{
			STT: turn.STTTimeout,
			LLM: turn.LLMTimeout,
			TTS: turn.TTSTimeout,
		}),
		pipeline.WithProviderNames(a.providers.STTName, a.providers.LLMName, a.providers.TTSName),
		pipeline.WithMetrics(a.metrics),
	}
	if turn.SystemPrompt != "" {
		opts = append(opts, pipeline.WithSystemPrompt(turn.SystemPrompt))
	}
	opts = append(opts, pipeline.WithTemperature(turn.Temperature))
	if turn.MaxTokens > 0 {
		opts = append(opts, pipeline.WithMaxTokens(turn.MaxTokens))
	}
	if turn.Language != "" {
		opts = append(opts, pipeline.WithLanguage(turn.Language))
	}
	if turn.Voice != "" {
		opts = append(opts, pipeline.WithVoice(turn.Voice))
	}
	if len(turn.Vocabulary) > 0 {
		vocab := vocabulary.New(turn.Vocabulary)
		opts = append(opts, pipeline.WithTranscriptCorrector(vocab))
		slog.Info("transcript vocabulary enabled", "terms", vocab.Len())
	}

	p, err := pipeline.New(a.providers.STT, a.providers.LLM, a.providers.TTS, opts...)
	if err != nil {
		return err
	}
	a.pipeline = p
	return nil
}

// sessionConfig maps the loaded config onto per-connection settings.
func (a *App) sessionConfig() session.Config {
	return session.Config{
		Format: audio.Format{
			SampleRate: a.cfg.Audio.SampleRate,
			FrameMs:    a.cfg.Audio.FrameMs,
		},
		Activity: activity.Config{
			MinSpeechFrames:  a.cfg.VAD.MinSpeechFrames,
			MaxSilenceFrames: a.cfg.VAD.MaxSilenceFrames,
		},
		SilenceDuration: a.cfg.Turn.SilenceDuration,
		QueueSize:       a.cfg.Turn.QueueSize,
		RecordTimeout:   a.cfg.Memory.RecordTimeout,
	}
}

func (a *App) initHTTP() error {
	mux := http.NewServeMux()

	var hopts []session.HandlerOption
	if a.cfg.Server.ReadLimitBytes > 0 {
		hopts = append(hopts, session.WithReadLimit(a.cfg.Server.ReadLimitBytes))
	}
	if len(a.cfg.Server.AllowedOrigins) > 0 {
		hopts = append(hopts, session.WithOriginPatterns(a.cfg.Server.AllowedOrigins...))
	}

	if a.sessions != nil {
		var ropts []history.RecorderOption
		if a.index != nil && a.providers.Embeddings != nil {
			ropts = append(ropts, history.WithSemanticIndex(a.index, a.providers.Embeddings))
		}
		rec, err := history.NewRecorder(a.sessions, ropts...)
		if err != nil {
			return err
		}
		a.recorder = rec
		hopts = append(hopts, session.WithTurnRecorder(rec))
		history.NewAPI(a.sessions, a.index, a.providers.Embeddings).Register(mux)
	}

	a.manager = session.NewManager(a.metrics)
	ws, err := session.NewHandler(a.providers.VAD, a.pipeline, a.manager, a.sessionConfig(), hopts...)
	if err != nil {
		return err
	}
	mux.Handle("GET /ws", ws)

	vadCfg := a.sessionConfig().VADConfig()
	a.checkers = append(a.checkers, health.Checker{
		Name: "vad",
		Check: func(context.Context) error {
			c, err := a.providers.VAD.NewClassifier(vadCfg)
			if err != nil {
				return err
			}
			return c.Close()
		},
	})
	a.health = health.New(a.checkers...)
	a.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	a.handler = observe.Middleware(a.metrics)(mux)
	return nil
}

// Handler returns the root HTTP handler with all routes and middleware.
func (a *App) Handler() http.Handler { return a.handler }

// ActiveSessions reports the number of connections currently running.
func (a *App) ActiveSessions() int { return a.manager.Active() }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run listens on the configured address and serves until ctx is cancelled
// or the server fails. Cancellation triggers Shutdown bounded by the
// configured shutdown timeout.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen on %s: %w", a.cfg.Server.ListenAddr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is like Run but accepts connections on ln.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	a.srvMu.Lock()
	a.server = srv
	a.srvMu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("listening", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = srv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		timeout := a.cfg.Server.ShutdownTimeout
		if timeout <= 0 {
			timeout = config.DefaultShutdownTimeout
		}
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		return a.Shutdown(sctx)
	})
	return g.Wait()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in order: readiness flips to draining,
// live sessions are cancelled and awaited, the HTTP server stops, and the
// closers run. If ctx expires first the remaining steps are skipped and the
// context error is returned. Safe to call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "active_sessions", a.manager.Active(), "closers", len(a.closers))
		a.health.SetDraining(true)

		if err := a.manager.Shutdown(ctx); err != nil {
			slog.Warn("sessions did not finish before deadline", "err", err)
			a.stopErr = err
		}

		a.srvMu.Lock()
		srv := a.server
		a.srvMu.Unlock()
		if srv != nil {
			if err := srv.Shutdown(ctx); err != nil {
				slog.Warn("http server shutdown error", "err", err)
				a.stopErr = errors.Join(a.stopErr, err)
			}
		}

		if ctx.Err() != nil {
			slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers))
			a.stopErr = errors.Join(a.stopErr, ctx.Err())
			return
		}
		a.closeAll()
		slog.Info("shutdown complete")
	})
	return a.stopErr
}

func (a *App) closeAll() {
	for i, closer := range a.closers {
		if err := closer(); err != nil {
			slog.Warn("closer error", "index", i, "err", err)
		}
	}
	a.closers = nil
}

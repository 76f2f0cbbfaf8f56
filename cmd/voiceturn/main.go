// Command voiceturn serves the real-time voice-turn WebSocket endpoint.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/MrWong99/voiceturn/internal/app"
	"github.com/MrWong99/voiceturn/internal/config"
	"github.com/MrWong99/voiceturn/internal/observe"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	watch := flag.Bool("watch", true, "reload the log level when the config file changes")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voiceturn: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voiceturn: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.Level())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("voiceturn starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Config watcher ────────────────────────────────────────────────────────
	if *watch {
		w, err := config.NewWatcher(*configPath, func(d config.ConfigDiff, _ *config.Config) {
			if d.LogLevelChanged {
				level.Set(d.NewLogLevel.Level())
				slog.Info("log level changed", "level", d.NewLogLevel)
			}
			if len(d.RestartRequired) > 0 {
				slog.Warn("config changed, restart to apply", "sections", d.RestartRequired)
			}
		})
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			defer w.Stop()
		}
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.Setup(ctx, observe.TelemetryConfig{
		ServiceName:      cfg.Observability.ServiceName,
		ServiceVersion:   version,
		TraceSampleRatio: cfg.Observability.TraceSampleRatio,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics, err := tel.Metrics()
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	app.RegisterBuiltinProviders(reg)

	providers, err := app.BuildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers, app.WithMetrics(metrics))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// Run shuts the application down itself once ctx is cancelled.
	if err := application.Run(ctx); err != nil {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Startup summary ──────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("voiceturn startup summary")
	printProvider("VAD", cfg.Providers.VAD)
	printProvider("STT", cfg.Providers.STT)
	printProvider("LLM", cfg.Providers.LLM)
	printProvider("TTS", cfg.Providers.TTS)
	printProvider("Embeddings", cfg.Providers.Embeddings)
	history := "disabled"
	if cfg.Memory.PostgresDSN != "" {
		history = "postgres"
	}
	fmt.Printf("  %-11s %s\n", "History", history)
	fmt.Printf("  %-11s %d Hz / %d ms frames\n", "Audio", cfg.Audio.SampleRate, cfg.Audio.FrameMs)
}

func printProvider(kind string, entry config.ProviderEntry) {
	if entry.Name == "" {
		fmt.Printf("  %-11s (not configured)\n", kind)
		return
	}
	line := entry.Name
	if entry.Model != "" {
		line += " / " + entry.Model
	}
	for _, fb := range entry.Fallbacks {
		line += " -> " + fb.Name
	}
	fmt.Printf("  %-11s %s\n", kind, line)
}

package app

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/voiceturn/internal/config"
	"github.com/MrWong99/voiceturn/internal/resilience"
	"github.com/MrWong99/voiceturn/pkg/provider/embeddings"
	ollamaembed "github.com/MrWong99/voiceturn/pkg/provider/embeddings/ollama"
	oaembed "github.com/MrWong99/voiceturn/pkg/provider/embeddings/openai"
	"github.com/MrWong99/voiceturn/pkg/provider/llm"
	"github.com/MrWong99/voiceturn/pkg/provider/llm/anyllm"
	oallm "github.com/MrWong99/voiceturn/pkg/provider/llm/openai"
	"github.com/MrWong99/voiceturn/pkg/provider/stt"
	"github.com/MrWong99/voiceturn/pkg/provider/stt/deepgram"
	oastt "github.com/MrWong99/voiceturn/pkg/provider/stt/openai"
	"github.com/MrWong99/voiceturn/pkg/provider/stt/whisper"
	"github.com/MrWong99/voiceturn/pkg/provider/tts"
	"github.com/MrWong99/voiceturn/pkg/provider/tts/coqui"
	"github.com/MrWong99/voiceturn/pkg/provider/tts/elevenlabs"
	oatts "github.com/MrWong99/voiceturn/pkg/provider/tts/openai"
	"github.com/MrWong99/voiceturn/pkg/provider/vad"
	"github.com/MrWong99/voiceturn/pkg/provider/vad/energy"
)

// Providers holds one value per provider slot. Embeddings may be nil; the
// others are required by [New].
type Providers struct {
	VAD        vad.Engine
	STT        stt.Provider
	LLM        llm.Provider
	TTS        tts.Provider
	Embeddings embeddings.Provider

	// Names label the pipeline providers in metrics. Missing names are
	// reported as "unknown".
	STTName string
	LLMName string
	TTSName string
}

// ── Registration ────────────────────────────────────────────────────────────

// RegisterBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the provider
// from the implementation packages.
func RegisterBuiltinProviders(reg *config.Registry) {
	// ── VAD ──────────────────────────────────────────────────────────────────
	reg.RegisterVAD("energy", func(entry config.ProviderEntry) (vad.Engine, error) {
		var opts []energy.Option
		if th, ok := optFloat(entry.Options, "threshold"); ok {
			opts = append(opts, energy.WithThreshold(th))
		}
		return energy.New(opts...), nil
	})

	// ── STT ──────────────────────────────────────────────────────────────────
	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []oastt.Option
		if entry.BaseURL != "" {
			opts = append(opts, oastt.WithBaseURL(entry.BaseURL))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, oastt.WithLanguage(lang))
		}
		return oastt.New(entry.APIKey, entry.Model, opts...)
	})

	// ── LLM ──────────────────────────────────────────────────────────────────
	// openai goes through the official SDK; every other vendor goes through
	// any-llm and shares the same pattern: optional APIKey + optional BaseURL.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oallm.WithOrganization(org))
		}
		return oallm.New(entry.APIKey, entry.Model, opts...)
	})

	for _, providerName := range []string{
		"anthropic", "gemini", "ollama",
		"deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ── TTS ──────────────────────────────────────────────────────────────────
	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(entry.BaseURL))
		}
		if outputFmt := optString(entry.Options, "output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		if voice := optString(entry.Options, "voice"); voice != "" {
			opts = append(opts, elevenlabs.WithVoice(voice))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if mode := optString(entry.Options, "api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		if voice := optString(entry.Options, "voice"); voice != "" {
			opts = append(opts, coqui.WithVoice(voice))
		}
		if rate, ok := optFloat(entry.Options, "output_sample_rate"); ok {
			opts = append(opts, coqui.WithOutputSampleRate(int(rate)))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []oatts.Option
		if entry.BaseURL != "" {
			opts = append(opts, oatts.WithBaseURL(entry.BaseURL))
		}
		if voice := optString(entry.Options, "voice"); voice != "" {
			opts = append(opts, oatts.WithVoice(voice))
		}
		if rate, ok := optFloat(entry.Options, "output_sample_rate"); ok {
			opts = append(opts, oatts.WithOutputSampleRate(int(rate)))
		}
		return oatts.New(entry.APIKey, entry.Model, opts...)
	})

	// ── Embeddings ───────────────────────────────────────────────────────────
	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		if dims, ok := optFloat(entry.Options, "dimensions"); ok {
			opts = append(opts, oaembed.WithDimensions(int(dims)))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterEmbeddings("ollama", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []ollamaembed.Option
		if dims, ok := optFloat(entry.Options, "dimensions"); ok {
			opts = append(opts, ollamaembed.WithDimensions(int(dims)))
		}
		return ollamaembed.New(entry.BaseURL, entry.Model, opts...)
	})
}

// ── Construction ────────────────────────────────────────────────────────────

// fallbackConfig opens a provider's breaker after three consecutive
// failures and probes it again after a minute.
var fallbackConfig = resilience.FallbackConfig{
	CircuitBreaker: resilience.CircuitBreakerConfig{
		MaxFailures:  3,
		ResetTimeout: time.Minute,
		HalfOpenMax:  1,
	},
}

// BuildProviders instantiates every provider named in cfg using reg. STT,
// LLM and TTS entries with fallbacks are wrapped in circuit-breaking
// fallback groups.
func BuildProviders(cfg *config.Config, reg *config.Registry) (*Providers, error) {
	ps := &Providers{
		STTName: cfg.Providers.STT.Name,
		LLMName: cfg.Providers.LLM.Name,
		TTSName: cfg.Providers.TTS.Name,
	}
	var err error

	if ps.VAD, err = reg.CreateVAD(cfg.Providers.VAD); err != nil {
		return nil, fmt.Errorf("create vad provider %q: %w", cfg.Providers.VAD.Name, err)
	}

	ps.STT, err = withFallbacks(cfg.Providers.STT, "stt", reg.CreateSTT, func(p stt.Provider, name string) fallbackAdder[stt.Provider] {
		return resilience.NewSTTFallback(p, name, fallbackConfig)
	})
	if err != nil {
		return nil, err
	}
	ps.LLM, err = withFallbacks(cfg.Providers.LLM, "llm", reg.CreateLLM, func(p llm.Provider, name string) fallbackAdder[llm.Provider] {
		return resilience.NewLLMFallback(p, name, fallbackConfig)
	})
	if err != nil {
		return nil, err
	}
	ps.TTS, err = withFallbacks(cfg.Providers.TTS, "tts", reg.CreateTTS, func(p tts.Provider, name string) fallbackAdder[tts.Provider] {
		return resilience.NewTTSFallback(p, name, fallbackConfig)
	})
	if err != nil {
		return nil, err
	}

	if entry := cfg.Providers.Embeddings; entry.Name != "" {
		p, err := reg.CreateEmbeddings(entry)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("embeddings provider not registered, similarity search disabled", "name", entry.Name)
		} else if err != nil {
			return nil, fmt.Errorf("create embeddings provider %q: %w", entry.Name, err)
		} else {
			ps.Embeddings = p
			slog.Info("provider created", "kind", "embeddings", "name", entry.Name, "model", p.ModelID())
		}
	}
	return ps, nil
}

// fallbackAdder is implemented by the resilience wrappers.
type fallbackAdder[T any] interface {
	AddFallback(name string, provider T)
}

// withFallbacks creates the provider for entry and, when the entry lists
// fallbacks, wraps it together with them. wrap must return a value that
// also implements T.
func withFallbacks[T any](
	entry config.ProviderEntry,
	kind string,
	create func(config.ProviderEntry) (T, error),
	wrap func(T, string) fallbackAdder[T],
) (T, error) {
	var zero T
	primary, err := create(entry)
	if err != nil {
		return zero, fmt.Errorf("create %s provider %q: %w", kind, entry.Name, err)
	}
	slog.Info("provider created", "kind", kind, "name", entry.Name, "model", entry.Model)
	if len(entry.Fallbacks) == 0 {
		return primary, nil
	}

	group := wrap(primary, entry.Name)
	for i, fb := range entry.Fallbacks {
		p, err := create(fb)
		if err != nil {
			return zero, fmt.Errorf("create %s fallback %d %q: %w", kind, i, fb.Name, err)
		}
		group.AddFallback(fb.Name, p)
		slog.Info("provider fallback added", "kind", kind, "name", fb.Name, "position", i+1)
	}
	wrapped, ok := group.(T)
	if !ok {
		return zero, fmt.Errorf("%s fallback group does not implement the provider interface", kind)
	}
	return wrapped, nil
}

// ── Helpers ─────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optFloat extracts a number from a provider Options map. YAML integers
// decode as int, decimals as float64; both are accepted.
func optFloat(opts map[string]any, key string) (float64, bool) {
	switch v := opts[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

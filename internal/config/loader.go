package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"vad":        {"energy"},
	"stt":        {"whisper", "deepgram", "openai"},
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"tts":        {"elevenlabs", "coqui", "openai"},
	"embeddings": {"openai", "ollama"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. ${VAR} references are replaced with environment
// values before decoding; unset variables expand to "". An empty document
// yields the default config.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	cfg := &Config{}
	dec := yaml.NewDecoder(strings.NewReader(os.ExpandEnv(string(raw))))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. It expects
// defaults to have been applied and returns a joined error listing every
// failure found.
func Validate(cfg *Config) error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	// Server
	if !cfg.Server.LogLevel.IsValid() {
		fail("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel)
	}
	if cfg.Server.ListenAddr == "" {
		fail("server.listen_addr is required")
	}
	if cfg.Server.ReadLimitBytes <= 0 {
		fail("server.read_limit_bytes must be positive, got %d", cfg.Server.ReadLimitBytes)
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		fail("server.tls requires both cert_file and key_file")
	}

	// Audio
	a := cfg.Audio
	if a.SampleRate <= 0 {
		fail("audio.sample_rate must be positive, got %d", a.SampleRate)
	}
	if a.FrameMs <= 0 {
		fail("audio.frame_ms must be positive, got %d", a.FrameMs)
	} else if a.SampleRate > 0 && a.SampleRate*a.FrameMs%1000 != 0 {
		fail("audio: %d ms frames at %d Hz do not hold a whole number of samples", a.FrameMs, a.SampleRate)
	}

	// VAD
	if cfg.VAD.MinSpeechFrames <= 0 {
		fail("vad.min_speech_frames must be positive, got %d", cfg.VAD.MinSpeechFrames)
	}
	if cfg.VAD.MaxSilenceFrames <= 0 {
		fail("vad.max_silence_frames must be positive, got %d", cfg.VAD.MaxSilenceFrames)
	}

	// Turn
	t := cfg.Turn
	if t.SilenceDuration <= 0 {
		fail("turn.silence_duration must be positive, got %s", t.SilenceDuration)
	}
	if t.Temperature < 0 || t.Temperature > 2 {
		fail("turn.temperature %.2f is out of range [0, 2]", t.Temperature)
	}
	if t.MaxTokens < 0 {
		fail("turn.max_tokens must not be negative, got %d", t.MaxTokens)
	}
	if t.STTTimeout < 0 || t.LLMTimeout < 0 || t.TTSTimeout < 0 {
		fail("turn timeouts must not be negative")
	}
	if t.QueueSize <= 0 {
		fail("turn.queue_size must be positive, got %d", t.QueueSize)
	}

	// Providers
	p := cfg.Providers
	for _, req := range []struct {
		kind  string
		entry ProviderEntry
	}{{"stt", p.STT}, {"llm", p.LLM}, {"tts", p.TTS}} {
		if req.entry.Name == "" {
			fail("providers.%s.name is required", req.kind)
		}
		errs = append(errs, validateEntry(req.kind, req.entry, true)...)
	}
	errs = append(errs, validateEntry("vad", p.VAD, false)...)
	errs = append(errs, validateEntry("embeddings", p.Embeddings, false)...)

	// Memory
	if p.Embeddings.Name != "" {
		if cfg.Memory.PostgresDSN == "" {
			slog.Warn("providers.embeddings is configured but memory.postgres_dsn is empty; similarity search is disabled")
		} else if cfg.Memory.EmbeddingDimensions <= 0 {
			fail("memory.embedding_dimensions must be positive when embeddings are configured, got %d", cfg.Memory.EmbeddingDimensions)
		}
	}
	if cfg.Memory.RecordTimeout < 0 {
		fail("memory.record_timeout must not be negative")
	}

	// Observability
	if r := cfg.Observability.TraceSampleRatio; r < 0 || r > 1 {
		fail("observability.trace_sample_ratio %.2f is out of range [0, 1]", r)
	}

	return errors.Join(errs...)
}

// validateEntry checks the fallbacks of entry and warns about unknown
// provider names.
func validateEntry(kind string, entry ProviderEntry, fallbacksAllowed bool) []error {
	validateProviderName(kind, entry.Name)
	if len(entry.Fallbacks) == 0 {
		return nil
	}
	if !fallbacksAllowed {
		return []error{fmt.Errorf("providers.%s does not support fallbacks", kind)}
	}
	var errs []error
	for i, fb := range entry.Fallbacks {
		prefix := fmt.Sprintf("providers.%s.fallbacks[%d]", kind, i)
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		}
		if len(fb.Fallbacks) > 0 {
			errs = append(errs, fmt.Errorf("%s: nested fallbacks are not allowed", prefix))
		}
		validateProviderName(kind, fb.Name)
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}

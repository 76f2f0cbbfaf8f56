package app_test

import (
	"errors"
	"testing"

	"github.com/MrWong99/voiceturn/internal/app"
	"github.com/MrWong99/voiceturn/internal/config"
	"github.com/MrWong99/voiceturn/internal/resilience"
	"github.com/MrWong99/voiceturn/pkg/provider/embeddings"
	embmock "github.com/MrWong99/voiceturn/pkg/provider/embeddings/mock"
	"github.com/MrWong99/voiceturn/pkg/provider/llm"
	llmmock "github.com/MrWong99/voiceturn/pkg/provider/llm/mock"
	"github.com/MrWong99/voiceturn/pkg/provider/stt"
	sttmock "github.com/MrWong99/voiceturn/pkg/provider/stt/mock"
	"github.com/MrWong99/voiceturn/pkg/provider/tts"
	ttsmock "github.com/MrWong99/voiceturn/pkg/provider/tts/mock"
	"github.com/MrWong99/voiceturn/pkg/provider/vad"
	"github.com/MrWong99/voiceturn/pkg/provider/vad/energy"
	vadmock "github.com/MrWong99/voiceturn/pkg/provider/vad/mock"
)

func mockRegistry() *config.Registry {
	reg := config.NewRegistry()
	reg.RegisterVAD("energy", func(config.ProviderEntry) (vad.Engine, error) { return &vadmock.Engine{}, nil })
	for _, name := range []string{"primary", "backup"} {
		reg.RegisterSTT(name, func(config.ProviderEntry) (stt.Provider, error) { return &sttmock.Provider{}, nil })
		reg.RegisterLLM(name, func(config.ProviderEntry) (llm.Provider, error) { return &llmmock.Provider{}, nil })
		reg.RegisterTTS(name, func(config.ProviderEntry) (tts.Provider, error) { return &ttsmock.Provider{}, nil })
	}
	reg.RegisterEmbeddings("primary", func(config.ProviderEntry) (embeddings.Provider, error) {
		return &embmock.Provider{Dims: 8}, nil
	})
	return reg
}

func providerConfig() *config.Config {
	return &config.Config{
		Providers: config.ProvidersConfig{
			VAD: config.ProviderEntry{Name: "energy"},
			STT: config.ProviderEntry{Name: "primary"},
			LLM: config.ProviderEntry{Name: "primary"},
			TTS: config.ProviderEntry{Name: "primary"},
		},
	}
}

func TestBuildProviders_Plain(t *testing.T) {
	t.Parallel()

	ps, err := app.BuildProviders(providerConfig(), mockRegistry())
	if err != nil {
		t.Fatalf("BuildProviders: %v", err)
	}
	if _, ok := ps.STT.(*sttmock.Provider); !ok {
		t.Errorf("STT = %T, want unwrapped mock", ps.STT)
	}
	if ps.Embeddings != nil {
		t.Errorf("Embeddings = %T, want nil", ps.Embeddings)
	}
	if ps.STTName != "primary" || ps.LLMName != "primary" || ps.TTSName != "primary" {
		t.Errorf("names = %q %q %q", ps.STTName, ps.LLMName, ps.TTSName)
	}
}

func TestBuildProviders_Fallbacks(t *testing.T) {
	t.Parallel()

	cfg := providerConfig()
	backup := []config.ProviderEntry{{Name: "backup"}}
	cfg.Providers.STT.Fallbacks = backup
	cfg.Providers.LLM.Fallbacks = backup
	cfg.Providers.TTS.Fallbacks = backup
	cfg.Providers.Embeddings = config.ProviderEntry{Name: "primary"}

	ps, err := app.BuildProviders(cfg, mockRegistry())
	if err != nil {
		t.Fatalf("BuildProviders: %v", err)
	}
	if _, ok := ps.STT.(*resilience.STTFallback); !ok {
		t.Errorf("STT = %T, want *resilience.STTFallback", ps.STT)
	}
	if _, ok := ps.LLM.(*resilience.LLMFallback); !ok {
		t.Errorf("LLM = %T, want *resilience.LLMFallback", ps.LLM)
	}
	if _, ok := ps.TTS.(*resilience.TTSFallback); !ok {
		t.Errorf("TTS = %T, want *resilience.TTSFallback", ps.TTS)
	}
	if ps.Embeddings == nil || ps.Embeddings.Dimensions() != 8 {
		t.Errorf("Embeddings = %v", ps.Embeddings)
	}
}

func TestBuildProviders_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{name: "unknown stt", mutate: func(c *config.Config) { c.Providers.STT.Name = "nope" }},
		{name: "unknown llm fallback", mutate: func(c *config.Config) {
			c.Providers.LLM.Fallbacks = []config.ProviderEntry{{Name: "nope"}}
		}},
		{name: "unknown vad", mutate: func(c *config.Config) { c.Providers.VAD.Name = "silero" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := providerConfig()
			tt.mutate(cfg)
			_, err := app.BuildProviders(cfg, mockRegistry())
			if !errors.Is(err, config.ErrProviderNotRegistered) {
				t.Errorf("err = %v, want ErrProviderNotRegistered", err)
			}
		})
	}
}

func TestBuildProviders_UnregisteredEmbeddingsDisablesSimilarity(t *testing.T) {
	t.Parallel()

	cfg := providerConfig()
	cfg.Providers.Embeddings = config.ProviderEntry{Name: "ollama"}
	ps, err := app.BuildProviders(cfg, mockRegistry())
	if err != nil {
		t.Fatalf("BuildProviders: %v", err)
	}
	if ps.Embeddings != nil {
		t.Errorf("Embeddings = %T, want nil", ps.Embeddings)
	}
}

func TestRegisterBuiltinProviders(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	app.RegisterBuiltinProviders(reg)

	cfg := &config.Config{
		Providers: config.ProvidersConfig{
			VAD: config.ProviderEntry{Name: "energy", Options: map[string]any{"threshold": 0.2}},
			STT: config.ProviderEntry{
				Name:    "whisper",
				BaseURL: "http://localhost:8081",
				Options: map[string]any{"language": "de"},
			},
			LLM: config.ProviderEntry{Name: "openai", APIKey: "sk-test", Model: "gpt-4o-mini"},
			TTS: config.ProviderEntry{
				Name:    "coqui",
				BaseURL: "http://localhost:5002",
				Options: map[string]any{"output_sample_rate": 16000, "voice": "p225"},
				Fallbacks: []config.ProviderEntry{
					{Name: "coqui", BaseURL: "http://localhost:5003"},
				},
			},
			Embeddings: config.ProviderEntry{Name: "ollama", Model: "nomic-embed-text"},
		},
	}
	ps, err := app.BuildProviders(cfg, reg)
	if err != nil {
		t.Fatalf("BuildProviders: %v", err)
	}
	eng, ok := ps.VAD.(*energy.Engine)
	if !ok {
		t.Fatalf("VAD = %T, want *energy.Engine", ps.VAD)
	}

	// A frame at RMS 0.1 is speech for the default threshold but not for 0.2.
	c, err := eng.NewClassifier(vad.Config{SampleRate: 16000, FrameSizeMs: 30})
	if err != nil {
		t.Fatalf("NewClassifier: %v", err)
	}
	defer c.Close()
	frame := make([]byte, 960)
	for i := 0; i < len(frame); i += 2 {
		v := int16(3277)
		frame[i] = byte(v)
		frame[i+1] = byte(v >> 8)
	}
	if speech, err := c.IsSpeech(frame); err != nil || speech {
		t.Errorf("IsSpeech = %v, %v; want false from configured threshold", speech, err)
	}

	if _, ok := ps.TTS.(*resilience.TTSFallback); !ok {
		t.Errorf("TTS = %T, want fallback group", ps.TTS)
	}
	if ps.Embeddings == nil {
		t.Error("Embeddings = nil")
	}
}

func TestRegisterBuiltinProviders_ConstructorErrors(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	app.RegisterBuiltinProviders(reg)

	// whisper needs a server URL.
	if _, err := reg.CreateSTT(config.ProviderEntry{Name: "whisper"}); err == nil {
		t.Error("whisper without base_url: expected error")
	}
	// coqui needs a server URL.
	if _, err := reg.CreateTTS(config.ProviderEntry{Name: "coqui"}); err == nil {
		t.Error("coqui without base_url: expected error")
	}
}

package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/voiceturn/internal/app"
	"github.com/MrWong99/voiceturn/internal/config"
	"github.com/MrWong99/voiceturn/internal/observe"
	"github.com/MrWong99/voiceturn/pkg/memory"
	memorymock "github.com/MrWong99/voiceturn/pkg/memory/mock"
	embmock "github.com/MrWong99/voiceturn/pkg/provider/embeddings/mock"
	"github.com/MrWong99/voiceturn/pkg/provider/llm"
	llmmock "github.com/MrWong99/voiceturn/pkg/provider/llm/mock"
	"github.com/MrWong99/voiceturn/pkg/provider/stt"
	sttmock "github.com/MrWong99/voiceturn/pkg/provider/stt/mock"
	"github.com/MrWong99/voiceturn/pkg/provider/tts"
	ttsmock "github.com/MrWong99/voiceturn/pkg/provider/tts/mock"
	vadmock "github.com/MrWong99/voiceturn/pkg/provider/vad/mock"
)

// testConfig returns a defaulted config with no database.
func testConfig() *config.Config {
	cfg := &config.Config{
		Server: config.ServerConfig{
			ListenAddr: "127.0.0.1:0",
			LogLevel:   config.LogInfo,
		},
		Providers: config.ProvidersConfig{
			STT: config.ProviderEntry{Name: "whisper"},
			LLM: config.ProviderEntry{Name: "openai"},
			TTS: config.ProviderEntry{Name: "openai"},
		},
	}
	config.ApplyDefaults(cfg)
	cfg.Server.ShutdownTimeout = 2 * time.Second
	return cfg
}

// speechScript marks frames 0..4 as speech and everything after as silence.
func speechScript() []bool {
	s := make([]bool, 5)
	for i := range s {
		s[i] = true
	}
	return s
}

func testProviders() *app.Providers {
	return &app.Providers{
		VAD: &vadmock.Engine{Classifier: &vadmock.Classifier{Script: speechScript()}},
		STT: &sttmock.Provider{Transcript: stt.Transcript{Text: "what time is it"}},
		LLM: &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "It is noon."}},
		TTS: &ttsmock.Provider{Speech: tts.Speech{Audio: []byte{1, 2, 3, 4}, Format: "pcm_16000"}},

		STTName: "mock",
		LLMName: "mock",
		TTSName: "mock",
	}
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider()
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	missingSTT := testProviders()
	missingSTT.STT = nil

	tests := []struct {
		name      string
		cfg       *config.Config
		providers *app.Providers
	}{
		{name: "nil config", cfg: nil, providers: testProviders()},
		{name: "nil providers", cfg: testConfig(), providers: nil},
		{name: "missing stt", cfg: testConfig(), providers: missingSTT},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := app.New(context.Background(), tt.cfg, tt.providers); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestNew_Routes(t *testing.T) {
	t.Parallel()

	sessions := &memorymock.SessionStore{}
	a, err := app.New(context.Background(), testConfig(), testProviders(),
		app.WithSessionStore(sessions),
		app.WithMetrics(testMetrics(t)),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Shutdown(context.Background())

	tests := []struct {
		path string
		want int
	}{
		{path: "/healthz", want: http.StatusOK},
		{path: "/readyz", want: http.StatusOK},
		{path: "/metrics", want: http.StatusOK},
		{path: "/api/sessions/abc/entries", want: http.StatusOK},
		{path: "/api/search", want: http.StatusBadRequest},
		{path: "/api/similar?q=hello", want: http.StatusNotImplemented},
		{path: "/ws", want: http.StatusUpgradeRequired},
		{path: "/nope", want: http.StatusNotFound},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
		if rec.Code != tt.want {
			t.Errorf("GET %s = %d, want %d", tt.path, rec.Code, tt.want)
		}
	}
}

func TestNew_WithoutHistory(t *testing.T) {
	t.Parallel()

	a, err := app.New(context.Background(), testConfig(), testProviders(), app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Shutdown(context.Background())

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions/abc/entries", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("history route without a store = %d, want 404", rec.Code)
	}
}

func TestNew_VADReadiness(t *testing.T) {
	t.Parallel()

	p := testProviders()
	p.VAD = &vadmock.Engine{NewClassifierErr: errors.New("model missing")}
	a, err := app.New(context.Background(), testConfig(), p, app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Shutdown(context.Background())

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz = %d, want 503", rec.Code)
	}
}

func TestServe_TurnRecordedAndShutdown(t *testing.T) {
	t.Parallel()

	sessions := &memorymock.SessionStore{}
	index := &memorymock.SemanticIndex{}
	p := testProviders()
	p.Embeddings = &embmock.Provider{Dims: 4}

	a, err := app.New(context.Background(), testConfig(), p,
		app.WithSessionStore(sessions),
		app.WithSemanticIndex(index),
		app.WithMetrics(testMetrics(t)),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, ln) }()

	dctx, dcancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer dcancel()
	conn, _, err := websocket.Dial(dctx, "ws://"+ln.Addr().String()+"/ws", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.CloseNow()

	// 16 kHz, 30 ms, 16-bit mono.
	frame := make([]byte, 960)
	for range 60 {
		if err := conn.Write(dctx, websocket.MessageBinary, frame); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	var texts []map[string]string
	for len(texts) < 4 {
		typ, data, err := conn.Read(dctx)
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		if typ != websocket.MessageText {
			t.Fatalf("binary message before chat_response")
		}
		var m map[string]string
		if err := json.Unmarshal(data, &m); err != nil {
			t.Fatalf("decode: %v", err)
		}
		texts = append(texts, m)
	}
	if texts[2]["text"] != "what time is it" || texts[3]["text"] != "It is noon." {
		t.Errorf("messages = %v", texts)
	}
	typ, data, err := conn.Read(dctx)
	if err != nil || typ != websocket.MessageBinary || len(data) != 4 {
		t.Fatalf("audio = %v %v %v", typ, data, err)
	}

	// Recording runs after the reply is sent.
	deadline := time.Now().Add(5 * time.Second)
	for len(sessions.All()) < 2 || index.Len() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("entries = %d, chunks = %d", len(sessions.All()), index.Len())
		}
		time.Sleep(5 * time.Millisecond)
	}
	entries := sessions.All()
	if entries[0].Role != memory.RoleUser || entries[1].Role != memory.RoleAssistant {
		t.Errorf("roles = %s, %s", entries[0].Role, entries[1].Role)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	if n := a.ActiveSessions(); n != 0 {
		t.Errorf("active sessions after shutdown = %d", n)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
}

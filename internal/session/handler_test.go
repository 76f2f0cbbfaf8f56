package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/voiceturn/internal/pipeline"
	"github.com/MrWong99/voiceturn/pkg/audio"
	"github.com/MrWong99/voiceturn/pkg/provider/llm"
	llmmock "github.com/MrWong99/voiceturn/pkg/provider/llm/mock"
	"github.com/MrWong99/voiceturn/pkg/provider/stt"
	sttmock "github.com/MrWong99/voiceturn/pkg/provider/stt/mock"
	"github.com/MrWong99/voiceturn/pkg/provider/tts"
	ttsmock "github.com/MrWong99/voiceturn/pkg/provider/tts/mock"
	vadmock "github.com/MrWong99/voiceturn/pkg/provider/vad/mock"
)

func newTestOrchestrator(t *testing.T) *pipeline.Orchestrator {
	t.Helper()
	orch, err := pipeline.New(
		&sttmock.Provider{Transcript: stt.Transcript{Text: "hello"}},
		&llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "hi there"}},
		&ttsmock.Provider{Speech: tts.Speech{Audio: []byte{1, 2}, Format: "pcm_16000"}},
	)
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}
	return orch
}

func waitActive(t *testing.T, m *Manager, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for m.Active() != n {
		if time.Now().After(deadline) {
			t.Fatalf("active sessions = %d, want %d", m.Active(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHandler_EndToEnd(t *testing.T) {
	t.Parallel()

	classifier := &vadmock.Classifier{Script: script(0, 5, 50)}
	engine := &vadmock.Engine{Classifier: classifier}
	mgr := NewManager(nil)
	h, err := NewHandler(engine, newTestOrchestrator(t), mgr, Config{}, WithReadLimit(64*1024))
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	srv := httptest.NewServer(h)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.CloseNow()

	frame := pcmFrame(audio.DefaultFormat())
	for range 55 {
		if err := conn.Write(ctx, websocket.MessageBinary, frame); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	wantText := []Message{
		{Type: TypeVAD, Status: StatusActive},
		{Type: TypeVAD, Status: StatusInactive},
		{Type: TypeTranscription, Text: "hello"},
		{Type: TypeChatResponse, Text: "hi there"},
	}
	for i, want := range wantText {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("Read %d: %v", i, err)
		}
		if typ != websocket.MessageText {
			t.Fatalf("message %d type = %v", i, typ)
		}
		var got Message
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got != want {
			t.Errorf("message %d = %+v, want %+v", i, got, want)
		}
	}
	typ, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read audio: %v", err)
	}
	if typ != websocket.MessageBinary || len(data) != 2 {
		t.Errorf("audio message = %v %v", typ, data)
	}

	waitActive(t, mgr, 1)
	if got := engine.NewClassifierCalls; len(got) != 1 || got[0].SampleRate != 16000 || got[0].FrameSizeMs != 30 {
		t.Errorf("classifier config = %+v", got)
	}

	conn.Close(websocket.StatusNormalClosure, "")
	waitActive(t, mgr, 0)
}

func TestHandler_ClassifierError(t *testing.T) {
	t.Parallel()

	engine := &vadmock.Engine{NewClassifierErr: errors.New("model missing")}
	h, err := NewHandler(engine, newTestOrchestrator(t), NewManager(nil), Config{})
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	srv := httptest.NewServer(h)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.CloseNow()

	_, _, err = conn.Read(ctx)
	if websocket.CloseStatus(err) != websocket.StatusInternalError {
		t.Errorf("close status = %v, want internal error", websocket.CloseStatus(err))
	}
}

func TestHandler_RejectsPlainHTTP(t *testing.T) {
	t.Parallel()

	h, err := NewHandler(&vadmock.Engine{}, newTestOrchestrator(t), NewManager(nil), Config{})
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/ws", nil))
	if rec.Code < 400 {
		t.Errorf("status = %d, want client error", rec.Code)
	}
}

func TestNewHandler_Validation(t *testing.T) {
	t.Parallel()

	orch := newTestOrchestrator(t)
	if _, err := NewHandler(nil, orch, NewManager(nil), Config{}); err == nil {
		t.Error("expected error for nil engine")
	}
	if _, err := NewHandler(&vadmock.Engine{}, nil, NewManager(nil), Config{}); err == nil {
		t.Error("expected error for nil processor")
	}
	if _, err := NewHandler(&vadmock.Engine{}, orch, nil, Config{}); err == nil {
		t.Error("expected error for nil manager")
	}
}

func TestManager_ShutdownCancelsSessions(t *testing.T) {
	t.Parallel()

	mgr := NewManager(nil)
	h := newHarness(t, nil)

	done := make(chan error, 1)
	go func() { done <- mgr.Run(context.Background(), h.ctrl) }()
	waitActive(t, mgr, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := mgr.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run = %v, want context.Canceled", err)
	}
	if mgr.Active() != 0 {
		t.Errorf("active = %d after shutdown", mgr.Active())
	}

	if err := mgr.Run(context.Background(), newHarness(t, nil).ctrl); !errors.Is(err, ErrShuttingDown) {
		t.Errorf("Run after shutdown = %v, want ErrShuttingDown", err)
	}
}

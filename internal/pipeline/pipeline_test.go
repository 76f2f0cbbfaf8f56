package pipeline_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/voiceturn/internal/observe"
	"github.com/MrWong99/voiceturn/internal/pipeline"
	"github.com/MrWong99/voiceturn/internal/utterance"
	"github.com/MrWong99/voiceturn/pkg/provider/llm"
	llmmock "github.com/MrWong99/voiceturn/pkg/provider/llm/mock"
	"github.com/MrWong99/voiceturn/pkg/provider/stt"
	sttmock "github.com/MrWong99/voiceturn/pkg/provider/stt/mock"
	"github.com/MrWong99/voiceturn/pkg/provider/tts"
	ttsmock "github.com/MrWong99/voiceturn/pkg/provider/tts/mock"
)

type providers struct {
	stt *sttmock.Provider
	llm *llmmock.Provider
	tts *ttsmock.Provider
}

func healthyProviders() providers {
	return providers{
		stt: &sttmock.Provider{Transcript: stt.Transcript{Text: " What time is it? "}},
		llm: &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "It is noon."}},
		tts: &ttsmock.Provider{Speech: tts.Speech{Audio: []byte{1, 2, 3, 4}, Format: "pcm_16000"}},
	}
}

func newOrchestrator(t *testing.T, p providers, opts ...pipeline.Option) *pipeline.Orchestrator {
	t.Helper()
	o, err := pipeline.New(p.stt, p.llm, p.tts, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return o
}

func testTurn() utterance.Turn {
	return utterance.Turn{
		ID:         "turn-1",
		Audio:      make([]byte, 960*10),
		SampleRate: 16000,
		Frames:     10,
		CapturedAt: time.Now(),
	}
}

func TestProcess_AllStages(t *testing.T) {
	t.Parallel()

	p := healthyProviders()
	res := newOrchestrator(t, p).Process(context.Background(), testTurn())

	if res.Transcript != "What time is it?" {
		t.Errorf("Transcript = %q", res.Transcript)
	}
	if res.Reply != "It is noon." {
		t.Errorf("Reply = %q", res.Reply)
	}
	if !res.HasAudio() {
		t.Errorf("audio = %v", res.Audio)
	}
	if len(res.Errs) != 0 {
		t.Errorf("Errs = %v", res.Errs)
	}
	if res.Outcome() != observe.OutcomeComplete {
		t.Errorf("Outcome = %q", res.Outcome())
	}

	sttReq := p.stt.Calls()[0].Req
	if sttReq.SampleRate != 16000 || sttReq.ChannelCount() != 1 || len(sttReq.Audio) != 9600 {
		t.Errorf("stt request = rate %d, channels %d, %d bytes", sttReq.SampleRate, sttReq.ChannelCount(), len(sttReq.Audio))
	}

	req := p.llm.Calls()[0].Req
	if req.SystemPrompt != pipeline.DefaultSystemPrompt {
		t.Errorf("SystemPrompt = %q", req.SystemPrompt)
	}
	if req.Temperature != 0 {
		t.Errorf("Temperature = %g, want 0", req.Temperature)
	}
	if len(req.Messages) != 1 || req.Messages[0].Role != llm.RoleUser || req.Messages[0].Content != "What time is it?" {
		t.Errorf("Messages = %+v", req.Messages)
	}

	if got := p.tts.Calls()[0].Req.Text; got != "It is noon." {
		t.Errorf("tts text = %q", got)
	}
}

func TestProcess_StageIsolation(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	tests := []struct {
		name        string
		mutate      func(p *providers)
		failedStage pipeline.Stage
		transcript  bool
		reply       bool
		llmCalls    int
		ttsCalls    int
	}{
		{
			name:        "stt error",
			mutate:      func(p *providers) { p.stt.Err = boom },
			failedStage: pipeline.StageSTT,
		},
		{
			name:        "empty transcript",
			mutate:      func(p *providers) { p.stt.Transcript = stt.Transcript{Text: "   "} },
			failedStage: pipeline.StageSTT,
		},
		{
			name:        "llm error",
			mutate:      func(p *providers) { p.llm.CompleteErr = boom },
			failedStage: pipeline.StageLLM,
			transcript:  true,
			llmCalls:    1,
		},
		{
			name:        "empty reply",
			mutate:      func(p *providers) { p.llm.CompleteResponse = &llm.CompletionResponse{} },
			failedStage: pipeline.StageLLM,
			transcript:  true,
			llmCalls:    1,
		},
		{
			name:        "tts error",
			mutate:      func(p *providers) { p.tts.Err = boom },
			failedStage: pipeline.StageTTS,
			transcript:  true,
			reply:       true,
			llmCalls:    1,
			ttsCalls:    1,
		},
		{
			name:        "tts no audio",
			mutate:      func(p *providers) { p.tts.Speech = tts.Speech{} },
			failedStage: pipeline.StageTTS,
			transcript:  true,
			reply:       true,
			llmCalls:    1,
			ttsCalls:    1,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p := healthyProviders()
			tc.mutate(&p)

			res := newOrchestrator(t, p).Process(context.Background(), testTurn())

			if res.HasTranscript() != tc.transcript {
				t.Errorf("HasTranscript = %v, want %v", res.HasTranscript(), tc.transcript)
			}
			if res.HasReply() != tc.reply {
				t.Errorf("HasReply = %v, want %v", res.HasReply(), tc.reply)
			}
			if res.HasAudio() {
				t.Error("HasAudio = true, want false")
			}
			if res.Errs[tc.failedStage] == nil {
				t.Errorf("Errs[%s] = nil, Errs = %v", tc.failedStage, res.Errs)
			}
			if len(res.Errs) != 1 {
				t.Errorf("want exactly one stage error, got %v", res.Errs)
			}
			if got := len(p.llm.Calls()); got != tc.llmCalls {
				t.Errorf("llm calls = %d, want %d", got, tc.llmCalls)
			}
			if got := len(p.tts.Calls()); got != tc.ttsCalls {
				t.Errorf("tts calls = %d, want %d", got, tc.ttsCalls)
			}
		})
	}
}

func TestProcess_StageTimeout(t *testing.T) {
	t.Parallel()

	p := healthyProviders()
	p.llm.Block = true
	o := newOrchestrator(t, p, pipeline.WithTimeouts(pipeline.Timeouts{LLM: 20 * time.Millisecond}))

	res := o.Process(context.Background(), testTurn())
	if !errors.Is(res.Errs[pipeline.StageLLM], context.DeadlineExceeded) {
		t.Fatalf("llm err = %v, want deadline exceeded", res.Errs[pipeline.StageLLM])
	}
	if !res.HasTranscript() || res.HasReply() {
		t.Errorf("result = %+v", res)
	}
}

func TestProcess_CancelledContextSkipsStages(t *testing.T) {
	t.Parallel()

	p := healthyProviders()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := newOrchestrator(t, p).Process(ctx, testTurn())
	if res.HasTranscript() {
		t.Error("transcript produced for cancelled turn")
	}
	if len(p.stt.Calls()) != 0 {
		t.Error("stt called with cancelled context")
	}
}

func TestProcess_Options(t *testing.T) {
	t.Parallel()

	p := healthyProviders()
	o := newOrchestrator(t, p,
		pipeline.WithSystemPrompt("Answer in German."),
		pipeline.WithTemperature(0.7),
		pipeline.WithMaxTokens(64),
		pipeline.WithLanguage("de"),
		pipeline.WithVoice("rachel"),
	)
	o.Process(context.Background(), testTurn())

	req := p.llm.Calls()[0].Req
	if req.SystemPrompt != "Answer in German." || req.Temperature != 0.7 || req.MaxTokens != 64 {
		t.Errorf("llm request = %+v", req)
	}
	if got := p.stt.Calls()[0].Req.Language; got != "de" {
		t.Errorf("language = %q", got)
	}
	if got := p.tts.Calls()[0].Req.VoiceID; got != "rachel" {
		t.Errorf("voice = %q", got)
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	p := healthyProviders()
	if _, err := pipeline.New(nil, p.llm, p.tts); err == nil {
		t.Error("expected error for nil stt")
	}
	if _, err := pipeline.New(p.stt, p.llm, p.tts, pipeline.WithTemperature(3)); err == nil {
		t.Error("expected error for temperature 3")
	}
}

func TestProcess_RecordsMetrics(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	p := healthyProviders()
	p.tts.Err = errors.New("quota")
	o := newOrchestrator(t, p,
		pipeline.WithMetrics(m),
		pipeline.WithProviderNames("whisper", "openai", "elevenlabs"),
	)
	o.Process(context.Background(), testTurn())

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	counts := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			switch data := met.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					counts[met.Name] += dp.Value
				}
			case metricdata.Histogram[float64]:
				for _, dp := range data.DataPoints {
					counts[met.Name] += int64(dp.Count)
				}
			}
		}
	}

	want := map[string]int64{
		"voiceturn.stt.duration":      1,
		"voiceturn.llm.duration":      1,
		"voiceturn.tts.duration":      1,
		"voiceturn.provider.requests": 3,
		"voiceturn.provider.errors":   1,
		"voiceturn.turns":             1,
	}
	for name, n := range want {
		if counts[name] != n {
			t.Errorf("%s = %d, want %d", name, counts[name], n)
		}
	}
}

type upperCorrector struct{}

func (upperCorrector) CorrectText(text string) string { return strings.ToUpper(text) }

func TestProcess_TranscriptCorrector(t *testing.T) {
	t.Parallel()

	p := healthyProviders()
	o := newOrchestrator(t, p, pipeline.WithTranscriptCorrector(upperCorrector{}))

	res := o.Process(context.Background(), testTurn())
	if res.Transcript != "WHAT TIME IS IT?" {
		t.Errorf("Transcript = %q", res.Transcript)
	}
	calls := p.llm.Calls()
	if len(calls) != 1 || calls[0].Req.Messages[0].Content != "WHAT TIME IS IT?" {
		t.Errorf("llm saw %+v", calls)
	}
}

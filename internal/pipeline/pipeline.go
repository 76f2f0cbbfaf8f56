// Package pipeline runs one captured utterance through speech-to-text, chat
// completion and text-to-speech.
//
// Every stage fails in isolation: a failed or empty stage leaves its field of
// [Result] empty and stops the stages after it. [Orchestrator.Process] never
// returns an error; stage errors are recorded in [Result.Errs] and logged.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/voiceturn/internal/observe"
	"github.com/MrWong99/voiceturn/internal/utterance"
	"github.com/MrWong99/voiceturn/pkg/provider/llm"
	"github.com/MrWong99/voiceturn/pkg/provider/stt"
	"github.com/MrWong99/voiceturn/pkg/provider/tts"
)

const (
	// DefaultSystemPrompt is sent ahead of every transcript.
	DefaultSystemPrompt = "You are a helpful AI assistant. Keep responses concise."

	DefaultSTTTimeout = 15 * time.Second
	DefaultLLMTimeout = 20 * time.Second
	DefaultTTSTimeout = 20 * time.Second
)

// Stage names a pipeline step. The values double as metric "kind" labels.
type Stage string

const (
	StageSTT Stage = "stt"
	StageLLM Stage = "llm"
	StageTTS Stage = "tts"
)

// ErrEmptyOutput is recorded when a stage succeeds but produces nothing
// usable.
var ErrEmptyOutput = errors.New("pipeline: stage produced no output")

// Result is what a turn produced. Fields of stages that did not run or failed
// are empty.
type Result struct {
	TurnID     string
	Transcript string
	Reply      string
	Audio      []byte

	// Errs holds the error of the stage that stopped the turn, if any.
	Errs map[Stage]error
}

func (r Result) HasTranscript() bool { return r.Transcript != "" }
func (r Result) HasReply() bool      { return r.Reply != "" }
func (r Result) HasAudio() bool      { return len(r.Audio) > 0 }

// Outcome classifies the result for the voiceturn.turns counter.
func (r Result) Outcome() string {
	switch {
	case !r.HasTranscript():
		return observe.OutcomeNoTranscript
	case !r.HasReply():
		return observe.OutcomeNoReply
	case !r.HasAudio():
		return observe.OutcomeNoAudio
	default:
		return observe.OutcomeComplete
	}
}

// Timeouts bounds each stage. Zero fields fall back to the defaults.
type Timeouts struct {
	STT time.Duration
	LLM time.Duration
	TTS time.Duration
}

// TranscriptCorrector rewrites a transcript before it reaches the LLM.
type TranscriptCorrector interface {
	CorrectText(text string) string
}

// Orchestrator sequences the three providers. It holds no per-turn state
// and is safe for concurrent use.
type Orchestrator struct {
	stt stt.Provider
	llm llm.Provider
	tts tts.Provider

	systemPrompt string
	temperature  float64
	maxTokens    int
	language     string
	voiceID      string
	timeouts     Timeouts
	names        map[Stage]string
	corrector    TranscriptCorrector

	metrics *observe.Metrics
	logger  *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSystemPrompt replaces [DefaultSystemPrompt].
func WithSystemPrompt(prompt string) Option {
	return func(o *Orchestrator) { o.systemPrompt = prompt }
}

// WithTemperature sets the sampling temperature. Defaults to 0.
func WithTemperature(t float64) Option {
	return func(o *Orchestrator) { o.temperature = t }
}

// WithMaxTokens caps the reply length. Zero leaves it to the provider.
func WithMaxTokens(n int) Option {
	return func(o *Orchestrator) { o.maxTokens = n }
}

// WithLanguage sets the transcription language hint.
func WithLanguage(lang string) Option {
	return func(o *Orchestrator) { o.language = lang }
}

// WithVoice sets the voice passed to the TTS provider.
func WithVoice(voiceID string) Option {
	return func(o *Orchestrator) { o.voiceID = voiceID }
}

// WithTimeouts sets per-stage deadlines.
func WithTimeouts(t Timeouts) Option {
	return func(o *Orchestrator) { o.timeouts = t }
}

// WithProviderNames sets the provider labels used in metrics and logs.
func WithProviderNames(sttName, llmName, ttsName string) Option {
	return func(o *Orchestrator) {
		o.names = map[Stage]string{StageSTT: sttName, StageLLM: llmName, StageTTS: ttsName}
	}
}

// WithTranscriptCorrector applies c to every transcript. The corrected text
// is what the client receives and what the LLM answers.
func WithTranscriptCorrector(c TranscriptCorrector) Option {
	return func(o *Orchestrator) { o.corrector = c }
}

// WithMetrics records stage latencies and errors on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// New creates an Orchestrator. All three providers are required.
func New(s stt.Provider, l llm.Provider, t tts.Provider, opts ...Option) (*Orchestrator, error) {
	if s == nil || l == nil || t == nil {
		return nil, errors.New("pipeline: stt, llm and tts providers must not be nil")
	}
	o := &Orchestrator{
		stt:          s,
		llm:          l,
		tts:          t,
		systemPrompt: DefaultSystemPrompt,
		names:        map[Stage]string{},
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.timeouts.STT <= 0 {
		o.timeouts.STT = DefaultSTTTimeout
	}
	if o.timeouts.LLM <= 0 {
		o.timeouts.LLM = DefaultLLMTimeout
	}
	if o.timeouts.TTS <= 0 {
		o.timeouts.TTS = DefaultTTSTimeout
	}
	if o.temperature < 0 || o.temperature > 2 {
		return nil, fmt.Errorf("pipeline: temperature must be within [0, 2], got %g", o.temperature)
	}
	return o, nil
}

// Process runs turn through the stages. When ctx is cancelled the remaining
// stages are skipped and the partial result is returned.
func (o *Orchestrator) Process(ctx context.Context, turn utterance.Turn) Result {
	start := time.Now()
	res := Result{TurnID: turn.ID, Errs: map[Stage]error{}}

	ctx, span := observe.StartSpan(ctx, "pipeline.turn", trace.WithAttributes(
		attribute.String("turn.id", turn.ID),
		attribute.Int("turn.frames", turn.Frames),
		attribute.Float64("turn.audio_seconds", turn.Duration().Seconds()),
	))
	defer span.End()
	log := observe.TurnLogger(ctx, o.logger).With("turn_id", turn.ID)

	defer func() {
		if o.metrics == nil {
			return
		}
		outcome := res.Outcome()
		if ctx.Err() != nil {
			outcome = observe.OutcomeCancelled
		}
		o.metrics.RecordTurn(ctx, outcome, time.Since(start))
	}()

	// ── Stage 1: speech to text ──────────────────────────────────────────────

	transcript, err := runStage(ctx, o, StageSTT, o.timeouts.STT, func(ctx context.Context) (string, error) {
		tr, err := o.stt.Transcribe(ctx, stt.Request{
			Audio:      turn.Audio,
			SampleRate: turn.SampleRate,
			Channels:   1,
			Language:   o.language,
		})
		return strings.TrimSpace(tr.Text), err
	})
	if err != nil {
		res.Errs[StageSTT] = err
		log.Warn("pipeline: transcription failed", "err", err)
		return res
	}
	if o.corrector != nil {
		if corrected := strings.TrimSpace(o.corrector.CorrectText(transcript)); corrected != "" {
			transcript = corrected
		}
	}
	res.Transcript = transcript
	log.Info("pipeline: transcribed", "text", transcript)

	// ── Stage 2: chat completion ─────────────────────────────────────────────

	reply, err := runStage(ctx, o, StageLLM, o.timeouts.LLM, func(ctx context.Context) (string, error) {
		resp, err := o.llm.Complete(ctx, llm.CompletionRequest{
			SystemPrompt: o.systemPrompt,
			Messages:     []llm.Message{{Role: llm.RoleUser, Content: transcript}},
			Temperature:  o.temperature,
			MaxTokens:    o.maxTokens,
		})
		if err != nil || resp == nil {
			return "", err
		}
		return strings.TrimSpace(resp.Content), nil
	})
	if err != nil {
		res.Errs[StageLLM] = err
		log.Warn("pipeline: chat completion failed", "err", err)
		return res
	}
	res.Reply = reply

	// ── Stage 3: text to speech ──────────────────────────────────────────────

	speech, err := runStage(ctx, o, StageTTS, o.timeouts.TTS, func(ctx context.Context) (tts.Speech, error) {
		return o.tts.Synthesize(ctx, tts.Request{Text: reply, VoiceID: o.voiceID})
	})
	if err == nil && len(speech.Audio) == 0 {
		err = ErrEmptyOutput
	}
	if err != nil {
		res.Errs[StageTTS] = err
		log.Warn("pipeline: synthesis failed", "err", err)
		return res
	}
	res.Audio = speech.Audio
	log.Debug("pipeline: synthesized", "bytes", len(speech.Audio), "format", speech.Format)
	return res
}

// runStage calls fn under its own deadline and span, records metrics, and
// turns an empty string result into [ErrEmptyOutput].
func runStage[T any](ctx context.Context, o *Orchestrator, stage Stage, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	provider := o.names[stage]
	ctx, span := observe.StartStageSpan(ctx, string(stage), provider)
	defer span.End()

	stageCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	out, err := fn(stageCtx)
	elapsed := time.Since(start)

	if err == nil {
		if s, ok := any(out).(string); ok && s == "" {
			err = ErrEmptyOutput
		}
	}

	if o.metrics != nil {
		if h := o.metrics.StageDuration(string(stage)); h != nil {
			h.Record(ctx, elapsed.Seconds())
		}
		status := "ok"
		if err != nil {
			status = "error"
			o.metrics.RecordProviderError(ctx, provider, string(stage))
		}
		o.metrics.RecordProviderRequest(ctx, provider, string(stage), status)
	}

	if err != nil {
		observe.FailSpan(span, err)
		return zero, fmt.Errorf("pipeline: %s: %w", stage, err)
	}
	return out, nil
}

// Package observe provides the service's observability primitives:
// OpenTelemetry metrics, distributed tracing, trace-aware logging, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and scraped
// through the Prometheus exporter installed by [Setup]. Tests should
// use [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/MrWong99/voiceturn"

// Turn outcomes reported on the voiceturn.turns counter.
const (
	OutcomeNoTranscript = "no_transcript"
	OutcomeNoReply      = "no_reply"
	OutcomeNoAudio      = "no_audio"
	OutcomeComplete     = "complete"
	OutcomeCancelled    = "cancelled"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	STTDuration metric.Float64Histogram
	LLMDuration metric.Float64Histogram
	TTSDuration metric.Float64Histogram

	// TurnDuration tracks flush-to-last-result latency of a whole turn.
	TurnDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider calls by provider, kind and status.
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors by provider and kind.
	ProviderErrors metric.Int64Counter

	// Turns counts processed turns by outcome.
	Turns metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of connected WebSocket sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider].
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&met.STTDuration, "voiceturn.stt.duration", "Latency of speech-to-text transcription."},
		{&met.LLMDuration, "voiceturn.llm.duration", "Latency of chat completion."},
		{&met.TTSDuration, "voiceturn.tts.duration", "Latency of text-to-speech synthesis."},
		{&met.TurnDuration, "voiceturn.turn.duration", "Latency of a whole turn from flush to last result."},
	}
	for _, h := range histograms {
		if *h.dst, err = m.Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		); err != nil {
			return nil, err
		}
	}

	if met.ProviderRequests, err = m.Int64Counter("voiceturn.provider.requests",
		metric.WithDescription("Total provider requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("voiceturn.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.Turns, err = m.Int64Counter("voiceturn.turns",
		metric.WithDescription("Total processed turns by outcome."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("voiceturn.active_sessions",
		metric.WithDescription("Number of connected WebSocket sessions."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("voiceturn.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest records one provider call.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records one provider error.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordTurn records a finished turn with its outcome and total latency.
func (m *Metrics) RecordTurn(ctx context.Context, outcome string, d time.Duration) {
	m.Turns.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	m.TurnDuration.Record(ctx, d.Seconds())
}

// StageDuration returns the latency histogram for a pipeline stage kind
// ("stt", "llm" or "tts"), or nil for any other kind.
func (m *Metrics) StageDuration(kind string) metric.Float64Histogram {
	switch kind {
	case "stt":
		return m.STTDuration
	case "llm":
		return m.LLMDuration
	case "tts":
		return m.TTSDuration
	default:
		return nil
	}
}

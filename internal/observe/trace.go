package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/voiceturn"

// StartSpan starts a span on the global tracer. The caller ends it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, opts...)
}

// StartStageSpan starts the span of one pipeline stage served by provider.
func StartStageSpan(ctx context.Context, stage, provider string) (context.Context, trace.Span) {
	return StartSpan(ctx, "pipeline."+stage, trace.WithAttributes(
		attribute.String("voiceturn.stage", stage),
		attribute.String("voiceturn.provider", provider),
	))
}

// FailSpan marks span as failed with err. A nil err is a no-op.
func FailSpan(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// CorrelationID returns the trace id of the span in ctx, or "" without one.
// HTTP responses carry it as X-Correlation-ID.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

// TurnLogger returns l with the trace_id of the span in ctx, so turn logs
// can be joined with sampled traces. l is returned as is without a span.
func TurnLogger(ctx context.Context, l *slog.Logger) *slog.Logger {
	if id := CorrelationID(ctx); id != "" {
		return l.With("trace_id", id)
	}
	return l
}

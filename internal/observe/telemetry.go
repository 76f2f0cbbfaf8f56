package observe

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

// TelemetryConfig configures [Setup].
type TelemetryConfig struct {
	// ServiceName is reported as service.name. Default: "voiceturn".
	ServiceName string

	ServiceVersion string

	// TraceSampleRatio is the fraction of turns whose spans are sampled.
	// Values outside (0, 1] sample every turn.
	TraceSampleRatio float64

	// SpanExporter receives sampled spans. Nil keeps spans in-process only.
	SpanExporter sdktrace.SpanExporter
}

// Telemetry owns the process-wide meter and tracer providers.
type Telemetry struct {
	meters *sdkmetric.MeterProvider
	traces *sdktrace.TracerProvider
}

// Setup builds a meter provider read by the Prometheus exporter, so the
// instruments show up on the default /metrics registry, and a tracer
// provider sampling turns at cfg.TraceSampleRatio. Both are installed as the
// OTel globals.
func Setup(ctx context.Context, cfg TelemetryConfig) (*Telemetry, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "voiceturn"
	}
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, err
	}

	reader, err := promexporter.New()
	if err != nil {
		return nil, err
	}
	t := &Telemetry{
		meters: sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(reader),
		),
	}

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(turnSampler(cfg.TraceSampleRatio)),
	}
	if cfg.SpanExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.SpanExporter))
	}
	t.traces = sdktrace.NewTracerProvider(tpOpts...)

	otel.SetMeterProvider(t.meters)
	otel.SetTracerProvider(t.traces)
	return t, nil
}

// turnSampler samples root turn spans at ratio. Stage spans follow their
// turn.
func turnSampler(ratio float64) sdktrace.Sampler {
	if ratio <= 0 || ratio >= 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

// Metrics creates the voiceturn instruments on the telemetry meter provider.
func (t *Telemetry) Metrics() (*Metrics, error) {
	return NewMetrics(t.meters)
}

// Shutdown flushes pending spans and stops both providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(
		t.traces.Shutdown(ctx),
		t.meters.Shutdown(ctx),
	)
}

package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// TracerName names the tracer handed out by TracerProvider.
const TracerName = "vocabcache"

// ServiceVersion is set at link time and exported as service.version.
var ServiceVersion = "dev"

// TracingConfig selects the OTLP/gRPC collector and the head sampling rate.
type TracingConfig struct {
	Enabled     bool
	Endpoint    string // host:port of the collector
	ServiceName string
	SampleRate  float64 // clamped to [0, 1]
	Insecure    bool
}

// TracerProvider owns the SDK provider installed as the global one.
type TracerProvider struct {
	sdk    *sdktrace.TracerProvider
	tracer trace.Tracer
}

// InitTracing installs a batching OTLP exporter as the global tracer
// provider. When tracing is disabled nothing global changes and the returned
// tracer is a no-op.
func InitTracing(ctx context.Context, cfg TracingConfig) (*TracerProvider, error) {
	if !cfg.Enabled {
		return &TracerProvider{tracer: otel.Tracer(TracerName)}, nil
	}

	var opts []otlptracegrpc.Option
	opts = append(opts, otlptracegrpc.WithEndpoint(cfg.Endpoint))
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("otlp exporter: %w", err)
	}

	// Schemaless so the merge never conflicts with the SDK's own schema URL.
	attrs := resource.NewSchemaless(
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(ServiceVersion),
	)
	res, err := resource.Merge(resource.Default(), attrs)
	if err != nil {
		return nil, fmt.Errorf("trace resource: %w", err)
	}

	sdk := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(samplerFor(cfg.SampleRate)),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(sdk)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return &TracerProvider{sdk: sdk, tracer: sdk.Tracer(TracerName)}, nil
}

// samplerFor honors the parent's decision unless sampling is off entirely.
func samplerFor(rate float64) sdktrace.Sampler {
	if rate <= 0 {
		return sdktrace.NeverSample()
	}
	if rate >= 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
}

func (tp *TracerProvider) Tracer() trace.Tracer { return tp.tracer }

// Shutdown flushes pending spans. It is a no-op when tracing was disabled.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp.sdk == nil {
		return nil
	}
	return tp.sdk.Shutdown(ctx)
}

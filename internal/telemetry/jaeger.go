package telemetry

import (
	"context"
	"fmt"
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// InitJaeger registers a Jaeger-backed TracerProvider as the process's
// global tracer and returns its Shutdown func. Each of the three
// binaries (gateway, broker, worker) calls this once at startup with
// its own serviceName, so spans from the same request across process
// boundaries still show up under distinct services in the Jaeger UI.
//
// sampleRatio is ParentBased(TraceIDRatioBased): a span with no parent
// is sampled with probability sampleRatio, and a span with a parent
// always follows the parent's decision, so a single request's spans
// never end up split across services once the root is sampled.
func InitJaeger(serviceName, jaegerEndpoint string, sampleRatio float64) (func(context.Context) error, error) {
	exp, err := jaeger.New(
		jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(jaegerEndpoint)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Jaeger exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion("1.0.0"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRatio))),
	)

	otel.SetTracerProvider(tp)

	log.Printf("telemetry: jaeger tracing initialized for %s at %s (sample ratio %.2f)", serviceName, jaegerEndpoint, sampleRatio)

	return tp.Shutdown, nil
}

package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"

	"github.com/zero-day-ai/aegis/internal/config"
	"github.com/zero-day-ai/aegis/internal/types"
)

const (
	defaultBatchTimeout = 5 * time.Second
	serviceName         = "aegis"
)

// InitTracing initializes the global tracer provider. With tracing disabled
// it returns a provider that records nothing, at zero overhead.
//
// The returned provider's Shutdown must be called on exit to flush spans.
func InitTracing(ctx context.Context, cfg config.TracingConfig) (*sdktrace.TracerProvider, error) {
	if !cfg.Enabled {
		tp := sdktrace.NewTracerProvider()
		otel.SetTracerProvider(tp)
		return tp, nil
	}

	if cfg.Endpoint == "" {
		return nil, types.NewError(types.CONFIG_VALIDATION_FAILED,
			"tracing.endpoint is required when tracing is enabled")
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.Endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, types.WrapError(types.CONFIG_LOAD_FAILED, "create trace exporter", err)
	}

	res, err := resource.Merge(resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		))
	if err != nil {
		return nil, types.WrapError(types.CONFIG_LOAD_FAILED, "build trace resource", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(defaultBatchTimeout)),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp, nil
}

package observability

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope used for client spans.
const TracerName = "github.com/ent0n29/maitred"

type TracingConfig struct {
	ServiceName string
	Enabled     bool
	Endpoint    string
}

// Shutdown releases telemetry resources.
type Shutdown func(ctx context.Context) error

// SetupTracing installs a global tracer provider. Without an endpoint spans are
// created but never exported.
func SetupTracing(ctx context.Context, cfg TracingConfig, log zerolog.Logger) (Shutdown, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "maitred"
	}
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(name)))
	if err != nil {
		return nil, err
	}

	var tp *sdktrace.TracerProvider
	if cfg.Enabled && strings.TrimSpace(cfg.Endpoint) != "" {
		endpoint, insecure := splitEndpoint(cfg.Endpoint)
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
		if insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exporter, err := otlptracehttp.New(ctx, opts...)
		if err != nil {
			return nil, err
		}
		tp = sdktrace.NewTracerProvider(
			sdktrace.WithResource(res),
			sdktrace.WithBatcher(exporter),
			sdktrace.WithSampler(sdktrace.AlwaysSample()),
		)
		log.Info().Str("endpoint", cfg.Endpoint).Msg("tracing enabled")
	} else {
		tp = sdktrace.NewTracerProvider(sdktrace.WithResource(res))
		log.Debug().Msg("tracing disabled")
	}

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return func(ctx context.Context) error {
		if err := tp.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("shutdown tracer provider")
			return err
		}
		return nil
	}, nil
}

// Tracer returns the client tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

func splitEndpoint(raw string) (string, bool) {
	endpoint := strings.TrimSpace(raw)
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		return strings.TrimPrefix(endpoint, "https://"), false
	case strings.HasPrefix(endpoint, "http://"):
		return strings.TrimPrefix(endpoint, "http://"), true
	default:
		return endpoint, true
	}
}

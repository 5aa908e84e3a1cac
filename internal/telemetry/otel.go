package telemetry

import (
	"context"
	"log/slog"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"

	"selcom-gateway/internal/config"
)

// InitTracer installs the global tracer provider and returns its shutdown func.
// An empty endpoint leaves the no-op provider in place.
func InitTracer(ctx context.Context, cfg config.Tracing, logger *slog.Logger) (func(context.Context), error) {
	// Propagation is useful even without an exporter so inbound trace headers reach the logs.
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if cfg.Endpoint == "" {
		logger.InfoContext(ctx, "Tracing endpoint not configured, spans are not exported")
		return func(context.Context) {}, nil
	}

	exporter, err := otlptrace.New(ctx, otlptracehttp.NewClient(exporterOptions(cfg.Endpoint)...))
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(cfg.ServiceName)),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	logger.InfoContext(ctx, "OpenTelemetry initialized", "endpoint", cfg.Endpoint)

	return func(ctx context.Context) {
		if err := tp.Shutdown(ctx); err != nil {
			logger.ErrorContext(ctx, "Error shutting down tracer provider", "error", err)
		}
	}, nil
}

// exporterOptions accepts either a full URL or a bare host:port.
func exporterOptions(raw string) []otlptracehttp.Option {
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		return []otlptracehttp.Option{otlptracehttp.WithEndpoint(raw), otlptracehttp.WithInsecure()}
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return []otlptracehttp.Option{otlptracehttp.WithEndpoint(raw), otlptracehttp.WithInsecure()}
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(u.Host)}
	if u.Path != "" {
		opts = append(opts, otlptracehttp.WithURLPath(u.Path))
	}
	if u.Scheme == "http" {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	return opts
}

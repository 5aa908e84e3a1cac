package logging

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/grafana/loki-client-go/loki"
	slogloki "github.com/samber/slog-loki/v3"
	"go.opentelemetry.io/otel/trace"

	"selcom-gateway/internal/config"
	"selcom-gateway/internal/logcontext"
)

const serviceName = "selcom-gateway"

// ContextHandler decorates records with logcontext attributes and the active trace ids.
type ContextHandler struct {
	slog.Handler
}

func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(contextAttrs(ctx)...)
	return h.Handler.Handle(ctx, r)
}

func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *ContextHandler) WithGroup(name string) slog.Handler {
	return &ContextHandler{Handler: h.Handler.WithGroup(name)}
}

func GetLogger(cfg config.Logs) *slog.Logger {
	level := parseLevel(cfg.Level)
	if cfg.URL == "" {
		return localLogger(level)
	}

	logger, err := remoteLogger(cfg.URL, level)
	if err != nil {
		fallback := localLogger(level)
		fallback.Error("Error creating loki client, logging to stdout", "error", err)
		return fallback
	}
	return logger
}

func localLogger(level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(&ContextHandler{Handler: handler}).With("service", serviceName)
}

func remoteLogger(url string, level slog.Level) (*slog.Logger, error) {
	lokiConfig, err := loki.NewDefaultConfig(url)
	if err != nil {
		return nil, err
	}
	client, err := loki.New(lokiConfig)
	if err != nil {
		return nil, err
	}

	return slog.New(slogloki.Option{
		Level:           level,
		Client:          client,
		AttrFromContext: []func(ctx context.Context) []slog.Attr{contextAttrs},
	}.NewLokiHandler()).With("service", serviceName), nil
}

func contextAttrs(ctx context.Context) []slog.Attr {
	attrs := logcontext.FromCtx(ctx)

	spanContext := trace.SpanContextFromContext(ctx)
	if spanContext.HasTraceID() {
		attrs = append(attrs, slog.String("trace_id", spanContext.TraceID().String()))
	}
	if spanContext.HasSpanID() {
		attrs = append(attrs, slog.String("span_id", spanContext.SpanID().String()))
	}
	return attrs
}

func parseLevel(raw string) slog.Level {
	switch strings.ToLower(raw) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

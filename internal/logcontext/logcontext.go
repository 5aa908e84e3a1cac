// Package logcontext carries slog attributes on a context so every log line
// written for one checkout attempt or webhook delivery shares its correlation ids.
package logcontext

import (
	"context"
	"log/slog"
)

type ctxKey string

// Fields is the context key the logging handlers read attributes from.
const Fields ctxKey = "slog_fields"

// AppendCtx returns a copy of parent carrying attrs in addition to any already attached.
func AppendCtx(parent context.Context, attrs ...slog.Attr) context.Context {
	if parent == nil {
		parent = context.Background()
	}

	existing, _ := parent.Value(Fields).([]slog.Attr)
	merged := make([]slog.Attr, 0, len(existing)+len(attrs))
	merged = append(merged, existing...)
	merged = append(merged, attrs...)

	return context.WithValue(parent, Fields, merged)
}

// FromCtx returns the attributes attached with AppendCtx.
func FromCtx(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	attrs, _ := ctx.Value(Fields).([]slog.Attr)
	return attrs
}

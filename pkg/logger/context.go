package logger

import (
	"context"
	"log/slog"
)

type ctxKey struct{}

// With derives a context carrying a logger enriched with fields.
// Middleware seeds it with the trace id so every line written while
// serving a booking request can be tied back to that request.
func With(ctx context.Context, fields ...any) context.Context {
	return context.WithValue(ctx, ctxKey{}, From(ctx).With(fields...))
}

// From returns the request-scoped logger, falling back to the process
// logger when the context carries none.
func From(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
		return l
	}
	return LoggerWrapper()
}

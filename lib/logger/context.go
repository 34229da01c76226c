// Package logger threads the daemon's slog.Logger through context so every
// layer of the capture engine, from HTTP handlers down to sample callbacks,
// logs through the same handler.
package logger

import (
	"context"
	"log/slog"
)

type ctxKey struct{}

// AddToContext stashes the engine logger on ctx.
func AddToContext(ctx context.Context, log *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, log)
}

// FromContext returns the engine logger, or slog's default when the context
// was built outside the daemon (tests, detached goroutines).
func FromContext(ctx context.Context) *slog.Logger {
	if log, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
		return log
	}
	return slog.Default()
}

// With returns ctx carrying the contextual logger extended with attrs, so a
// component can tag everything it logs (e.g. a session id) once.
func With(ctx context.Context, attrs ...any) context.Context {
	return AddToContext(ctx, FromContext(ctx).With(attrs...))
}

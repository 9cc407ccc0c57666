package logger

import (
	"context"

	"go.uber.org/zap"
)

// loggerKey is the private context key; one request-scoped logger is
// installed per request by the wide-event middleware.
type loggerKey struct{}

// ContextWithLogger returns a child context carrying logger.
func ContextWithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext returns the request-scoped logger, or a no-op logger when
// the context carries none (tests, background jobs).
func FromContext(ctx context.Context) *zap.Logger {
	l, ok := ctx.Value(loggerKey{}).(*zap.Logger)
	if !ok {
		return zap.NewNop()
	}
	return l
}

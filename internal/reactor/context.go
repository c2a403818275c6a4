package reactor

import (
	"context"
	"log/slog"

	"StepScope/pkg/logger"
)

type loggerKey struct{}

type privilegedKey struct{}

// Privileges elevates the context a task runs in. The returned release
// function is called exactly once when the task ends.
type Privileges interface {
	Acquire(ctx context.Context) (context.Context, func())
}

// SystemPrivileges runs every task as the system identity.
type SystemPrivileges struct{}

// Acquire implements Privileges.
func (SystemPrivileges) Acquire(ctx context.Context) (context.Context, func()) {
	return context.WithValue(ctx, privilegedKey{}, true), func() {}
}

// Privileged reports whether ctx carries elevated privileges.
func Privileged(ctx context.Context) bool {
	v, _ := ctx.Value(privilegedKey{}).(bool)
	return v
}

// Logger returns the task logger carried by ctx, or the default logger.
func Logger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	return logger.L()
}

func withLogger(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

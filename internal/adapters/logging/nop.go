// Package logging provides implementations of the ports.Logger interface.
package logging

import (
	"context"

	"github.com/acornos/acornbuild/internal/ports"
)

// NopLogger discards all messages.
type NopLogger struct {
	level ports.Level
}

// NewNopLogger creates a new no-op logger.
func NewNopLogger() *NopLogger {
	return &NopLogger{level: ports.LevelInfo}
}

func (l *NopLogger) Debug(_ context.Context, _ string, _ ...ports.Field) {}
func (l *NopLogger) Info(_ context.Context, _ string, _ ...ports.Field)  {}
func (l *NopLogger) Warn(_ context.Context, _ string, _ ...ports.Field)  {}
func (l *NopLogger) Error(_ context.Context, _ string, _ ...ports.Field) {}

// With returns itself.
func (l *NopLogger) With(_ ...ports.Field) ports.Logger {
	return l
}

// Level returns the log level.
func (l *NopLogger) Level() ports.Level {
	return l.level
}

// SetLevel sets the log level.
func (l *NopLogger) SetLevel(level ports.Level) {
	l.level = level
}

// FromContext returns the logger attached to ctx, or a NopLogger.
func FromContext(ctx context.Context) ports.Logger {
	if logger := ports.LoggerFromContext(ctx); logger != nil {
		return logger
	}
	return NewNopLogger()
}

var _ ports.Logger = (*NopLogger)(nil)

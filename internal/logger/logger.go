// Package logger provides the structured logging helpers used throughout the
// token manager. It wraps log/slog with the printf- and keyvals-style call
// sites that the rest of the library is written against.
package logger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
)

var current atomic.Pointer[slog.Logger]

func init() {
	current.Store(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))
}

// SetDefault replaces the logger used by the package-level helpers. Callers
// embedding this library in a larger application should call this once at
// startup to route log output through their own slog.Logger.
func SetDefault(l *slog.Logger) {
	if l == nil {
		return
	}
	current.Store(l)
}

func get() *slog.Logger { return current.Load() }

// Debugf logs a formatted message at debug level.
func Debugf(format string, args ...any) { get().Debug(sprintf(format, args...)) }

// Infof logs a formatted message at info level.
func Infof(format string, args ...any) { get().Info(sprintf(format, args...)) }

// Warnf logs a formatted message at warn level.
func Warnf(format string, args ...any) { get().Warn(sprintf(format, args...)) }

// Errorf logs a formatted message at error level.
func Errorf(format string, args ...any) { get().Error(sprintf(format, args...)) }

// Debugw logs a message at debug level with structured key/value pairs.
func Debugw(msg string, kv ...any) { get().Debug(msg, kv...) }

// Infow logs a message at info level with structured key/value pairs.
func Infow(msg string, kv ...any) { get().Info(msg, kv...) }

// Warnw logs a message at warn level with structured key/value pairs.
func Warnw(msg string, kv ...any) { get().Warn(msg, kv...) }

// Errorw logs a message at error level with structured key/value pairs.
func Errorw(msg string, kv ...any) { get().Error(msg, kv...) }

// WarnContext logs a message at warn level bound to ctx, with key/value pairs.
func WarnContext(ctx context.Context, msg string, kv ...any) { get().WarnContext(ctx, msg, kv...) }

func sprintf(format string, args ...any) string {
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}

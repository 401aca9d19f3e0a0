// Package logging is the process-wide structured logger. Everything the
// orchestrator emits is JSON on stdout so the platform log shipper can
// index call sids and contact ids without parsing.
package logging

import (
	"log/slog"
	"os"
)

// Logger wraps slog.Logger; components receive it at construction.
type Logger struct {
	*slog.Logger
}

// New builds a JSON logger at the given level. Unknown levels fall back to
// info rather than failing startup.
func New(level string) *Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	return &Logger{Logger: slog.New(handler).With(slog.String("app", "callpilot"))}
}

// Default returns an info-level logger; constructors use it when they are
// handed a nil logger.
func Default() *Logger {
	return New("info")
}

// With returns a child logger carrying the given attributes on every record.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

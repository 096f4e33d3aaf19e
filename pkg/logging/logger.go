// Package logging provides the structured logger used across sessionwire.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger is a thin wrapper over slog that carries component and session
// scoping helpers.
type Logger struct {
	*slog.Logger
}

// New creates a JSON structured logger for a component, writing to stdout.
func New(component string, level slog.Level) *Logger {
	return NewWithWriter(os.Stdout, component, level)
}

// NewWithWriter creates a logger writing to the given destination. Used by
// tests to capture output.
func NewWithWriter(w io.Writer, component string, level slog.Level) *Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	logger := slog.New(handler).With(slog.String("component", component))
	return &Logger{Logger: logger}
}

// Discard returns a logger that drops everything. Handy default for tests
// and optional dependencies.
func Discard() *Logger {
	return NewWithWriter(io.Discard, "discard", slog.LevelError)
}

// WithSession returns a logger scoped to a session.
func (l *Logger) WithSession(sessionID string) *Logger {
	return &Logger{Logger: l.Logger.With(slog.String("session_id", sessionID))}
}

// WithMessage returns a logger scoped to a message identifier.
func (l *Logger) WithMessage(messageID string) *Logger {
	return &Logger{Logger: l.Logger.With(slog.String("message_id", messageID))}
}

// ParseLevel converts a config string into a slog level. Unknown values
// default to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

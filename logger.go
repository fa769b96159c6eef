package msgsock

import (
	"io"
	"log/slog"
	"strings"

	"github.com/pkg/errors"
)

// Logger is the interface for structured logging.
// It is compatible with *slog.Logger from the standard library.
type Logger interface {
	// Debug logs a debug-level message with optional key-value pairs.
	Debug(msg string, args ...any)
	// Info logs an info-level message with optional key-value pairs.
	Info(msg string, args ...any)
	// Warn logs a warning-level message with optional key-value pairs.
	Warn(msg string, args ...any)
	// Error logs an error-level message with optional key-value pairs.
	Error(msg string, args ...any)
}

// NopLogger discards everything.
type NopLogger struct{}

// Debug discards a debug-level message.
func (NopLogger) Debug(string, ...any) {
}

// Info discards an info-level message.
func (NopLogger) Info(string, ...any) {
}

// Warn discards a warning-level message.
func (NopLogger) Warn(string, ...any) {
}

// Error discards an error-level message.
func (NopLogger) Error(string, ...any) {
}

// defaultLogger returns the default slog logger from the standard library.
func defaultLogger() Logger {
	return slog.Default()
}

// NewTextLogger returns a slog text logger writing to w that drops records
// below level ("debug", "info", "warn" or "error", case-insensitive).
func NewTextLogger(w io.Writer, level string) (Logger, error) {
	lvl, err := parseLevel(level)
	if err != nil {
		return nil, err
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}

func parseLevel(level string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return 0, errors.Wrapf(err, "log level %q", level)
	}
	return lvl, nil
}

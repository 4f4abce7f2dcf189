// Package vlog provides structured logging for the validator core. It
// wraps log/slog with red-team-subnet conveniences such as per-component
// child loggers, mirroring how a production validator process is supposed
// to log: one JSON object per line, every field machine-parseable.
package vlog

import (
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with validator-specific context.
type Logger struct {
	inner *slog.Logger
}

// defaultLogger is the process-wide logger used by the package-level
// convenience functions.
var defaultLogger *Logger

func init() {
	defaultLogger = New(slog.LevelInfo, FormatJSON)
}

// Format selects the wire shape of emitted log lines.
type Format int

const (
	// FormatJSON emits one JSON object per line.
	FormatJSON Format = iota
	// FormatText emits human-readable text, used for local/interactive runs.
	FormatText
)

// New creates a Logger that writes to stderr at the given level in the
// given format.
func New(level slog.Level, format Format) *Logger {
	var h slog.Handler
	opts := &slog.HandlerOptions{Level: level}
	switch format {
	case FormatText:
		h = slog.NewTextHandler(os.Stderr, opts)
	default:
		h = slog.NewJSONHandler(os.Stderr, opts)
	}
	return &Logger{inner: slog.New(h)}
}

// NewWithHandler creates a Logger backed by the supplied slog.Handler.
// Useful for testing, or for writing to a custom destination.
func NewWithHandler(h slog.Handler) *Logger {
	return &Logger{inner: slog.New(h)}
}

// SetDefault replaces the package-level default logger.
func SetDefault(l *Logger) {
	if l != nil {
		defaultLogger = l
	}
}

// Default returns the current package-level default logger.
func Default() *Logger {
	return defaultLogger
}

// Module returns a child logger with an additional "module" attribute.
// This is the primary way subsystems (commit, container, challenge,
// ledger, storage, validator, signer) obtain their own contextual logger.
func (l *Logger) Module(name string) *Logger {
	return &Logger{inner: l.inner.With("module", name)}
}

// With returns a child logger with additional key-value context.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{inner: l.inner.With(args...)}
}

// Debug logs at LevelDebug.
func (l *Logger) Debug(msg string, args ...any) { l.inner.Debug(msg, args...) }

// Info logs at LevelInfo.
func (l *Logger) Info(msg string, args ...any) { l.inner.Info(msg, args...) }

// Warn logs at LevelWarn.
func (l *Logger) Warn(msg string, args ...any) { l.inner.Warn(msg, args...) }

// Error logs at LevelError.
func (l *Logger) Error(msg string, args ...any) { l.inner.Error(msg, args...) }

// LevelFromVerbosity maps a 0-5 verbosity knob (as used by the CLI) onto
// an slog.Level, 0 being silent-ish and 5 being the most verbose.
func LevelFromVerbosity(v int) slog.Level {
	switch {
	case v <= 1:
		return slog.LevelError
	case v == 2:
		return slog.LevelWarn
	case v == 3:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}

// FormatFromString parses a config string ("json", "text") into a Format.
// Unrecognised strings fall back to FormatJSON.
func FormatFromString(s string) Format {
	if s == "text" {
		return FormatText
	}
	return FormatJSON
}

// LevelFromString parses a config string ("debug", "info", "warn",
// "error") into an slog.Level. Unrecognised strings fall back to
// LevelInfo.
func LevelFromString(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ---------------------------------------------------------------------------
// Package-level convenience functions -- delegate to defaultLogger.
// ---------------------------------------------------------------------------

// Debug logs at LevelDebug using the default logger.
func Debug(msg string, args ...any) { defaultLogger.Debug(msg, args...) }

// Info logs at LevelInfo using the default logger.
func Info(msg string, args ...any) { defaultLogger.Info(msg, args...) }

// Warn logs at LevelWarn using the default logger.
func Warn(msg string, args ...any) { defaultLogger.Warn(msg, args...) }

// Error logs at LevelError using the default logger.
func Error(msg string, args ...any) { defaultLogger.Error(msg, args...) }

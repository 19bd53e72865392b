package core

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
)

// LogLevel represents the severity level of a log message
type LogLevel int

const (
	// LevelDebug is for detailed debugging information
	LevelDebug LogLevel = iota
	// LevelInfo is for general informational messages
	LevelInfo
	// LevelWarn is for warning messages
	LevelWarn
	// LevelError is for error messages
	LevelError
)

// String returns the string representation of the log level
func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseLogLevel parses "debug", "info", "warn" or "error" (case insensitive).
func ParseLogLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, errors.Newf("unknown log level %q", s)
	}
}

// Logger is the interface for logging operations
type Logger interface {
	// Debug logs a debug message
	Debug(msg string, keyvals ...any)
	// Info logs an informational message
	Info(msg string, keyvals ...any)
	// Warn logs a warning message
	Warn(msg string, keyvals ...any)
	// Error logs an error message
	Error(msg string, keyvals ...any)
	// With returns a new logger with additional key-value pairs
	With(keyvals ...any) Logger
}

// slogLogger adapts a *slog.Logger to Logger
type slogLogger struct {
	l *slog.Logger
}

// NewLogger creates a text logger that writes to the given writer
func NewLogger(writer io.Writer, minLevel LogLevel) Logger {
	h := slog.NewTextHandler(writer, &slog.HandlerOptions{Level: minLevel.slogLevel()})
	return &slogLogger{l: slog.New(h)}
}

// NewJSONLogger creates a logger emitting one JSON object per line
func NewJSONLogger(writer io.Writer, minLevel LogLevel) Logger {
	h := slog.NewJSONHandler(writer, &slog.HandlerOptions{Level: minLevel.slogLevel()})
	return &slogLogger{l: slog.New(h)}
}

// NewStdLogger creates a new logger that writes to stderr
func NewStdLogger(minLevel LogLevel) Logger {
	return NewLogger(os.Stderr, minLevel)
}

// FromSlog wraps an existing slog logger
func FromSlog(l *slog.Logger) Logger {
	if l == nil {
		return NopLogger()
	}
	return &slogLogger{l: l}
}

// NewLoggerFromConfig builds the logger described by cfg.
func NewLoggerFromConfig(w io.Writer, cfg LogConfig) (Logger, error) {
	level, err := ParseLogLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(cfg.Format) {
	case "", "text":
		return NewLogger(w, level), nil
	case "json":
		return NewJSONLogger(w, level), nil
	default:
		return nil, errors.Newf("unknown log format %q", cfg.Format)
	}
}

func (s *slogLogger) Debug(msg string, keyvals ...any) {
	s.l.Log(context.Background(), slog.LevelDebug, msg, keyvals...)
}

func (s *slogLogger) Info(msg string, keyvals ...any) {
	s.l.Log(context.Background(), slog.LevelInfo, msg, keyvals...)
}

func (s *slogLogger) Warn(msg string, keyvals ...any) {
	s.l.Log(context.Background(), slog.LevelWarn, msg, keyvals...)
}

func (s *slogLogger) Error(msg string, keyvals ...any) {
	s.l.Log(context.Background(), slog.LevelError, msg, keyvals...)
}

func (s *slogLogger) With(keyvals ...any) Logger {
	return &slogLogger{l: s.l.With(keyvals...)}
}

// nopLogger is a no-op logger that discards all log messages
type nopLogger struct{}

func (nopLogger) Debug(msg string, keyvals ...any) {}
func (nopLogger) Info(msg string, keyvals ...any)  {}
func (nopLogger) Warn(msg string, keyvals ...any)  {}
func (nopLogger) Error(msg string, keyvals ...any) {}

// With returns the same nopLogger
func (n nopLogger) With(keyvals ...any) Logger {
	return n
}

// NopLogger returns a logger that discards all messages
func NopLogger() Logger {
	return nopLogger{}
}

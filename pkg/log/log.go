// Package log configures the process-wide slog logger.
package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

const (
	FormatText = "text"
	FormatJSON = "json"
)

// ParseLevel maps a level name to its slog level, defaulting to info.
func ParseLevel(logLevel string) slog.Level {
	switch strings.ToLower(logLevel) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New builds a logger writing to w in the given format. Unknown formats fall back to text.
func New(w io.Writer, logLevel, format string) *slog.Logger {
	options := &slog.HandlerOptions{Level: ParseLevel(logLevel)}

	if strings.EqualFold(format, FormatJSON) {
		return slog.New(slog.NewJSONHandler(w, options))
	}

	return slog.New(slog.NewTextHandler(w, options))
}

// Setup installs a stderr logger as the slog default and returns it.
func Setup(logLevel, format string) *slog.Logger {
	logger := New(os.Stderr, logLevel, format)
	slog.SetDefault(logger)

	return logger
}

func WithModule(module string) *slog.Logger {
	return slog.With("module", module)
}

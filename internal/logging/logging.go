// Package logging builds the process slog.Logger.
package logging

import (
	"io"
	"log/slog"

	"github.com/charmbracelet/log"
)

// ParseLevel maps a config level to slog; unknown values mean info
func ParseLevel(levelStr string) slog.Level {
	switch levelStr {
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

// New creates a logger writing to w. format is json, text, or console for a
// colored human-readable handler. It does not set the global logger.
func New(levelStr, formatStr string, w io.Writer) *slog.Logger {
	level := ParseLevel(levelStr)

	var handler slog.Handler
	switch formatStr {
	case "json":
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	case "console":
		handler = log.NewWithOptions(w, log.Options{
			ReportTimestamp: true,
			Level:           consoleLevel(level),
		})
	default:
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	}

	return slog.New(handler)
}

func consoleLevel(level slog.Level) log.Level {
	switch {
	case level <= slog.LevelDebug:
		return log.DebugLevel
	case level <= slog.LevelInfo:
		return log.InfoLevel
	case level <= slog.LevelWarn:
		return log.WarnLevel
	default:
		return log.ErrorLevel
	}
}

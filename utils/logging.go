package utils

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// SetupLogging installs the default slog logger. format is "json" or "text".
func SetupLogging(format, level string) {
	slog.SetDefault(NewLogger(os.Stdout, format, level))
}

// NewLogger builds a logger writing to w
func NewLogger(w io.Writer, format, level string) *slog.Logger {
	opts := &slog.HandlerOptions{AddSource: true, Level: getLogLevel(level)}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}

func getLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

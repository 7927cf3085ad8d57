// Package logger builds the API's structured logger.
package logger

import (
	"log/slog"
	"os"
	"strings"

	"github.com/HatiCode/iris-mlops/cmd/api/config"
)

// New returns a slog logger writing to stderr in cfg.LogFormat at
// cfg.LogLevel. Unknown values fall back to text and info.
func New(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}

	var handler slog.Handler
	if strings.EqualFold(cfg.LogFormat, "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler).With("service", "ml-api")
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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

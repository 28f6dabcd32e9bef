package cmd

import (
	"io"
	"log/slog"
	"strings"

	"github.com/Sentinel-Gate/sentinel-agent/internal/config"
)

// parseLogLevel converts a string log level to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func parseLogLevel(level string) slog.Level {
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

// newLogger writes text logs to w. DevMode always forces debug.
func newLogger(w io.Writer, cfg *config.AgentConfig) *slog.Logger {
	level := parseLogLevel(cfg.Server.LogLevel)
	if cfg.DevMode {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	logger.Debug("log level configured", "level", cfg.Server.LogLevel, "effective", level.String())
	return logger
}

// Package logger builds the process's single structured logger directly
// from the resolved config.LogConfig, rather than a separate duplicated
// options struct, so there is one source of truth for how logging.* keys
// turn into a *slog.Logger (request-ID propagation and access logging for
// the HTTP surface live in internal/api/middleware, which owns that
// domain; this package is purely construction).
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/nullhaus/sysmond/internal/config"
)

// New builds the agent's logger from its resolved logging config: JSON or
// text handler per cfg.Format, stdout/stderr/rotating-file writer per
// cfg.Output, source-location attribution only at debug level.
func New(cfg config.LogConfig) *slog.Logger {
	level := ParseLevel(cfg.Level)
	writer := SetupWriter(cfg)

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "json" {
		handler = slog.NewJSONHandler(writer, opts)
	} else {
		handler = slog.NewTextHandler(writer, opts)
	}

	return slog.New(handler)
}

// ParseLevel parses a logging.level config value into a slog.Level,
// defaulting to info on anything unrecognized.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "info", "":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetupWriter resolves logging.output into the writer New hands to its
// handler, routing "file" through lumberjack for rotation.
func SetupWriter(cfg config.LogConfig) io.Writer {
	switch strings.ToLower(cfg.Output) {
	case "file":
		if cfg.File == "" {
			return os.Stdout
		}
		return &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.RotateMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
	case "stderr":
		return os.Stderr
	default:
		return os.Stdout
	}
}

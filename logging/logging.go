// Package logging configures structured logging for Elytra via slog.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Config holds logging configuration
type Config struct {
	Format string // "json" | "text"
	Level  string // "debug" | "info" | "warn" | "error"
}

// Setup installs the global slog logger based on configuration
func Setup(cfg Config) {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}

func parseLevel(level string) slog.Level {
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

// Component returns a logger tagged with a component name
func Component(name string) *slog.Logger {
	return slog.With("component", name)
}

// JobLogger returns a logger with job context fields
func JobLogger(jobID int64, datasetID string) *slog.Logger {
	return slog.With("job_id", jobID, "dataset_id", datasetID)
}

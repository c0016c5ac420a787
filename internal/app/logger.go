package app

import (
	"log/slog"
	"os"
)

// NewLogger returns a configured slog.Logger tagged with the process name.
func NewLogger(cfg *Config, process string) *slog.Logger {
	opts := &slog.HandlerOptions{AddSource: true}
	var handler slog.Handler
	if cfg != nil && cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)
	if process != "" {
		logger = logger.With(slog.String("process", process))
	}
	if cfg != nil {
		logger = logger.With(slog.String("env", cfg.AppEnv))
	}
	return logger
}

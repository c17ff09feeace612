// Package logger builds the zerolog logger shared by the engine, the stores
// and the gorm SQL log bridge.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"robots-backend/config"
)

// New returns a logger writing to stderr in the configured format.
func New(cfg config.LogConfig) zerolog.Logger {
	return NewWithWriter(cfg, os.Stderr)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(cfg config.LogConfig, out io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	w := out
	if cfg.Format == "console" {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	return zerolog.New(w).Level(level).With().Timestamp().Str("service", "robots").Logger()
}

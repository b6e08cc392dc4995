// Package logging constructs the zerolog.Logger every component in this
// module accepts by constructor injection. Grounded in the structured
// logger of a sibling memory daemon (internal/logger/logger.go): a small
// Config struct, console vs. pretty output, and a parsed level, trimmed
// down to what this module actually needs (no rotation, no redaction —
// those serve an HTTP-facing daemon, not a library consumed by an agent
// runtime).
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Config selects the logger's verbosity and output shape.
type Config struct {
	Level  string // debug, info, warn, error; defaults to info
	Pretty bool   // human-readable console output instead of JSON lines
	Output io.Writer // defaults to os.Stderr
}

// New builds a zerolog.Logger from cfg.
func New(cfg Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	var w io.Writer = os.Stderr
	if cfg.Output != nil {
		w = cfg.Output
	}
	if cfg.Pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// Nop returns a logger that discards everything, for tests that don't care
// about log output.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}

// Package logger configures the zerolog loggers used across the pipeline.
package logger

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// New returns a leveled, timestamped logger writing to w.
func New(w io.Writer, level zerolog.Level) zerolog.Logger {
	return zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Logger()
}

// NewConsole returns a human-readable logger for interactive use.
func NewConsole(level zerolog.Level) zerolog.Logger {
	return New(zerolog.ConsoleWriter{Out: os.Stdout}, level)
}

// Nop returns a logger that discards everything, for tests and library
// callers that do not want output.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}

// Package logx builds the process logger.
package logx

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Options selects the logger's output.
type Options struct {
	// Production switches to JSON output without caller info
	Production bool

	// Level is a zerolog level name; empty means info in production, debug otherwise
	Level string

	// Writer defaults to os.Stderr
	Writer io.Writer
}

// New builds a logger. Development loggers write human-readable console
// output with caller info.
func New(opts Options) zerolog.Logger {
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}

	var logger zerolog.Logger
	if opts.Production {
		logger = zerolog.New(w).With().Timestamp().Logger()
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}).
			With().Timestamp().Caller().Logger()
	}

	return logger.Level(ParseLevel(opts.Level, opts.Production))
}

// ParseLevel maps a level name to a zerolog level. Unknown or empty names
// fall back to info in production and debug otherwise.
func ParseLevel(name string, production bool) zerolog.Level {
	if lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(name))); err == nil && name != "" {
		return lvl
	}
	if production {
		return zerolog.InfoLevel
	}
	return zerolog.DebugLevel
}

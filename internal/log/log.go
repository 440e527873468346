// Package log provides the shared zerolog logger for the gtod CLI.
package log

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

var logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
	Level(zerolog.InfoLevel).
	With().Timestamp().Logger()

// Setup configures the global log level. Verbose enables debug output,
// GTOD_LOG_LEVEL overrides both when set to a valid zerolog level.
func Setup(verbose bool) {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	if env := os.Getenv("GTOD_LOG_LEVEL"); env != "" {
		if parsed, err := zerolog.ParseLevel(env); err == nil {
			level = parsed
		}
	}
	logger = logger.Level(level)
}

// L returns the configured logger.
func L() zerolog.Logger {
	return logger
}

// Info starts an info-level event.
func Info() *zerolog.Event { return logger.Info() }

// Debug starts a debug-level event.
func Debug() *zerolog.Event { return logger.Debug() }

// Warn starts a warn-level event.
func Warn() *zerolog.Event { return logger.Warn() }

// Package logging configures the zerolog logger shared by the scanner
// components. Each component derives its logger with NewLogger; workers add
// their index with ForWorker.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel is a level name as accepted by the log.level setting.
type LogLevel string

const (
	// LevelDebug adds connect failures, discarded connections, progress
	// flushes and webhook retries.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs worker lifecycle, discoveries and progress lines.
	LevelInfo LogLevel = "info"

	// LevelWarn logs failed notifications and progress flushes.
	LevelWarn LogLevel = "warn"

	// LevelError logs dropped discoveries and startup failures.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	Level LogLevel

	// Pretty switches from JSON lines to zerolog's console format.
	Pretty bool

	// Output defaults to os.Stderr; stdout carries discovery lines.
	Output io.Writer
}

// Setup installs the global logger and level and returns the logger.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.TimeOnly}
	}

	log.Logger = zerolog.New(output).With().Timestamp().Logger()
	return log.Logger
}

// parseLevel maps a level name to zerolog, accepting "warning" for warn.
// Unknown names and levels outside debug..error fall back to info.
func parseLevel(level LogLevel) zerolog.Level {
	name := strings.ToLower(strings.TrimSpace(string(level)))
	if name == "warning" {
		name = "warn"
	}

	l, err := zerolog.ParseLevel(name)
	if err != nil || l < zerolog.DebugLevel || l > zerolog.ErrorLevel {
		return zerolog.InfoLevel
	}
	return l
}

// NewLogger returns the global logger tagged with component
// (scanner, notify, progress, metrics).
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// ForWorker tags logger with the worker index.
func ForWorker(logger zerolog.Logger, index int) zerolog.Logger {
	return logger.With().Int("worker", index).Logger()
}

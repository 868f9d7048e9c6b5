// Package logging configures the process-wide zerolog logger used by the
// scraping pipelines.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/rs/zerolog/pkgerrors"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs per-batch request details and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs unit lifecycle events and progress.
	LevelInfo LogLevel = "info"

	// LevelWarn logs retries, incomplete results and failed units.
	LevelWarn LogLevel = "warn"

	// LevelError logs exhausted retries and startup failures.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger and returns it.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	logger := zerolog.New(out).With().Timestamp().Logger()
	log.Logger = logger

	return logger
}

// parseLevel converts LogLevel to zerolog.Level, defaulting to info.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(string(level))) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a child of the global logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Discard returns a logger that drops everything. Tests use it to keep
// output quiet.
func Discard() zerolog.Logger {
	return zerolog.Nop()
}

// Log Level Guidelines:
//
// Debug: request URLs (credentials redacted), batch sizes, cache hits,
// rate-limit header updates.
//
// Info: unit dispatch, skip, commit, progress counters, run summary.
//
// Warn: fetch failures before cooldown, incomplete_results responses,
// unit aborted on local I/O error, unreadable archives.
//
// Error: retry budget exhausted, ops server failure, startup failures.
//
// Context Fields:
//   - component: package-level source of the event
//   - run_id: one id per pipeline run
//   - unit: input file name
//   - batch: batch index within a unit
//   - attempt: governor attempt number
//   - error_class: client, server, rate_limit, network, malformed

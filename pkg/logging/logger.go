// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelTrace logs every page exchange and limiter decision.
	LevelTrace LogLevel = "trace"

	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
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

// Setup configures the global zerolog logger. Durations are logged in
// milliseconds so backoff and limiter waits read the same in JSON and console
// output.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))
	zerolog.DurationFieldUnit = time.Millisecond

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.TimeOnly}
	}

	logger := zerolog.New(output).With().Timestamp().Logger()
	log.Logger = logger
	return logger
}

// parseLevel converts LogLevel to zerolog.Level. Unknown levels mean info.
func parseLevel(level LogLevel) zerolog.Level {
	name := strings.ToLower(strings.TrimSpace(string(level)))
	if name == "warning" {
		name = "warn"
	}
	parsed, err := zerolog.ParseLevel(name)
	if err != nil || name == "" {
		return zerolog.InfoLevel
	}
	return parsed
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// ForRun returns a component logger tagged with the run id, so every line of
// one export can be correlated.
func ForRun(component, runID string) zerolog.Logger {
	return NewLogger(component).With().Str("run_id", runID).Logger()
}

// Log Level Guidelines:
//
// Trace: Per-exchange detail
//   - Limiter admissions
//   - Page requests (offset, limit)
//
// Debug: Detailed information for debugging
//   - Page results (events, offset)
//   - Category cache hit/miss
//   - Non-200 statuses before classification
//
// Info: Normal operation events
//   - Hour completed (events, fallback)
//   - Run started/finished with summary
//   - Authentication succeeded
//
// Warn: Conditions that don't stop the run
//   - Network retries and their wait
//   - Reauthentication after 403
//   - Window needs subdivision (minute fallback)
//   - Limiter waits and limiter store errors
//   - Cache errors
//
// Error: Conditions that lose data or stop the run
//   - Window aborted (retry or 403 budget exhausted, unhandled status)
//   - Sink write failures
//   - Configuration errors
//
// Context Fields:
//   - run_id: Identifier of one export run
//   - window_start, window_end: Window bounds (RFC 3339)
//   - offset: Page offset within the window
//   - status: HTTP status code
//   - events: Number of events
//   - attempt: Network attempt or consecutive 403 count
//   - wait: Sleep duration before the next attempt
//   - error_class: Error classification (client, server, rate_limit, network, decode)

// Package logging configures the process-wide zerolog logger and builds the
// component and run loggers the scraper writes to.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel is a configured minimum level.
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty switches from JSON lines to a human-readable console format.
	Pretty bool

	// Output defaults to os.Stderr.
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
	zerolog.SetGlobalLevel(ParseLevel(string(cfg.Level)))

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

// ParseLevel converts a level name to a zerolog level. Unknown names map to
// info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// RunLogger derives a logger carrying a run's identity. An empty session id
// (CLI runs) is omitted.
func RunLogger(base zerolog.Logger, runID, sessionID string) zerolog.Logger {
	ctx := base.With().Str("run_id", runID)
	if sessionID != "" {
		ctx = ctx.Str("session_id", sessionID)
	}
	return ctx.Logger()
}

// Log Level Guidelines:
//
// Debug: list pages fetched, cooldown waits, websocket frames.
//
// Info: run start and end, session connect and disconnect, server
// startup and shutdown.
//
// Warn: retry attempts, rows ending as "Session Expired", rejected events,
// Redis unavailable.
//
// Error: detail fetches that exhausted their retries, runs ending with an
// error event, configuration errors.
//
// Context Fields:
//   - component: emitting package component
//   - run_id, session_id: run and websocket session identity
//   - record_id: consumer id of a detail fetch
//   - attempt, attempts: retry bookkeeping
//   - offset, total, records: pagination state
//   - status: HTTP status code

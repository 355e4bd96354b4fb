// Package logger configures the process-wide zerolog logger and hands out
// component-scoped sub-loggers, the way the teacher's api module does.
package logger

import (
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Log is the process-wide logger. Initialize must be called once at
// startup before use; the zero value has no writer and drops every event.
var Log zerolog.Logger

// Initialize configures the global logger with the given level and output
// format, tagging every line with a per-process instance id so log lines
// from concurrently deployed replicas can be told apart.
func Initialize(level string, pretty bool) {
	logLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)

	if pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	} else {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	}

	Log = log.With().
		Str("service", "sessioncore").
		Str("instance", uuid.NewString()).
		Logger()

	Log.Info().
		Str("level", logLevel.String()).
		Bool("pretty", pretty).
		Msg("logger initialized")
}

// GetLogger returns the global logger instance.
func GetLogger() *zerolog.Logger {
	return &Log
}

// Session returns a sub-logger for session-kernel resolution/refresh events.
func Session() *zerolog.Logger {
	l := Log.With().Str("component", "session").Logger()
	return &l
}

// CSRF returns a sub-logger for CSRF validation failures.
func CSRF() *zerolog.Logger {
	l := Log.With().Str("component", "csrf").Logger()
	return &l
}

// Store returns a sub-logger for session-store (persistence) events.
func Store() *zerolog.Logger {
	l := Log.With().Str("component", "store").Logger()
	return &l
}

// HTTP returns a sub-logger for HTTP request events.
func HTTP() *zerolog.Logger {
	l := Log.With().Str("component", "http").Logger()
	return &l
}

// Package logging configures the global zerolog logger.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init initializes the global logger. CLEANEE_LOG_LEVEL overrides level
// (debug, info, warn, error; default info). Output is human-readable on
// stderr unless CLEANEE_LOG_FORMAT=json.
func Init(level string) {
	if env := os.Getenv("CLEANEE_LOG_LEVEL"); env != "" {
		level = env
	}
	zerolog.SetGlobalLevel(ParseLevel(level))

	var out io.Writer = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}
	if strings.EqualFold(os.Getenv("CLEANEE_LOG_FORMAT"), "json") {
		out = os.Stderr
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	}
	return zerolog.InfoLevel
}

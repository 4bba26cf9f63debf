// Package logger builds the process-wide zerolog.Logger from
// LOG_LEVEL/LOG_FORMAT. go-eth2-client logs through zerolog's global
// logger internally; every component here takes a zerolog.Logger
// explicitly rather than reaching for a package-level global.
package logger

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New builds a zerolog.Logger from the LOG_LEVEL and LOG_FORMAT
// environment variables. LOG_FORMAT=json writes structured JSON lines
// to stderr; any other value (or unset) writes a human-readable console
// format to stderr.
func New() zerolog.Logger {
	level := parseLevel(strings.TrimSpace(os.Getenv("LOG_LEVEL")))

	if strings.EqualFold(strings.TrimSpace(os.Getenv("LOG_FORMAT")), "json") {
		return zerolog.New(os.Stderr).With().Timestamp().Logger().Level(level)
	}

	output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	return zerolog.New(output).With().Timestamp().Logger().Level(level)
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return zerolog.DebugLevel
	case "INFO", "":
		return zerolog.InfoLevel
	case "WARN", "WARNING":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

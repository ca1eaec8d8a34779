// Package logging configures the process-wide zerolog logger every other
// package writes through via the global github.com/rs/zerolog/log
// singleton, exactly as the teacher's net package does (spec's ambient
// logging stack).
package logging

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Configure sets the global logger's minimum level and output format.
// levelName is one of zerolog's level strings ("debug", "info", "warn",
// "error"); an unrecognized or empty value falls back to info. When
// pretty is true, output goes through zerolog's human-readable console
// writer instead of raw JSON lines, useful for local development and the
// cmd/client CLI.
func Configure(levelName string, pretty bool) {
	level, err := zerolog.ParseLevel(strings.ToLower(levelName))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
		return
	}
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
}

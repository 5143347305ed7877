// Package logging configures the zerolog loggers used across mipnerf.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup installs a console writer on stderr and sets the global level.
func Setup(level zerolog.Level) {
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})
}

// Level maps the verbosity flags of the CLI to a log level.
func Level(verbose, veryVerbose bool) zerolog.Level {
	switch {
	case veryVerbose:
		return zerolog.TraceLevel
	case verbose:
		return zerolog.DebugLevel
	}
	return zerolog.InfoLevel
}

// New returns a logger tagged with the given component name. Call it after
// Setup so the logger picks up the configured output.
func New(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

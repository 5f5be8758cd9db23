package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Init configures the root zerolog logger: pretty console output in
// development, JSON elsewhere. Returns a logger scoped to the service name.
func Init(env, service string) zerolog.Logger {
	var w io.Writer
	if env == "development" || env == "dev" {
		w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	} else {
		w = os.Stdout
	}

	zerolog.TimeFieldFormat = time.RFC3339

	return zerolog.New(w).With().
		Timestamp().
		Str("service", service).
		Logger()
}

// Component returns a child logger tagged with a component name.
func Component(log zerolog.Logger, name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}

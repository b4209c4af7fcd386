package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup configures the global zerolog logger.
func Setup(level string, pretty bool) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339

	var out io.Writer = os.Stderr
	if pretty {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
}

// Action runs fn and logs its start, outcome and duration under name.
func Action(name string, fields map[string]interface{}, fn func() error) error {
	logger := log.With().Str("action", name).Fields(fields).Logger()
	logger.Debug().Msg("started")

	started := time.Now()
	err := fn()
	dur := time.Since(started)

	if err != nil {
		logger.Error().Err(err).Dur("duration", dur).Msg("failed")
		return err
	}

	logger.Info().Dur("duration", dur).Msg("completed")
	return nil
}

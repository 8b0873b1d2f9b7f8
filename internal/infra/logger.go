package infra

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger constructs a zerolog.Logger with sane defaults for the CLI.
// Interactive runs get the console writer; everything else emits JSON
// lines so the tool can run under cron or CI.
func NewLogger(appEnv string, quiet bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if appEnv == "development" {
		level = zerolog.DebugLevel
	}
	if quiet {
		level = zerolog.WarnLevel
	}

	var out io.Writer = os.Stderr
	if appEnv != "production" {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}

	return zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Logger()
}

// Logger aliases the zerolog.Logger so callers outside the infra package
// can depend on the logging contract without importing the third-party
// module directly.
type Logger = zerolog.Logger

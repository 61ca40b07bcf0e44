package logger

import (
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/nexus-gateway/nexus/config"
)

// New returns the process logger: human-readable console output in
// development, JSON elsewhere, at the level LOG_LEVEL names. In development
// any level above debug is lowered to debug.
func New(cfg *config.Config) zerolog.Logger {
	var out io.Writer = os.Stderr
	if cfg.Env == "development" {
		out = zerolog.ConsoleWriter{Out: os.Stderr}
	}

	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	if cfg.Env == "development" && lvl > zerolog.DebugLevel {
		lvl = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(lvl)

	return zerolog.New(out).With().Timestamp().Logger()
}

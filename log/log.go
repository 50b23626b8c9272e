package log

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog.Logger so callers can pass the embedded logger around.
type Logger struct {
	zerolog.Logger
}

// New builds the root logger for the process. Level falls back to info when
// the string is empty or unknown. Pretty output is for local development.
func New(level string, pretty bool) Logger {
	lvl := parseLevel(level)

	var logger zerolog.Logger
	if pretty {
		out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
		logger = zerolog.New(out).Level(lvl).With().Timestamp().Logger()
	} else {
		logger = zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()
	}

	return Logger{logger}
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "", "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

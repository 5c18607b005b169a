package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// New builds the service logger. An empty or unknown level falls back to info.
func New(w io.Writer, level string) zerolog.Logger {
	if w == nil {
		w = os.Stdout
	}
	return zerolog.New(w).Level(ParseLevel(level)).With().Timestamp().Logger()
}

func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "trace":
		return zerolog.TraceLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

package logx

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Log is the shared logger used throughout the project.
var Log = zerolog.New(os.Stderr).With().Timestamp().Logger()

// Configure sets the global log level and output format. Console output is
// human readable; anything else writes JSON lines, which is what CloudWatch
// expects under Lambda.
func Configure(level, format string) {
	zerolog.SetGlobalLevel(ParseLevel(level))
	Log = newLogger(os.Stderr, format)
}

func newLogger(w io.Writer, format string) zerolog.Logger {
	if strings.EqualFold(strings.TrimSpace(format), "console") {
		w = zerolog.ConsoleWriter{Out: w}
	}
	return zerolog.New(w).With().Timestamp().Logger()
}

// ParseLevel converts a string to a zerolog level.
// Accepts: all, debug, info, warn, warning, error, fatal, none.
// Unknown values default to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "all", "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "none", "off", "disabled":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

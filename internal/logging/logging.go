// Package logging builds the zerolog logger shared by the CLI, the server and
// the client-side collections.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const EnvLogLevel = "CHECKORDER_LOG_LEVEL"

const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

type Options struct {
	Level  string
	Format string
	Out    io.Writer
}

// New returns a timestamped logger. CHECKORDER_LOG_LEVEL overrides
// opts.Level when set to a known level.
func New(app string, opts Options) zerolog.Logger {
	out := opts.Out
	if out == nil {
		out = os.Stderr
	}
	if !strings.EqualFold(opts.Format, FormatJSON) {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	level, ok := ParseLevel(os.Getenv(EnvLogLevel))
	if !ok {
		level, ok = ParseLevel(opts.Level)
		if !ok {
			level = zerolog.InfoLevel
		}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Str("app", app).Logger()
}

func ParseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, false
	case "trace":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "disable", "off", "none":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}

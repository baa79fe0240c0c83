package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// Log is the global logger instance
	Log zerolog.Logger
)

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	// Default to console output with color
	Log = newLogger(consoleWriter(os.Stdout), zerolog.InfoLevel)
	log.Logger = Log
}

// Setup configures the global logger on stdout. Format is "console" or "json".
func Setup(levelStr, format string) {
	SetupTo(os.Stdout, levelStr, format)
}

// SetupTo is Setup with an explicit destination. The CLI logs to stderr so
// that command output stays parseable.
func SetupTo(w io.Writer, levelStr, format string) {
	out := w
	if strings.EqualFold(format, "console") || format == "" {
		out = consoleWriter(w)
	}

	Log = newLogger(out, zerolog.InfoLevel)
	log.Logger = Log
	SetLevel(levelStr)
}

// SetLevel sets the log level. Gin-style modes ("debug", "release") are accepted too.
func SetLevel(levelStr string) {
	if strings.EqualFold(levelStr, "release") {
		levelStr = "info"
	}
	level, err := zerolog.ParseLevel(strings.ToLower(levelStr))
	if err != nil || levelStr == "" {
		Log.Warn().Str("level", levelStr).Msg("invalid log level, defaulting to info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	Log = Log.Level(level)
	log.Logger = Log
}

// WithComponent returns a logger with a component field
func WithComponent(component string) zerolog.Logger {
	return Log.With().Str("component", component).Logger()
}

func consoleWriter(out io.Writer) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: "2006-01-02 15:04:05",
	}
}

func newLogger(out io.Writer, level zerolog.Level) zerolog.Logger {
	return zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Caller().
		Logger()
}

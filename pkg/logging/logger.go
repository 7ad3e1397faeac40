// Package logging wires zerolog for the extaudit CLI: a process-wide default
// logger, console or JSON output selected by LOG_FORMAT and terminal
// detection, context logger helpers, and credential redaction for the
// token-bearing configuration this tool handles.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// defaultLogger is the process-wide logger. Commands rebuild it once flags
	// are parsed; everything before that logs through this bootstrap instance.
	defaultLogger zerolog.Logger

	// Nop discards everything; used by tests.
	Nop = zerolog.Nop()
)

func init() {
	defaultLogger = bootstrapLogger()
}

// bootstrapLogger builds the pre-flag logger from the environment alone.
func bootstrapLogger() zerolog.Logger {
	var writer io.Writer = os.Stderr
	if stderrIsTerminal() && os.Getenv("LOG_FORMAT") != "json" {
		writer = zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.Kitchen,
			NoColor:    os.Getenv("NO_COLOR") != "",
		}
	}

	level := envLogLevel()
	zerolog.SetGlobalLevel(level)

	logger := zerolog.New(writer).Level(level).With().Timestamp().Logger()
	if level <= zerolog.DebugLevel {
		logger = logger.With().Caller().Logger()
	}
	return logger
}

// Default returns the process-wide logger.
func Default() *zerolog.Logger {
	return &defaultLogger
}

// SetDefault replaces the process-wide logger, keeping zerolog's own global
// in step so third-party code logging through it agrees.
func SetDefault(logger zerolog.Logger) {
	defaultLogger = logger
	log.Logger = logger
}

// New creates a structured logger writing to w at the global level.
func New(w io.Writer) zerolog.Logger {
	return zerolog.New(w).
		Level(zerolog.GlobalLevel()).
		With().
		Timestamp().
		Logger()
}

// NewJSON creates a JSON logger, defaulting to stderr.
func NewJSON(w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	return New(w)
}

func stderrIsTerminal() bool {
	fd := os.Stderr.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// envLogLevel resolves the bootstrap level: EXTAUDIT_LOG_LEVEL wins over
// LOG_LEVEL, DEBUG=1 forces debug, and anything unparseable means info.
func envLogLevel() zerolog.Level {
	levelStr := os.Getenv("EXTAUDIT_LOG_LEVEL")
	if levelStr == "" {
		levelStr = os.Getenv("LOG_LEVEL")
	}
	if levelStr == "" {
		if os.Getenv("DEBUG") != "" {
			return zerolog.DebugLevel
		}
		return zerolog.InfoLevel
	}

	level, err := zerolog.ParseLevel(levelStr)
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}

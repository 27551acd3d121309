// Package logging configures the process-wide zerolog logger used by adkx.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Format selects the log encoding.
type Format string

const (
	// FormatConsole writes human readable lines, the CLI default.
	FormatConsole Format = "console"
	// FormatJSON writes one JSON object per line, used by the API server.
	FormatJSON Format = "json"
)

var debugEnabled bool

// Init initializes the global logger with console output on stderr.
func Init(debug bool) {
	InitWithFormat(debug, FormatConsole, os.Stderr)
}

// InitWithFormat initializes the global logger writing to w in the given format.
func InitWithFormat(debug bool, format Format, w io.Writer) {
	debugEnabled = debug
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	if format == FormatJSON {
		log.Logger = zerolog.New(w).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.RFC3339,
	})
}

// DebugEnabled reports whether debug logging is enabled.
func DebugEnabled() bool {
	return debugEnabled
}

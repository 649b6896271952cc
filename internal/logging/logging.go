// Package logging builds the zerolog logger shared by the client and the
// advisory service.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options selects where logs go. An empty File logs to Console.
type Options struct {
	File    string
	Level   string
	Console io.Writer
}

// New returns a logger writing to a rotated file when File is set. A full
// screen terminal client must not write logs to stdout.
func New(opts Options) zerolog.Logger {
	var w io.Writer
	if opts.File != "" {
		w = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     14, // days
		}
	} else {
		out := opts.Console
		if out == nil {
			out = os.Stderr
		}
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly}
	}
	return zerolog.New(w).Level(ParseLevel(opts.Level)).With().Timestamp().Logger()
}

// ParseLevel maps a level name to zerolog, defaulting to info.
func ParseLevel(s string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

func Nop() zerolog.Logger { return zerolog.Nop() }

// Warnings reports configuration problems collected before the logger existed.
func Warnings(log zerolog.Logger, warnings []string) {
	for _, w := range warnings {
		log.Warn().Str("source", "config").Msg(w)
	}
}

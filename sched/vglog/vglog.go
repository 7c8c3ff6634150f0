// Package vglog wires a single structured logging sink for the scheduler.
//
// vgsched has exactly one log consumer (the scheduler loop itself) and no
// need to swap backends at runtime, so it binds github.com/rs/zerolog
// directly rather than going through a facade such as logiface.
package vglog

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// New returns a zerolog.Logger writing human-readable console output to w.
// Passing a nil w defaults to os.Stderr.
func New(w io.Writer, level zerolog.Level) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	console := zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05.000"}
	return zerolog.New(console).Level(level).With().Timestamp().Logger()
}

// Discard returns a logger that drops everything, for callers that want no
// scheduler diagnostics at all.
func Discard() zerolog.Logger {
	return zerolog.New(io.Discard).Level(zerolog.Disabled)
}

// Package logging builds the structured loggers used by the scheduler and
// the command line tool.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Logger is the logger type the scheduler accepts.
type Logger = logiface.Logger[logiface.Event]

// NewLogger creates a JSON logger writing to stderr (stdout is reserved for
// program output).
func NewLogger(level logiface.Level) *Logger {
	return NewLoggerWithWriter(level, os.Stderr)
}

// NewLoggerWithWriter creates a JSON logger writing to w. Writes are
// serialised, so w need not be safe for concurrent use.
func NewLoggerWithWriter(level logiface.Level, w io.Writer) *Logger {
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(&lockedWriter{w: w})),
		stumpy.L.WithLevel(level),
	).Logger()
}

// ParseLevel converts a string log level to a logiface.Level.
// Returns LevelInformational for unrecognized values.
func ParseLevel(s string) logiface.Level {
	switch strings.ToLower(s) {
	case "trace":
		return logiface.LevelTrace
	case "debug":
		return logiface.LevelDebug
	case "info":
		return logiface.LevelInformational
	case "notice":
		return logiface.LevelNotice
	case "warn", "warning":
		return logiface.LevelWarning
	case "error", "err":
		return logiface.LevelError
	case "off", "none", "disabled":
		return logiface.LevelDisabled
	default:
		return logiface.LevelInformational
	}
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (x *lockedWriter) Write(p []byte) (int, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.w.Write(p)
}

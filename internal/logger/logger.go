// Package logger provides a lightweight, centralized logging facility
// with configurable verbosity levels.
//
// Design goals:
//   - Simple API (Errorf, Infof, Debugf, Tracef)
//   - Centralized verbosity control
//   - Zero formatting logic at call sites
//   - Structured, leveled output backed by zerolog
//
// Verbosity levels (in increasing order):
//
//	Error < Info < Debug < Trace
//
// Example usage:
//
//	logger.SetVerbosity(2) // Debug
//	logger.Infof("event=run_start start=%s end=%s", start, end)
//	logger.Debugf("event=mark_to_market equity=%.2f", equity)
package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Level represents a logging verbosity level.
// Higher values mean more verbose logging.
type Level int

const (
	Error Level = iota // Error logs only critical failures.
	Info               // Info logs high-level application progress.
	Debug              // Debug logs detailed diagnostic information.
	Trace              // Trace logs very fine-grained execution details.
)

// current holds the active verbosity level.
// Only messages with level <= current are logged.
var current Level = Info

// base is the underlying structured logger. All output goes to stderr
// so that stdout stays free for piping report output.
var base = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()

// SetVerbosity sets the global logging verbosity.
// Called once during CLI startup, after flags are parsed.
func SetVerbosity(v int) {
	current = Level(v)
}

func logf(l Level, ev *zerolog.Event, format string, args ...any) {
	if current >= l {
		ev.Msgf(format, args...)
	}
}

// Errorf logs an error-level message.
func Errorf(format string, args ...any) {
	logf(Error, base.Error(), format, args...)
}

// Infof logs an informational message. Use for day boundaries, watchlist
// builds, and run start/finish.
func Infof(format string, args ...any) {
	logf(Info, base.Info(), format, args...)
}

// Debugf logs per-trade and per-phase diagnostic output.
func Debugf(format string, args ...any) {
	logf(Debug, base.Debug(), format, args...)
}

// Tracef logs very detailed execution traces, e.g. one line per
// simulation phase per timestamp.
func Tracef(format string, args ...any) {
	logf(Trace, base.Trace(), format, args...)
}

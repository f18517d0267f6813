package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// ConsoleLogger writes leveled, human-readable log lines through zerolog.
// Verbose messages are emitted at debug level and only when verbose is enabled.
// Safe for concurrent use by multiple goroutines.
type ConsoleLogger struct {
	log zerolog.Logger
}

// NewConsoleLogger creates a ConsoleLogger writing to stderr.
func NewConsoleLogger(verbose bool) *ConsoleLogger {
	return NewConsoleLoggerTo(os.Stderr, verbose, false)
}

// NewConsoleLoggerTo creates a ConsoleLogger writing to w.
// noColor disables ANSI colors, for files and pipes.
func NewConsoleLoggerTo(w io.Writer, verbose, noColor bool) *ConsoleLogger {
	cw := zerolog.ConsoleWriter{
		Out:        w,
		NoColor:    noColor,
		TimeFormat: time.TimeOnly,
	}

	lvl := zerolog.InfoLevel
	if verbose {
		lvl = zerolog.DebugLevel
	}

	return &ConsoleLogger{
		log: zerolog.New(zerolog.SyncWriter(cw)).Level(lvl).With().Timestamp().Logger(),
	}
}

// WithRun returns a logger that tags every line with the run id.
func (l *ConsoleLogger) WithRun(runID string) *ConsoleLogger {
	return &ConsoleLogger{log: l.log.With().Str("run", runID).Logger()}
}

// Verbose logs detailed diagnostic information if verbose mode is enabled.
func (l *ConsoleLogger) Verbose(format string, args ...interface{}) {
	emit(l.log.Debug(), format, args)
}

// Info logs informational messages about normal operations.
func (l *ConsoleLogger) Info(format string, args ...interface{}) {
	emit(l.log.Info(), format, args)
}

// Error logs error messages.
func (l *ConsoleLogger) Error(format string, args ...interface{}) {
	emit(l.log.Error(), format, args)
}

// emit avoids running argument-less messages through the formatter so a
// literal '%' survives.
func emit(e *zerolog.Event, format string, args []interface{}) {
	if len(args) > 0 {
		e.Msgf(format, args...)
		return
	}
	e.Msg(format)
}

// Package logger provides a structured logging interface with a zerolog-backed
// implementation. Components accept a Logger so diagnostics can be injected or
// disabled entirely; the no-op logger makes logging optional without nil checks.
package logger

import (
	"io"

	"github.com/rs/zerolog"
)

// Field represents a key-value pair for structured log output.
// Use Fields with Logger methods to attach contextual data to log entries.
type Field struct {
	Key   string
	Value any
}

// Logger is an interface for structured logging. Implementations write log
// entries at different levels (Debug, Info, Warn, Error) and support
// attaching structured fields. Loggers may be derived with With for
// component-scoped fields.
type Logger interface {
	// Debug logs a message at debug level with optional structured fields.
	//
	// Parameters:
	//   - msg: The log message
	//   - fields: Optional key-value pairs to include in the log entry
	Debug(msg string, fields ...Field)

	// Info logs a message at info level with optional structured fields.
	//
	// Parameters:
	//   - msg: The log message
	//   - fields: Optional key-value pairs to include in the log entry
	Info(msg string, fields ...Field)

	// Warn logs a message at warn level with optional structured fields.
	//
	// Parameters:
	//   - msg: The log message
	//   - fields: Optional key-value pairs to include in the log entry
	Warn(msg string, fields ...Field)

	// Error logs a message at error level with optional structured fields.
	//
	// Parameters:
	//   - msg: The log message
	//   - fields: Optional key-value pairs to include in the log entry
	Error(msg string, fields ...Field)

	// With returns a new Logger that includes the given fields in all
	// subsequent log entries. The original Logger is unchanged.
	//
	// Parameters:
	//   - fields: Key-value pairs to attach to the derived logger
	//
	// Returns:
	//   - A new Logger with the specified fields
	With(fields ...Field) Logger
}

// zerologLogger is the zerolog-based implementation of Logger.
type zerologLogger struct {
	logger zerolog.Logger
}

// NewZerolog builds a Logger writing zerolog output to w, tagging every entry
// with the given component name and filtering by level.
//
// Parameters:
//   - w: Destination writer (e.g. os.Stderr)
//   - component: Name added as a field to every log entry
//   - level: Minimum level to log (e.g. zerolog.InfoLevel)
//
// Returns:
//   - A Logger backed by zerolog
func NewZerolog(w io.Writer, component string, level zerolog.Level) Logger {
	return &zerologLogger{
		logger: zerolog.New(w).With().Str("component", component).Timestamp().Logger().Level(level),
	}
}

// Debug implements Logger.
func (z *zerologLogger) Debug(msg string, fields ...Field) {
	z.logger.Debug().Fields(toMap(fields)).Msg(msg)
}

// Info implements Logger.
func (z *zerologLogger) Info(msg string, fields ...Field) {
	z.logger.Info().Fields(toMap(fields)).Msg(msg)
}

// Warn implements Logger.
func (z *zerologLogger) Warn(msg string, fields ...Field) {
	z.logger.Warn().Fields(toMap(fields)).Msg(msg)
}

// Error implements Logger.
func (z *zerologLogger) Error(msg string, fields ...Field) {
	z.logger.Error().Fields(toMap(fields)).Msg(msg)
}

// With implements Logger.
func (z *zerologLogger) With(fields ...Field) Logger {
	return &zerologLogger{
		logger: z.logger.With().Fields(toMap(fields)).Logger(),
	}
}

// toMap converts a slice of Field into a map for zerolog.
func toMap(fields []Field) map[string]any {
	if len(fields) == 0 {
		return nil
	}

	m := make(map[string]any, len(fields))
	for _, f := range fields {
		m[f.Key] = f.Value
	}

	return m
}

// nopLogger discards everything.
type nopLogger struct{}

// Nop returns a Logger that discards all entries. It is the default for
// components constructed without an injected logger.
//
// Returns:
//   - A Logger whose methods do nothing
func Nop() Logger {
	return nopLogger{}
}

func (nopLogger) Debug(string, ...Field) {}
func (nopLogger) Info(string, ...Field)  {}
func (nopLogger) Warn(string, ...Field)  {}
func (nopLogger) Error(string, ...Field) {}
func (nopLogger) With(...Field) Logger   { return nopLogger{} }

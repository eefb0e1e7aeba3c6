// Package logx provides structured logging for the positioning and
// ingestion daemons: a small facade (New, WithField(s), leveled
// methods) over logrus emitting JSON lines.
package logx

import (
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger wraps a logrus.Entry behind a facade so call sites read the
// same whether or not the backend ever changes.
type Logger struct {
	entry *logrus.Entry
}

// New creates a logger at the given level ("debug", "info", "warn",
// "error"; unrecognised values fall back to "info"), emitting JSON lines
// to stderr.
func New(levelStr string) *Logger {
	base := logrus.New()
	base.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	base.SetLevel(parseLevel(levelStr))
	return &Logger{entry: logrus.NewEntry(base)}
}

// NewWithFields creates a logger with persistent contextual fields.
func NewWithFields(levelStr string, fields map[string]interface{}) *Logger {
	l := New(levelStr)
	return l.WithFields(fields)
}

// WithFields returns a new logger with additional persistent fields.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	return &Logger{entry: l.entry.WithFields(logrus.Fields(fields))}
}

// WithField returns a new logger with an additional persistent field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{entry: l.entry.WithField(key, value)}
}

// SetLevel changes the logging level in place.
func (l *Logger) SetLevel(levelStr string) {
	l.entry.Logger.SetLevel(parseLevel(levelStr))
}

func parseLevel(levelStr string) logrus.Level {
	switch strings.ToLower(levelStr) {
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

func fieldsFromArgs(keysAndValues []interface{}) logrus.Fields {
	if len(keysAndValues) == 0 {
		return nil
	}
	fields := make(logrus.Fields, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		fields[key] = keysAndValues[i+1]
	}
	return fields
}

// Debug logs a debug message with optional alternating key/value pairs.
func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(fieldsFromArgs(keysAndValues)).Debug(msg)
}

// Info logs an info message with optional alternating key/value pairs.
func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(fieldsFromArgs(keysAndValues)).Info(msg)
}

// Warn logs a warning message with optional alternating key/value pairs.
func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(fieldsFromArgs(keysAndValues)).Warn(msg)
}

// Error logs an error message with optional alternating key/value pairs.
func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(fieldsFromArgs(keysAndValues)).Error(msg)
}

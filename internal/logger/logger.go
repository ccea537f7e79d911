// Package logger provides the daemon's structured logging sink: a console
// logger for interactive/foreground use and an optional file logger for
// the persistent operational log, both backed by logrus.
package logger

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

// Logger fans every call out to whichever of the console/file sinks are
// enabled.
type Logger struct {
	fileLogger     *logrus.Logger
	consoleLogger  *logrus.Logger
	fileEnabled    bool
	consoleEnabled bool
	file           *os.File
}

// Config contains logger configuration.
type Config struct {
	Level         string
	Format        string
	ConsoleOutput bool
	ConsoleLevel  string
	ConsoleFormat string

	// FilePath, when non-empty, opens a second sink appending structured
	// log lines to the named file. Reopen (see Reopen) closes and
	// reopens this same path, so log rotation by renaming the file out
	// from under the daemon works the usual way.
	FilePath  string
	FileLevel string
}

// New creates a logger with whichever sinks cfg enables. At least one
// sink is always active: a bare Config defaults to console-only, info
// level, text format.
func New(cfg *Config) (*Logger, error) {
	l := &Logger{}

	if cfg.FilePath != "" {
		f, err := os.OpenFile(cfg.FilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("logger: opening log file: %w", err)
		}
		fileLog := logrus.New()
		lvl := parseLevelOr(cfg.FileLevel, cfg.Level, logrus.InfoLevel)
		fileLog.SetLevel(lvl)
		fileLog.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
		fileLog.SetOutput(f)
		l.fileLogger = fileLog
		l.fileEnabled = true
		l.file = f
	}

	if cfg.ConsoleOutput || !l.fileEnabled {
		consoleLog := logrus.New()
		lvl := parseLevelOr(cfg.ConsoleLevel, cfg.Level, logrus.InfoLevel)
		consoleLog.SetLevel(lvl)

		consoleFormat := cfg.ConsoleFormat
		if consoleFormat == "" {
			consoleFormat = "text"
		}
		if consoleFormat == "json" {
			consoleLog.SetFormatter(&logrus.JSONFormatter{
				TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
			})
		} else {
			consoleLog.SetFormatter(&logrus.TextFormatter{
				FullTimestamp:   true,
				TimestampFormat: "2006-01-02 15:04:05",
			})
		}
		consoleLog.SetOutput(os.Stdout)
		l.consoleLogger = consoleLog
		l.consoleEnabled = true
	}

	return l, nil
}

func parseLevelOr(primary, fallback string, def logrus.Level) logrus.Level {
	for _, s := range []string{primary, fallback} {
		if s == "" {
			continue
		}
		if lvl, err := logrus.ParseLevel(s); err == nil {
			return lvl
		}
	}
	return def
}

// Reopen closes and reopens the file sink at its configured path, for use
// after the control plane's reopen-logs signal. It is a no-op when no
// file sink is active.
func (l *Logger) Reopen() error {
	if !l.fileEnabled || l.file == nil {
		return nil
	}
	path := l.file.Name()
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("logger: closing log file for reopen: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("logger: reopening log file: %w", err)
	}
	l.file = f
	l.fileLogger.SetOutput(f)
	return nil
}

// Info logs an info message to every enabled sink.
func (l *Logger) Info(msg string, fields ...interface{}) { l.log(logrus.InfoLevel, msg, fields...) }

// Warn logs a warning message to every enabled sink.
func (l *Logger) Warn(msg string, fields ...interface{}) { l.log(logrus.WarnLevel, msg, fields...) }

// Error logs an error message to every enabled sink.
func (l *Logger) Error(msg string, fields ...interface{}) { l.log(logrus.ErrorLevel, msg, fields...) }

// Debug logs a debug message to every enabled sink.
func (l *Logger) Debug(msg string, fields ...interface{}) { l.log(logrus.DebugLevel, msg, fields...) }

func (l *Logger) log(level logrus.Level, msg string, fields ...interface{}) {
	logFields := l.parseFields(fields...)
	for _, sink := range []*logrus.Logger{l.fileLogger, l.consoleLogger} {
		if sink == nil {
			continue
		}
		entry := sink.WithFields(logFields)
		entry.Log(level, msg)
	}
}

// parseFields converts variadic key/value pairs to logrus.Fields.
func (l *Logger) parseFields(fields ...interface{}) logrus.Fields {
	result := make(logrus.Fields)
	for i := 0; i < len(fields)-1; i += 2 {
		if key, ok := fields[i].(string); ok {
			result[key] = fields[i+1]
		}
	}
	return result
}

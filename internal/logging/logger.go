// Package logging provides the leveled logger shared by every lazyns
// component. Rendering is delegated to charmbracelet/log; level filtering
// stays here so TRACE can sit below the backend's DEBUG.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	charmlog "github.com/charmbracelet/log"
)

// LogLevel represents different logging levels
type LogLevel int

const (
	// LevelError only logs errors
	LevelError LogLevel = iota
	// LevelWarn logs warnings and errors
	LevelWarn
	// LevelInfo logs general information, warnings and errors
	LevelInfo
	// LevelDebug logs detailed debug information and all above
	LevelDebug
	// LevelTrace logs very detailed trace information and all above
	LevelTrace
)

var levelNames = map[LogLevel]string{
	LevelError: "ERROR",
	LevelWarn:  "WARN",
	LevelInfo:  "INFO",
	LevelDebug: "DEBUG",
	LevelTrace: "TRACE",
}

// String returns the upper-case name of the level.
func (l LogLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("LEVEL(%d)", int(l))
}

// ParseLevel maps a level name (case-insensitive) to a LogLevel.
func ParseLevel(name string) (LogLevel, error) {
	for level, levelName := range levelNames {
		if strings.EqualFold(name, levelName) {
			return level, nil
		}
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", name)
}

// levelState is shared by a logger and every logger derived from it with
// WithPrefix, so SetLevel on the root affects all components.
type levelState struct {
	mu    sync.RWMutex
	level LogLevel
}

// Logger provides structured logging capabilities
type Logger struct {
	state  *levelState
	prefix string
	logger *charmlog.Logger
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// GetLogger returns the default logger instance
func GetLogger() *Logger {
	once.Do(func() {
		defaultLogger = NewLogger("lazyns")

		if level := os.Getenv("LOG_LEVEL"); level != "" {
			if parsed, err := ParseLevel(level); err == nil {
				defaultLogger.SetLevel(parsed)
			}
		}
		if os.Getenv("LAZYNS_TRACE") != "" {
			defaultLogger.SetLevel(LevelTrace)
		}
	})
	return defaultLogger
}

// NewLogger creates a new logger with the given prefix writing to stderr.
func NewLogger(prefix string) *Logger {
	return NewLoggerWithWriter(prefix, os.Stderr)
}

// NewLoggerWithWriter creates a new logger with the given prefix writing to w.
func NewLoggerWithWriter(prefix string, w io.Writer) *Logger {
	backend := charmlog.NewWithOptions(w, charmlog.Options{
		Prefix:          prefix,
		ReportTimestamp: true,
		TimeFormat:      "2006-01-02 15:04:05.000000",
		Level:           charmlog.DebugLevel,
		ReportCaller:    os.Getenv("LOG_LONGFILE") != "",
	})

	return &Logger{
		state:  &levelState{level: LevelInfo},
		prefix: prefix,
		logger: backend,
	}
}

// SetLevel sets the logging level
func (l *Logger) SetLevel(level LogLevel) {
	l.state.mu.Lock()
	defer l.state.mu.Unlock()
	l.state.level = level
}

// Level returns the current logging level.
func (l *Logger) Level() LogLevel {
	l.state.mu.RLock()
	defer l.state.mu.RUnlock()
	return l.state.level
}

// SetOutput redirects the logger output.
func (l *Logger) SetOutput(w io.Writer) {
	l.logger.SetOutput(w)
}

func (l *Logger) shouldLog(level LogLevel) bool {
	return level <= l.Level()
}

func (l *Logger) log(level LogLevel, format string, args ...interface{}) {
	if !l.shouldLog(level) {
		return
	}

	msg := fmt.Sprintf(format, args...)
	switch level {
	case LevelError:
		l.logger.Error(msg)
	case LevelWarn:
		l.logger.Warn(msg)
	case LevelInfo:
		l.logger.Info(msg)
	case LevelDebug:
		l.logger.Debug(msg)
	default:
		l.logger.Debug(msg, "level", levelNames[LevelTrace])
	}
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.log(LevelError, format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	l.log(LevelWarn, format, args...)
}

// Info logs an informational message
func (l *Logger) Info(format string, args ...interface{}) {
	l.log(LevelInfo, format, args...)
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(LevelDebug, format, args...)
}

// Trace logs a trace message
func (l *Logger) Trace(format string, args ...interface{}) {
	l.log(LevelTrace, format, args...)
}

// WithPrefix creates a new logger with an additional prefix. The derived
// logger shares the level of its parent.
func (l *Logger) WithPrefix(prefix string) *Logger {
	full := prefix
	if l.prefix != "" {
		full = l.prefix + "/" + prefix
	}
	return &Logger{
		state:  l.state,
		prefix: full,
		logger: l.logger.WithPrefix(full),
	}
}

// Sink adapts the logger to the plain message hook accepted by
// loader.WithLogger. Messages are emitted at debug level.
func (l *Logger) Sink() func(string) {
	return func(msg string) {
		l.log(LevelDebug, "%s", msg)
	}
}

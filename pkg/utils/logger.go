/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2025-12-24
 */
package utils

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// LogLevel represents logging level
type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLogLevel maps a config string to a LogLevel. Unknown values map to info.
func ParseLogLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "trace":
		return LogLevelDebug
	case "warn", "warning":
		return LogLevelWarn
	case "error":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

func (l LogLevel) zerolog() zerolog.Level {
	switch l {
	case LogLevelDebug:
		return zerolog.DebugLevel
	case LogLevelWarn:
		return zerolog.WarnLevel
	case LogLevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// LogCallback is called when a log message is generated
type LogCallback func(level LogLevel, message string)

// Logger is a thread-safe leveled logger backed by zerolog.
// When a callback is set (FFI hosts), messages go to the callback instead.
type Logger struct {
	mu       sync.RWMutex
	level    LogLevel
	callback LogCallback
	prefix   string
	// base carries writer and timestamp; module is added per message
	base zerolog.Logger

	// root owns level, callback and output for loggers derived through With
	root *Logger
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// GetLogger returns the default logger instance
func GetLogger() *Logger {
	once.Do(func() {
		defaultLogger = NewLogger("call")
	})
	return defaultLogger
}

// NewLogger creates a new logger with the given prefix writing to stderr
func NewLogger(prefix string) *Logger {
	return NewLoggerWithWriter(prefix, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "2006-01-02 15:04:05.000"})
}

// NewLoggerWithWriter creates a logger rendering to w
func NewLoggerWithWriter(prefix string, w io.Writer) *Logger {
	return &Logger{
		level:  LogLevelInfo,
		prefix: prefix,
		base:   zerolog.New(w).With().Timestamp().Logger(),
	}
}

func (l *Logger) owner() *Logger {
	if l.root != nil {
		return l.root
	}
	return l
}

// SetLevel sets the minimum log level
func (l *Logger) SetLevel(level LogLevel) {
	l = l.owner()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// Level returns the minimum log level
func (l *Logger) Level() LogLevel {
	l = l.owner()
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.level
}

// SetCallback sets the log callback
func (l *Logger) SetCallback(callback LogCallback) {
	l = l.owner()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.callback = callback
}

// SetOutput replaces the zerolog writer, e.g. JSON to stdout in production.
// Loggers derived through With follow the change.
func (l *Logger) SetOutput(w io.Writer) {
	l = l.owner()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.base = l.base.Output(w)
}

// With returns a child logger whose prefix is extended with scope.
// Level, callback and output stay owned by the root logger.
func (l *Logger) With(scope string) *Logger {
	return &Logger{
		prefix: l.prefix + "." + scope,
		root:   l.owner(),
	}
}

func (l *Logger) log(level LogLevel, format string, args ...interface{}) {
	owner := l.owner()
	owner.mu.RLock()
	currentLevel := owner.level
	callback := owner.callback
	base := owner.base
	owner.mu.RUnlock()

	if level < currentLevel {
		return
	}

	message := fmt.Sprintf(format, args...)
	if callback != nil {
		callback(level, fmt.Sprintf("[%s] [%s] %s", level.String(), l.prefix, message))
		return
	}
	base.WithLevel(level.zerolog()).Str("module", l.prefix).Msg(message)
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(LogLevelDebug, format, args...)
}

// Info logs an info message
func (l *Logger) Info(format string, args ...interface{}) {
	l.log(LogLevelInfo, format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	l.log(LogLevelWarn, format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.log(LogLevelError, format, args...)
}

// Package-level convenience functions

// Debug logs a debug message using the default logger
func Debug(format string, args ...interface{}) {
	GetLogger().Debug(format, args...)
}

// Info logs an info message using the default logger
func Info(format string, args ...interface{}) {
	GetLogger().Info(format, args...)
}

// Warn logs a warning message using the default logger
func Warn(format string, args ...interface{}) {
	GetLogger().Warn(format, args...)
}

// Error logs an error message using the default logger
func Error(format string, args ...interface{}) {
	GetLogger().Error(format, args...)
}

// SetLevel sets the log level for the default logger
func SetLevel(level LogLevel) {
	GetLogger().SetLevel(level)
}

// SetCallback sets the callback for the default logger
func SetCallback(callback LogCallback) {
	GetLogger().SetCallback(callback)
}

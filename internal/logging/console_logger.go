// Package logging provides the logging gateway used across the runtime.
// Everything writes to stderr: stdout belongs to the JSON-RPC streams of
// managed servers and must stay clean.
package logging

import (
	"fmt"
	"log"
	"os"
	"sync"
)

// Level defines the logging level
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "INFO"
	}
}

// Logger is the logging gateway the services depend on.
type Logger interface {
	// Log logs a message with the specified level
	Log(level Level, message string, fields map[string]interface{})

	// LogError logs an error
	LogError(err error, message string, fields map[string]interface{})

	// SetLevel sets the minimum level that produces output
	SetLevel(level Level)
}

// ConsoleLogger writes leveled lines to stderr through the standard logger.
type ConsoleLogger struct {
	logger *log.Logger
	mutex  sync.Mutex
	level  Level
}

// NewConsoleLogger creates a console logger. With debug false the level is
// Warn, keeping normal runs quiet.
func NewConsoleLogger(debug bool) *ConsoleLogger {
	level := LevelWarn
	if debug {
		level = LevelDebug
	}
	return &ConsoleLogger{
		logger: log.New(os.Stderr, "[forge] ", log.LstdFlags),
		level:  level,
	}
}

// Log logs a message with the specified level
func (l *ConsoleLogger) Log(level Level, message string, fields map[string]interface{}) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if level < l.level {
		return
	}
	if len(fields) > 0 {
		l.logger.Printf("%s: %s (fields: %v)", level, message, fields)
	} else {
		l.logger.Printf("%s: %s", level, message)
	}
}

// LogError logs an error
func (l *ConsoleLogger) LogError(err error, message string, fields map[string]interface{}) {
	if err != nil {
		message = fmt.Sprintf("%s: %v", message, err)
	}
	l.Log(LevelError, message, fields)
}

// SetLevel sets the minimum level that produces output
func (l *ConsoleLogger) SetLevel(level Level) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.level = level
}

// NopLogger discards everything. Used where a component requires a logger
// but the caller wants complete silence.
type NopLogger struct{}

func (NopLogger) Log(Level, string, map[string]interface{})      {}
func (NopLogger) LogError(error, string, map[string]interface{}) {}
func (NopLogger) SetLevel(Level)                                 {}

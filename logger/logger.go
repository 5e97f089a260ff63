// Package logger provides a configurable logger that can write to multiple outputs.
// Init must be called early in the application lifecycle before using other logger functions.
// Functions like AddOutput and SetEnabled will return errors if called before Init.
package logger

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

// Level orders log messages by severity. Messages below the logger's level
// are discarded.
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
		return fmt.Sprintf("LEVEL(%d)", int(l))
	}
}

// ParseLevel accepts debug, info, warn and error in any case.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// Logger is a configurable logger that can write to multiple outputs
type Logger struct {
	mu      sync.Mutex
	outputs []io.Writer
	prefix  string
	enabled bool
	level   Level
}

var (
	globalLogger *Logger
	once         sync.Once
	globalBuffer *LogBuffer
	bufferOnce   sync.Once
)

// GetGlobalLogBuffer returns the global log buffer
func GetGlobalLogBuffer() *LogBuffer {
	bufferOnce.Do(func() {
		globalBuffer = NewLogBuffer(1000) // Keep last 1000 log entries
	})
	return globalBuffer
}

// Init initializes the global logger
func Init(prefix string, writeToStdout bool) {
	once.Do(func() {
		outputs := []io.Writer{}
		if writeToStdout {
			outputs = append(outputs, os.Stdout)
		}
		globalLogger = &Logger{
			outputs: outputs,
			prefix:  prefix,
			enabled: true,
			level:   LevelInfo,
		}
	})
}

// AddOutput adds an additional output writer (e.g., for TUI log buffer).
// Returns an error if called before Init.
func AddOutput(w io.Writer) error {
	if globalLogger == nil {
		return errors.New("logger not initialized: call logger.Init() first")
	}
	globalLogger.mu.Lock()
	defer globalLogger.mu.Unlock()
	globalLogger.outputs = append(globalLogger.outputs, w)
	return nil
}

// RemoveOutput removes an output writer.
// Returns an error if called before Init.
func RemoveOutput(w io.Writer) error {
	if globalLogger == nil {
		return errors.New("logger not initialized: call logger.Init() first")
	}
	globalLogger.mu.Lock()
	defer globalLogger.mu.Unlock()

	newOutputs := []io.Writer{}
	for _, output := range globalLogger.outputs {
		if output != w {
			newOutputs = append(newOutputs, output)
		}
	}
	globalLogger.outputs = newOutputs
	return nil
}

// SetEnabled enables or disables logging.
// Returns an error if called before Init.
func SetEnabled(enabled bool) error {
	if globalLogger == nil {
		return errors.New("logger not initialized: call logger.Init() first")
	}
	globalLogger.mu.Lock()
	defer globalLogger.mu.Unlock()
	globalLogger.enabled = enabled
	return nil
}

// SetLevel sets the minimum level written.
// Returns an error if called before Init.
func SetLevel(level Level) error {
	if globalLogger == nil {
		return errors.New("logger not initialized: call logger.Init() first")
	}
	globalLogger.mu.Lock()
	defer globalLogger.mu.Unlock()
	globalLogger.level = level
	return nil
}

// Printf logs a formatted message at info level without a level tag.
func Printf(format string, v ...interface{}) {
	write(LevelInfo, "", format, v...)
}

func write(level Level, tag string, format string, v ...interface{}) {
	if globalLogger == nil {
		// Fallback to standard log if not initialized
		if level >= LevelInfo {
			log.Printf(tag+format, v...)
		}
		return
	}

	globalLogger.mu.Lock()
	defer globalLogger.mu.Unlock()

	if !globalLogger.enabled || level < globalLogger.level {
		return
	}

	msg := fmt.Sprintf(tag+format, v...)
	// Remove trailing newline if present (we'll add it back)
	msg = strings.TrimSuffix(msg, "\n")

	// Add prefix if specified
	if globalLogger.prefix != "" {
		msg = fmt.Sprintf("[%s] %s", globalLogger.prefix, msg)
	}

	msgWithNewline := []byte(msg + "\n")
	for _, output := range globalLogger.outputs {
		output.Write(msgWithNewline)
	}
}

// Peerf logs an info message attributed to a peer, in the "[peer] message"
// form LogBufferWriter understands.
func Peerf(peer string, format string, v ...interface{}) {
	write(LevelInfo, "", "[%s] %s", peer, fmt.Sprintf(format, v...))
}

// PeerDebugf is Peerf at debug level.
func PeerDebugf(peer string, format string, v ...interface{}) {
	write(LevelDebug, "", "[%s] [DEBUG] %s", peer, fmt.Sprintf(format, v...))
}

// PeerErrorf is Peerf at error level.
func PeerErrorf(peer string, format string, v ...interface{}) {
	write(LevelError, "", "[%s] [ERROR] %s", peer, fmt.Sprintf(format, v...))
}

// Debugf logs a debug-level formatted message
func Debugf(format string, v ...interface{}) {
	write(LevelDebug, "[DEBUG] ", format, v...)
}

// Infof logs an info-level formatted message
func Infof(format string, v ...interface{}) {
	write(LevelInfo, "[INFO] ", format, v...)
}

// Info logs an info-level message
func Info(v ...interface{}) {
	write(LevelInfo, "[INFO] ", "%s", fmt.Sprint(v...))
}

// Warnf logs a warning-level formatted message
func Warnf(format string, v ...interface{}) {
	write(LevelWarn, "[WARN] ", format, v...)
}

// Errorf logs an error-level formatted message
func Errorf(format string, v ...interface{}) {
	write(LevelError, "[ERROR] ", format, v...)
}

// Error logs an error-level message
func Error(v ...interface{}) {
	write(LevelError, "[ERROR] ", "%s", fmt.Sprint(v...))
}

// GetGlobalLogger returns the global logger instance (for testing/debugging)
func GetGlobalLogger() *Logger {
	return globalLogger
}

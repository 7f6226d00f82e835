// Package logger provides the process-wide logger used by every other
// package. It mirrors WARN/ERROR (and explicit Console calls) to stdout
// while writing every level to a log file, the same two-sink split the
// rest of this codebase's ancestry uses.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Level lists supported log severities.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var levelNames = map[Level]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
}

// ParseLevel converts a flag/config string into a Level, defaulting to INFO.
func ParseLevel(s string) Level {
	switch s {
	case "debug":
		return DEBUG
	case "warn":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

// Logger writes to a log file plus console highlights.
type Logger struct {
	mu          sync.Mutex
	fileLogger  *log.Logger
	consoleLog  *log.Logger
	level       Level
	logFile     *os.File
	logFilePath string
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// Init creates the global logger. Safe to call multiple times; only the
// first call takes effect.
func Init(logDir string, level Level, prefix string) error {
	var initErr error
	once.Do(func() {
		if logDir == "" {
			logDir = "logs"
		}
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			initErr = fmt.Errorf("create log directory: %w", err)
			return
		}

		if prefix == "" {
			prefix = "redis-server"
		}
		logFilePath := filepath.Join(logDir, fmt.Sprintf("%s.log", prefix))

		logFile, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			initErr = fmt.Errorf("open log file: %w", err)
			return
		}

		defaultLogger = &Logger{
			fileLogger:  log.New(logFile, "", 0),
			consoleLog:  log.New(os.Stdout, "", 0),
			level:       level,
			logFile:     logFile,
			logFilePath: logFilePath,
		}
	})
	return initErr
}

// Close shuts down the log file.
func Close() error {
	if defaultLogger != nil && defaultLogger.logFile != nil {
		return defaultLogger.logFile.Close()
	}
	return nil
}

// GetLogFilePath returns the backing log file path, if initialized.
func GetLogFilePath() string {
	if defaultLogger != nil {
		return defaultLogger.logFilePath
	}
	return ""
}

func formatMessage(level Level, format string, args ...interface{}) string {
	timestamp := time.Now().Format("2006/01/02 15:04:05")
	return fmt.Sprintf("%s [%s] %s", timestamp, levelNames[level], fmt.Sprintf(format, args...))
}

func logToFile(level Level, format string, args ...interface{}) {
	if defaultLogger == nil {
		return
	}
	if level < defaultLogger.level {
		return
	}
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()
	defaultLogger.fileLogger.Println(formatMessage(level, format, args...))
}

func logToConsole(format string, args ...interface{}) {
	if defaultLogger == nil {
		fmt.Printf(format+"\n", args...)
		return
	}
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()
	timestamp := time.Now().Format("2006/01/02 15:04:05")
	defaultLogger.consoleLog.Printf("%s [redis-server] %s", timestamp, fmt.Sprintf(format, args...))
}

func logToBoth(level Level, format string, args ...interface{}) {
	logToFile(level, format, args...)
	logToConsole(format, args...)
}

// Debug logs a debug message (file only).
func Debug(format string, args ...interface{}) { logToFile(DEBUG, format, args...) }

// Info logs an info message (file only).
func Info(format string, args ...interface{}) { logToFile(INFO, format, args...) }

// Warn logs a warning (file + console).
func Warn(format string, args ...interface{}) { logToBoth(WARN, format, args...) }

// Error logs an error (file + console).
func Error(format string, args ...interface{}) { logToBoth(ERROR, format, args...) }

// Console prints a status line to the console and mirrors it to the file.
func Console(format string, args ...interface{}) {
	logToConsole(format, args...)
	logToFile(INFO, format, args...)
}

// Writer exposes the log file as an io.Writer, e.g. for redirecting the
// standard library's own `log` package output.
func Writer() io.Writer {
	if defaultLogger != nil {
		return defaultLogger.logFile
	}
	return os.Stdout
}

package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Level is the minimum severity a Logger writes.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelOff
)

// String returns the label written into each log entry.
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
		return "OFF"
	}
}

// ParseLevel maps a level name (debug, info, warn, error, off) to a Level.
// Unknown names resolve to LevelDebug so nothing is silently dropped.
func ParseLevel(name string) Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	case "off", "none", "quiet":
		return LevelOff
	default:
		return LevelDebug
	}
}

// Logger provides structured debug logging for browseruse components.
// All logs are written to a run-specific file in ~/.browseruse/logs/
// (or $BROWSERUSE_LOG_DIR when set).
type Logger struct {
	runID     string
	component string
	file      *os.File
	logger    *log.Logger
	mu        sync.Mutex
	logPath   string
	level     Level
	closeOnce sync.Once
}

var (
	// Global run ID for the current execution
	runID     string
	runIDOnce sync.Once

	// logDir is the directory where log files are stored
	logDir string

	// initOnce ensures directory initialization happens once
	initOnce sync.Once

	// initErr stores any error from directory initialization
	initErr error

	// defaultLevel applies to loggers created by NewLogger
	defaultLevel = ParseLevel(os.Getenv("BROWSERUSE_LOG_LEVEL"))
)

// getRunID returns or creates the run ID for this execution
func getRunID() string {
	runIDOnce.Do(func() {
		runID = uuid.New().String()
	})
	return runID
}

// initLogDirectory ensures the log directory exists
func initLogDirectory() error {
	initOnce.Do(func() {
		if logDir == "" {
			if dir := os.Getenv("BROWSERUSE_LOG_DIR"); dir != "" {
				logDir = dir
			} else {
				homeDir, err := os.UserHomeDir()
				if err != nil {
					initErr = fmt.Errorf("failed to get home directory: %w", err)
					return
				}
				logDir = filepath.Join(homeDir, ".browseruse", "logs")
			}
		}
		if err := os.MkdirAll(logDir, 0750); err != nil {
			initErr = fmt.Errorf("failed to create log directory: %w", err)
			return
		}
	})
	return initErr
}

// NewLogger creates a new logger for a specific component.
// The logger writes to <log-dir>/<run-id>-browseruse.log
//
// If the log directory cannot be created or the log file cannot be opened,
// it returns a fallback logger that writes to stderr along with the error.
func NewLogger(component string) (*Logger, error) {
	if err := initLogDirectory(); err != nil {
		return newFallbackLogger(component, err), err
	}

	id := getRunID()
	logPath := filepath.Join(logDir, fmt.Sprintf("%s-browseruse.log", id))

	// Multiple components append to the same file
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return newFallbackLogger(component, fmt.Errorf("failed to open log file: %w", err)), err
	}

	return &Logger{
		runID:     id,
		component: component,
		file:      file,
		logger:    log.New(file, "", 0),
		logPath:   logPath,
		level:     defaultLevel,
	}, nil
}

// NewWriterLogger creates a logger that writes entries to w instead of the
// run log file. Useful for tests and for embedding in other programs.
func NewWriterLogger(component string, w io.Writer) *Logger {
	return &Logger{
		runID:     getRunID(),
		component: component,
		logger:    log.New(w, "", 0),
		level:     LevelDebug,
	}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	l := NewWriterLogger("nop", io.Discard)
	l.level = LevelOff
	return l
}

// MustLogger returns the component logger, falling back to stderr and
// reporting the reason there when the log file is unavailable.
func MustLogger(component string) *Logger {
	l, err := NewLogger(component)
	if err != nil {
		l.Warnf("Failed to initialize %s logger, using stderr fallback: %v", component, err)
	}
	return l
}

// newFallbackLogger creates a logger that writes to stderr when file logging fails
func newFallbackLogger(component string, err error) *Logger {
	logger := log.New(os.Stderr, fmt.Sprintf("[%s] ", component), log.LstdFlags|log.Lshortfile)
	logger.Printf("WARNING: Failed to initialize file logging: %v", err)
	logger.Printf("Falling back to stderr logging")

	return &Logger{
		runID:     getRunID(),
		component: component,
		logger:    logger,
		level:     defaultLevel,
	}
}

// SetLevel changes the minimum level this logger writes.
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// With returns a logger for a sub-component sharing the same destination.
func (l *Logger) With(component string) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	return &Logger{
		runID:     l.runID,
		component: l.component + "." + component,
		logger:    l.logger,
		logPath:   l.logPath,
		level:     l.level,
	}
}

// formatLogEntry creates a structured log entry with timestamp, component, and level
func (l *Logger) formatLogEntry(level Level, message string) string {
	timestamp := time.Now().Format("2006-01-02 15:04:05.000")
	return fmt.Sprintf("[%s] [%s] [%s] %s", timestamp, l.component, level, message)
}

func (l *Logger) write(level Level, format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if level < l.level {
		return
	}
	l.logger.Println(l.formatLogEntry(level, fmt.Sprintf(format, v...)))
}

// Printf logs a formatted message
func (l *Logger) Printf(format string, v ...interface{}) {
	l.write(LevelInfo, format, v...)
}

// Debugf logs a debug-level message
func (l *Logger) Debugf(format string, v ...interface{}) {
	l.write(LevelDebug, format, v...)
}

// Infof logs an info-level message
func (l *Logger) Infof(format string, v ...interface{}) {
	l.write(LevelInfo, format, v...)
}

// Warnf logs a warning-level message
func (l *Logger) Warnf(format string, v ...interface{}) {
	l.write(LevelWarn, format, v...)
}

// Errorf logs an error-level message
func (l *Logger) Errorf(format string, v ...interface{}) {
	l.write(LevelError, format, v...)
}

// Writer returns an io.Writer that writes to this logger's destination
func (l *Logger) Writer() io.Writer {
	if l.file != nil {
		return l.file
	}
	return l.logger.Writer()
}

// RunID returns the current run ID
func (l *Logger) RunID() string {
	return l.runID
}

// LogPath returns the path to the log file
func (l *Logger) LogPath() string {
	return l.logPath
}

// Close closes the log file. Safe to call multiple times.
func (l *Logger) Close() error {
	var err error
	l.closeOnce.Do(func() {
		if l.file != nil {
			err = l.file.Close()
		}
	})
	return err
}

// GetRunID returns the current global run ID
func GetRunID() string {
	return getRunID()
}

// GetLogDirectory returns the directory where logs are stored
func GetLogDirectory() (string, error) {
	if err := initLogDirectory(); err != nil {
		return "", err
	}
	return logDir, nil
}

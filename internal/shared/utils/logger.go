package utils

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"
)

const (
	logDirEnvVar   = "SPECPILOT_LOG_DIR"
	logLevelEnvVar = "SPECPILOT_LOG_LEVEL"
	serverModeEnv  = "SPECPILOT_SERVER_MODE"

	// logDirDisabled turns file logging off entirely when used as the log dir.
	logDirDisabled = "-"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

// LogCategory selects the log file a logger writes to.
type LogCategory string

const (
	LogCategoryService LogCategory = "service"
	LogCategoryLLM     LogCategory = "llm"
	LogCategoryLatency LogCategory = "latency"
)

var (
	categoryMu      sync.Mutex
	categoryLoggers = make(map[LogCategory]*Logger)
)

// Logger writes formatted lines to a per-category log file.
type Logger struct {
	sink      *sink
	component string
	category  LogCategory
	sessionID string
}

// sink is shared by every component logger of one category.
type sink struct {
	mu     sync.Mutex
	file   *os.File
	out    *log.Logger
	level  LogLevel
	mirror io.Writer
}

// GetLogger returns the service category logger.
func GetLogger() *Logger {
	return NewCategorizedLogger(LogCategoryService, "")
}

// NewComponentLogger creates a logger for a specific component
func NewComponentLogger(component string) *Logger {
	return NewCategorizedLogger(LogCategoryService, component)
}

// NewLatencyLogger creates a logger dedicated to latency instrumentation output.
func NewLatencyLogger(component string) *Logger {
	return NewCategorizedLogger(LogCategoryLatency, component)
}

// NewCategorizedLogger creates a logger for a specific category and component.
func NewCategorizedLogger(category LogCategory, component string) *Logger {
	return &Logger{
		sink:      sinkFor(category),
		component: component,
		category:  category,
	}
}

func sinkFor(category LogCategory) *sink {
	categoryMu.Lock()
	defer categoryMu.Unlock()

	if existing, ok := categoryLoggers[category]; ok {
		return existing.sink
	}
	s := openSink(category)
	categoryLoggers[category] = &Logger{sink: s, category: category}
	return s
}

func openSink(category LogCategory) *sink {
	s := &sink{level: levelFromEnv()}
	if strings.EqualFold(strings.TrimSpace(os.Getenv(serverModeEnv)), "deploy") {
		s.mirror = os.Stdout
	}

	logDir, err := resolveLogDirectory()
	if err != nil {
		log.Printf("Failed to resolve log directory: %v", err)
		return s
	}
	if logDir == logDirDisabled {
		return s
	}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		log.Printf("Failed to create log directory %s: %v", logDir, err)
		return s
	}

	logPath := filepath.Join(logDir, logFileName(category))
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		log.Printf("Failed to open log file: %v", err)
		return s
	}
	s.file = file
	s.out = log.New(file, "", 0)
	return s
}

// LogDirectory returns the directory category log files are written to, or
// "-" when file logging is disabled.
func LogDirectory() (string, error) {
	return resolveLogDirectory()
}

// LogFileName returns the file name used for category inside LogDirectory.
func LogFileName(category LogCategory) string {
	return logFileName(category)
}

func resolveLogDirectory() (string, error) {
	if override := strings.TrimSpace(os.Getenv(logDirEnvVar)); override != "" {
		return override, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".specpilot", "logs"), nil
}

func logFileName(category LogCategory) string {
	switch category {
	case LogCategoryLLM:
		return "specpilot-llm.log"
	case LogCategoryLatency:
		return "specpilot-latency.log"
	default:
		return "specpilot-service.log"
	}
}

func levelFromEnv() LogLevel {
	level, ok := ParseLevel(os.Getenv(logLevelEnvVar))
	if !ok {
		return INFO
	}
	return level
}

// ParseLevel maps a textual level ("debug", "info", "warn", "error") to a LogLevel.
func ParseLevel(raw string) (LogLevel, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return DEBUG, true
	case "info":
		return INFO, true
	case "warn", "warning":
		return WARN, true
	case "error":
		return ERROR, true
	default:
		return INFO, false
	}
}

// SetLevel sets the minimum log level for every logger of the category.
func SetLevel(category LogCategory, level LogLevel) {
	s := sinkFor(category)
	s.mu.Lock()
	s.level = level
	s.mu.Unlock()
}

// SetLevel sets the minimum log level
func (l *Logger) SetLevel(level LogLevel) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.level = level
}

// Close closes the log file
func (l *Logger) Close() error {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	if l.sink.file != nil {
		err := l.sink.file.Close()
		l.sink.file = nil
		l.sink.out = nil
		return err
	}
	return nil
}

// WithSessionID returns a shallow copy of the logger that tags lines with a session id.
func (l *Logger) WithSessionID(sessionID string) *Logger {
	if l == nil {
		return nil
	}
	if strings.TrimSpace(sessionID) == "" {
		return l
	}
	return &Logger{
		sink:      l.sink,
		component: l.component,
		category:  l.category,
		sessionID: sessionID,
	}
}

func (l *Logger) log(level LogLevel, format string, args ...interface{}) {
	if l == nil || l.sink == nil {
		return
	}

	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()

	if level < l.sink.level || (l.sink.out == nil && l.sink.mirror == nil) {
		return
	}

	_, file, line, ok := runtime.Caller(2)
	if ok {
		file = filepath.Base(file)
	} else {
		file = "???"
		line = 0
	}

	// Format: 2026-10-18 12:34:56 [INFO] [SERVICE] [component] [session=...] file.go:123 - Message
	timestamp := time.Now().Format("2006-01-02 15:04:05")
	component := l.component
	if component == "" {
		component = "specpilot"
	}
	category := strings.ToUpper(string(l.category))
	if category == "" {
		category = "SERVICE"
	}
	session := ""
	if l.sessionID != "" {
		session = fmt.Sprintf(" [session=%s]", l.sessionID)
	}

	logLine := fmt.Sprintf("%s [%s] [%s] [%s]%s %s:%d - %s\n",
		timestamp, levelToString(level), category, component, session, file, line, fmt.Sprintf(format, args...))

	if l.sink.out != nil {
		l.sink.out.Print(logLine)
	}
	if l.sink.mirror != nil {
		_, _ = io.WriteString(l.sink.mirror, logLine)
	}
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(DEBUG, format, args...)
}

// Info logs an info message
func (l *Logger) Info(format string, args ...interface{}) {
	l.log(INFO, format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	l.log(WARN, format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.log(ERROR, format, args...)
}

func levelToString(level LogLevel) string {
	switch level {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Package logger provides the structured JSON logger shared by every service.
package logger

import (
	"encoding/json"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

type Logger interface {
	Info(message string, fields map[string]interface{})
	Error(message string, fields map[string]interface{})
	Warn(message string, fields map[string]interface{})
	Debug(message string, fields map[string]interface{})
	Fatal(message string, fields map[string]interface{})
}

// Level orders log severities.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

var levelNames = map[Level]string{
	LevelDebug: "debug",
	LevelInfo:  "info",
	LevelWarn:  "warn",
	LevelError: "error",
	LevelFatal: "fatal",
}

// ParseLevel maps LOG_LEVEL values to a Level. Unknown values mean info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	}
	return LevelInfo
}

type jsonLogger struct {
	serviceName string
	minLevel    Level
	mu          sync.Mutex
	logger      *log.Logger
	exit        func(int)
}

// New returns a JSON-lines logger on stdout. The minimum level comes from LOG_LEVEL.
func New(serviceName string) Logger {
	return NewWithWriter(serviceName, os.Stdout, ParseLevel(os.Getenv("LOG_LEVEL")))
}

// NewWithWriter returns a JSON-lines logger writing to w.
func NewWithWriter(serviceName string, w io.Writer, minLevel Level) Logger {
	return &jsonLogger{
		serviceName: serviceName,
		minLevel:    minLevel,
		logger:      log.New(w, "", 0),
		exit:        os.Exit,
	}
}

func (l *jsonLogger) log(level Level, message string, fields map[string]interface{}) {
	if level < l.minLevel {
		return
	}

	entry := map[string]interface{}{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"level":     levelNames[level],
		"service":   l.serviceName,
		"message":   message,
	}

	for k, v := range fields {
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		entry[k] = v
	}

	jsonData, err := json.Marshal(entry)
	if err != nil {
		jsonData, _ = json.Marshal(map[string]interface{}{
			"timestamp": entry["timestamp"],
			"level":     entry["level"],
			"service":   l.serviceName,
			"message":   message,
			"log_error": err.Error(),
		})
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.logger.Println(string(jsonData))
}

func (l *jsonLogger) Info(message string, fields map[string]interface{}) {
	l.log(LevelInfo, message, fields)
}

func (l *jsonLogger) Error(message string, fields map[string]interface{}) {
	l.log(LevelError, message, fields)
}

func (l *jsonLogger) Warn(message string, fields map[string]interface{}) {
	l.log(LevelWarn, message, fields)
}

func (l *jsonLogger) Debug(message string, fields map[string]interface{}) {
	l.log(LevelDebug, message, fields)
}

func (l *jsonLogger) Fatal(message string, fields map[string]interface{}) {
	l.log(LevelFatal, message, fields)
	l.exit(1)
}

func NewNop() Logger {
	return &nopLogger{}
}

type nopLogger struct{}

func (l *nopLogger) Info(message string, fields map[string]interface{})  {}
func (l *nopLogger) Error(message string, fields map[string]interface{}) {}
func (l *nopLogger) Warn(message string, fields map[string]interface{})  {}
func (l *nopLogger) Debug(message string, fields map[string]interface{}) {}
func (l *nopLogger) Fatal(message string, fields map[string]interface{}) {}

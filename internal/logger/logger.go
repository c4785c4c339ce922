package logger

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

type Logger struct {
	logger *logrus.Logger
	hook   *MemoryHook
}

// NewLogger initializes the application logger. JSON output is used in
// production; the text formatter is friendlier for local development.
func NewLogger(level string, jsonFormat bool) *Logger {
	logger := logrus.New()
	logger.Out = os.Stdout

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)

	if jsonFormat {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
			PadLevelText:  true,
		})
	}

	hook := NewMemoryHook(100)
	logger.AddHook(hook)

	return &Logger{logger: logger, hook: hook}
}

func (l *Logger) Debug(msg string, fields ...logrus.Fields) {
	l.logWithFields(logrus.DebugLevel, msg, fields...)
}

func (l *Logger) Info(msg string, fields ...logrus.Fields) {
	l.logWithFields(logrus.InfoLevel, msg, fields...)
}

func (l *Logger) Warn(msg string, fields ...logrus.Fields) {
	l.logWithFields(logrus.WarnLevel, msg, fields...)
}

func (l *Logger) Error(msg string, fields ...logrus.Fields) {
	l.logWithFields(logrus.ErrorLevel, msg, fields...)
}

func (l *Logger) Fatal(msg string, fields ...logrus.Fields) {
	l.logWithFields(logrus.FatalLevel, msg, fields...)
	os.Exit(1)
}

// Recent returns the most recent log lines, for the /api/logs endpoint.
func (l *Logger) Recent() []string {
	return l.hook.Entries()
}

func (l *Logger) logWithFields(level logrus.Level, msg string, fields ...logrus.Fields) {
	entry := logrus.NewEntry(l.logger)
	for _, f := range fields {
		entry = entry.WithFields(f)
	}
	entry.Log(level, msg)
}

// MemoryHook keeps the last N log lines in memory so the dashboard can show
// them without shelling out to the host.
type MemoryHook struct {
	mu      sync.RWMutex
	entries []string
	max     int
}

func NewMemoryHook(max int) *MemoryHook {
	return &MemoryHook{max: max}
}

func (h *MemoryHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *MemoryHook) Fire(entry *logrus.Entry) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	line := fmt.Sprintf("[%s] %s %s",
		entry.Time.Format("15:04:05"),
		strings.ToUpper(entry.Level.String()),
		entry.Message,
	)

	h.entries = append(h.entries, line)
	if len(h.entries) > h.max {
		h.entries = h.entries[1:]
	}
	return nil
}

func (h *MemoryHook) Entries() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]string, len(h.entries))
	copy(out, h.entries)
	return out
}

// Package logger owns the process-wide structured logger.
// All packages obtain named sub-loggers from here instead of
// constructing their own.
package logger

import (
	"os"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"
)

var (
	mu   sync.RWMutex
	root hclog.Logger = hclog.NewNullLogger()
)

// Setup configures the root logger. format is "json" or "console".
func Setup(level, format string) {
	mu.Lock()
	defer mu.Unlock()

	root = hclog.New(&hclog.LoggerOptions{
		Name:       "captiond",
		Level:      parseLevel(level),
		Output:     os.Stdout,
		JSONFormat: strings.EqualFold(format, "json"),
	})
}

// Named returns a sub-logger for a component, e.g. "processing".
func Named(name string) hclog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return root.Named(name)
}

// Info logs at info level on the root logger.
func Info(msg string, args ...interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	root.Info(msg, args...)
}

// Warn logs at warn level on the root logger.
func Warn(msg string, args ...interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	root.Warn(msg, args...)
}

// Error logs at error level on the root logger.
func Error(msg string, args ...interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	root.Error(msg, args...)
}

// Debug logs at debug level on the root logger.
func Debug(msg string, args ...interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	root.Debug(msg, args...)
}

func parseLevel(level string) hclog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return hclog.Trace
	case "debug":
		return hclog.Debug
	case "warn":
		return hclog.Warn
	case "error":
		return hclog.Error
	default:
		return hclog.Info
	}
}

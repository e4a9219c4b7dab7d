// Package logx provides structured logging functionality with env-driven debug domains.
package logx

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
)

// Logger writes leveled log lines tagged with a component identifier.
type Logger struct {
	component string
	logger    *log.Logger
}

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// DebugConfig controls debug logging behavior.
type DebugConfig struct {
	Enabled bool
	Domains map[string]bool // Which domains to enable debug for (nil = all)
}

var (
	debugConfig = &DebugConfig{}
	debugMutex  sync.RWMutex
)

// Initialize debug configuration from environment variables.
func init() { //nolint:gochecknoinits // Required for env var initialization
	initDebugFromEnv()
}

func initDebugFromEnv() {
	debugMutex.Lock()
	defer debugMutex.Unlock()

	debugVal := os.Getenv("DEBUG")
	if debugVal == "1" || strings.EqualFold(debugVal, "true") {
		debugConfig.Enabled = true
	}

	// DEBUG_DOMAINS=reconciler,decision restricts debug output to those domains.
	if domains := os.Getenv("DEBUG_DOMAINS"); domains != "" {
		debugConfig.Enabled = true
		debugConfig.Domains = make(map[string]bool)
		for _, d := range strings.Split(domains, ",") {
			debugConfig.Domains[strings.TrimSpace(d)] = true
		}
	}
}

// SetDebug enables or disables debug logging globally. Used by tests and bootstrap.
func SetDebug(enabled bool) {
	debugMutex.Lock()
	defer debugMutex.Unlock()
	debugConfig.Enabled = enabled
	debugConfig.Domains = nil
}

func debugEnabledFor(domain string) bool {
	debugMutex.RLock()
	defer debugMutex.RUnlock()

	if !debugConfig.Enabled {
		return false
	}
	if debugConfig.Domains == nil {
		return true
	}
	return debugConfig.Domains[domain]
}

// NewLogger creates a logger tagged with the given component identifier.
func NewLogger(component string) *Logger {
	return &Logger{
		component: component,
		logger:    log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds),
	}
}

func (l *Logger) logf(level Level, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	l.logger.Printf("[%s] %s: %s", level, l.component, msg)
}

// Debug logs a debug message if debug logging is enabled for this component's domain.
func (l *Logger) Debug(format string, args ...any) {
	if debugEnabledFor(l.component) {
		l.logf(LevelDebug, format, args...)
	}
}

// Info logs an informational message.
func (l *Logger) Info(format string, args ...any) {
	l.logf(LevelInfo, format, args...)
}

// Warn logs a warning message.
func (l *Logger) Warn(format string, args ...any) {
	l.logf(LevelWarn, format, args...)
}

// Error logs an error message.
func (l *Logger) Error(format string, args ...any) {
	l.logf(LevelError, format, args...)
}

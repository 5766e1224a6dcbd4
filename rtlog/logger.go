// Package rtlog provides the structured logging used across the
// runtime: a component-aware logger backed by log/slog, emitting JSON
// in production environments and text for local dev, with rate-limited
// error-level output.
package rtlog

import (
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// Logger is the minimal logging contract every runtime subsystem
// depends on, never a concrete type, so callers can supply their own.
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
}

// ComponentAwareLogger lets a subsystem tag its log lines with a
// stable component name (e.g. "runtime/pipeline") without every
// caller threading the tag through manually.
type ComponentAwareLogger interface {
	Logger
	WithComponent(component string) Logger
}

// NoOpLogger discards everything. Used as the zero-value default so a
// Runtime constructed without an explicit logger never panics on a
// nil Logger field.
type NoOpLogger struct{}

func (NoOpLogger) Debug(string, map[string]interface{}) {}
func (NoOpLogger) Info(string, map[string]interface{})  {}
func (NoOpLogger) Warn(string, map[string]interface{})  {}
func (NoOpLogger) Error(string, map[string]interface{}) {}

func (NoOpLogger) WithComponent(string) Logger { return NoOpLogger{} }

// rateLimiter caps how often Error-level records are actually
// written, so a failing provider cannot flood the log.
type rateLimiter struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
}

func (r *rateLimiter) allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	if now.Sub(r.last) >= r.interval {
		r.last = now
		return true
	}
	return false
}

// SlogLogger is the production implementation: JSON handler when
// RETRIEVAL_RUNTIME_ENV=production or a KUBERNETES_SERVICE_HOST is
// present, text handler otherwise.
type SlogLogger struct {
	base      *slog.Logger
	component string
	errLimit  *rateLimiter
}

// New builds a SlogLogger. component is attached to every record as a
// "component" attribute.
func New(component string) *SlogLogger {
	handler := newHandler()
	return &SlogLogger{
		base:      slog.New(handler),
		component: component,
		errLimit:  &rateLimiter{interval: time.Second},
	}
}

func newHandler() slog.Handler {
	opts := &slog.HandlerOptions{Level: levelFromEnv()}
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" || os.Getenv("RETRIEVAL_RUNTIME_ENV") == "production" {
		return slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.NewTextHandler(os.Stdout, opts)
}

func levelFromEnv() slog.Level {
	switch strings.ToUpper(os.Getenv("RETRIEVAL_RUNTIME_LOG_LEVEL")) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (l *SlogLogger) attrs(fields map[string]interface{}) []any {
	args := make([]any, 0, len(fields)*2+2)
	args = append(args, "component", l.component)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return args
}

func (l *SlogLogger) Debug(msg string, fields map[string]interface{}) {
	l.base.Debug(msg, l.attrs(fields)...)
}

func (l *SlogLogger) Info(msg string, fields map[string]interface{}) {
	l.base.Info(msg, l.attrs(fields)...)
}

func (l *SlogLogger) Warn(msg string, fields map[string]interface{}) {
	l.base.Warn(msg, l.attrs(fields)...)
}

// Error is rate-limited to one emission per second per logger
// instance.
func (l *SlogLogger) Error(msg string, fields map[string]interface{}) {
	if !l.errLimit.allow() {
		return
	}
	l.base.Error(msg, l.attrs(fields)...)
}

// WithComponent returns a logger sharing the same handler but tagged
// with a different component name.
func (l *SlogLogger) WithComponent(component string) Logger {
	return &SlogLogger{base: l.base, component: component, errLimit: l.errLimit}
}


// Package logging builds the harness zap logger and hands out one named
// child per subsystem.
package logging

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/system
type Category string

const (
	CategoryLease   Category = "lease"   // Identity leasing, roll call
	CategoryLock    Category = "lock"    // Reservation file lock
	CategoryAuth    Category = "auth"    // Token and storage-state caches
	CategorySeed    Category = "seed"    // Heal and direct seeding
	CategoryStore   Category = "store"   // MongoDB direct path
	CategoryBrowser Category = "browser" // Browser gateway
	CategoryAPI     Category = "api"     // REST client
	CategorySession Category = "session" // Session setup, actors
)

// Categories lists every category.
var Categories = []Category{
	CategoryLease, CategoryLock, CategoryAuth, CategorySeed,
	CategoryStore, CategoryBrowser, CategoryAPI, CategorySession,
}

// Options configures New.
type Options struct {
	Level   string // debug, info, warn, error
	Format  string // json, console
	Verbose bool   // forces debug level
	// OutputPaths defaults to stderr.
	OutputPaths []string
}

// New builds the root logger from a production config.
func New(opts Options) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if strings.EqualFold(opts.Format, "console") {
		cfg = zap.NewDevelopmentConfig()
	}
	if opts.Level != "" {
		lvl, err := zapcore.ParseLevel(opts.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	if opts.Verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	if len(opts.OutputPaths) > 0 {
		cfg.OutputPaths = opts.OutputPaths
	}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

// Registry hands out per-category loggers. Disabled categories get a no-op
// logger.
type Registry struct {
	base    *zap.Logger
	enabled func(category string) bool

	mu    sync.Mutex
	named map[Category]*zap.Logger
}

// NewRegistry wraps base. enabled decides per category name whether its
// logger writes; nil enables every category.
func NewRegistry(base *zap.Logger, enabled func(category string) bool) *Registry {
	if base == nil {
		base = zap.NewNop()
	}
	if enabled == nil {
		enabled = func(string) bool { return true }
	}
	return &Registry{base: base, enabled: enabled, named: map[Category]*zap.Logger{}}
}

// Base returns the root logger.
func (r *Registry) Base() *zap.Logger { return r.base }

// Get returns the logger for category.
func (r *Registry) Get(category Category) *zap.Logger {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.named[category]; ok {
		return l
	}
	l := zap.NewNop()
	if r.enabled(string(category)) {
		l = r.base.Named(string(category))
	}
	r.named[category] = l
	return l
}

// Sync flushes the root logger.
func (r *Registry) Sync() error { return r.base.Sync() }

// Timer measures one operation.
type Timer struct {
	logger *zap.Logger
	op     string
	start  time.Time
}

// StartTimer begins timing an operation
func StartTimer(logger *zap.Logger, operation string) *Timer {
	return &Timer{logger: logger, op: operation, start: time.Now()}
}

// Stop ends the timer and logs the duration at debug level.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	t.logger.Debug(t.op+" completed", zap.Duration("elapsed", elapsed))
	return elapsed
}

// StopWithThreshold logs a warning if the operation exceeded threshold.
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		t.logger.Warn(t.op+" was slow", zap.Duration("elapsed", elapsed), zap.Duration("threshold", threshold))
	} else {
		t.logger.Debug(t.op+" completed", zap.Duration("elapsed", elapsed))
	}
	return elapsed
}

// Package logging provides categorized structured logging for angelscout.
// Every subsystem logs through a named child of one zap logger so that output
// can be filtered per category. Until Init (or SetBase) is called all loggers
// are no-ops, which keeps tests quiet.
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
	CategoryBoot     Category = "boot"     // Startup and wiring
	CategoryStore    Category = "store"    // Record store backends
	CategoryCache    Category = "cache"    // Shared cache and KV backends
	CategorySource   Category = "source"   // Generative source calls
	CategoryJob      Category = "job"      // Accumulation job runs and locking
	CategorySearch   Category = "search"   // Query orchestration
	CategoryEnrich   Category = "enrich"   // Single-record profile enrichment
	CategoryProgress Category = "progress" // Progress side-channel
)

// Config selects level, encoding and enabled categories.
type Config struct {
	Level       string          // debug, info, warn, error
	Format      string          // json, console
	OutputPaths []string        // defaults to stderr
	Categories  map[string]bool // nil enables everything
}

// Logger is a category-scoped logger. The zero value is a no-op.
type Logger struct {
	category Category
	z        *zap.Logger
	s        *zap.SugaredLogger
}

var (
	mu         sync.RWMutex
	base       = zap.NewNop()
	categories map[string]bool
	loggers    = make(map[Category]*Logger)
)

// Init builds the process logger from cfg and installs it.
func Init(cfg Config) (*zap.Logger, error) {
	var zc zap.Config
	if strings.EqualFold(cfg.Format, "console") {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	if cfg.Level != "" {
		lvl, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		zc.Level = zap.NewAtomicLevelAt(lvl)
	}
	if len(cfg.OutputPaths) > 0 {
		zc.OutputPaths = cfg.OutputPaths
	}
	l, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	install(l, cfg.Categories)
	return l, nil
}

// SetBase installs an already-built logger (tests use zaptest).
func SetBase(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	install(l, nil)
}

func install(l *zap.Logger, cats map[string]bool) {
	mu.Lock()
	defer mu.Unlock()
	base = l
	categories = cats
	loggers = make(map[Category]*Logger)
}

// Base returns the installed zap logger.
func Base() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// Sync flushes buffered entries.
func Sync() {
	_ = Base().Sync()
}

// IsCategoryEnabled reports whether a category writes output.
func IsCategoryEnabled(category Category) bool {
	mu.RLock()
	defer mu.RUnlock()
	if categories == nil {
		return true
	}
	enabled, ok := categories[string(category)]
	return !ok || enabled
}

// Get returns (or creates) the logger for a category.
func Get(category Category) *Logger {
	mu.RLock()
	if l, ok := loggers[category]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	enabled := IsCategoryEnabled(category)

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}
	z := zap.NewNop()
	if enabled {
		z = base.Named(string(category))
	}
	l := &Logger{category: category, z: z, s: z.Sugar()}
	loggers[category] = l
	return l
}

// With returns a child logger carrying structured fields.
func (l *Logger) With(fields ...zap.Field) *Logger {
	if l.z == nil {
		return l
	}
	z := l.z.With(fields...)
	return &Logger{category: l.category, z: z, s: z.Sugar()}
}

// Zap exposes the underlying zap logger.
func (l *Logger) Zap() *zap.Logger {
	if l.z == nil {
		return zap.NewNop()
	}
	return l.z
}

func (l *Logger) Debug(format string, args ...interface{}) {
	if l.s != nil {
		l.s.Debugf(format, args...)
	}
}

func (l *Logger) Info(format string, args ...interface{}) {
	if l.s != nil {
		l.s.Infof(format, args...)
	}
}

func (l *Logger) Warn(format string, args ...interface{}) {
	if l.s != nil {
		l.s.Warnf(format, args...)
	}
}

func (l *Logger) Error(format string, args ...interface{}) {
	if l.s != nil {
		l.s.Errorf(format, args...)
	}
}

// =============================================================================
// CATEGORY SHORTHANDS
// =============================================================================

func Boot(format string, args ...interface{})        { Get(CategoryBoot).Info(format, args...) }
func BootWarn(format string, args ...interface{})    { Get(CategoryBoot).Warn(format, args...) }
func Store(format string, args ...interface{})       { Get(CategoryStore).Info(format, args...) }
func StoreDebug(format string, args ...interface{})  { Get(CategoryStore).Debug(format, args...) }
func StoreWarn(format string, args ...interface{})   { Get(CategoryStore).Warn(format, args...) }
func CacheDebug(format string, args ...interface{})  { Get(CategoryCache).Debug(format, args...) }
func CacheWarn(format string, args ...interface{})   { Get(CategoryCache).Warn(format, args...) }
func Source(format string, args ...interface{})      { Get(CategorySource).Info(format, args...) }
func SourceWarn(format string, args ...interface{})  { Get(CategorySource).Warn(format, args...) }
func Job(format string, args ...interface{})         { Get(CategoryJob).Info(format, args...) }
func JobDebug(format string, args ...interface{})    { Get(CategoryJob).Debug(format, args...) }
func JobWarn(format string, args ...interface{})     { Get(CategoryJob).Warn(format, args...) }
func JobError(format string, args ...interface{})    { Get(CategoryJob).Error(format, args...) }
func Search(format string, args ...interface{})      { Get(CategorySearch).Info(format, args...) }
func SearchDebug(format string, args ...interface{}) { Get(CategorySearch).Debug(format, args...) }
func SearchWarn(format string, args ...interface{})  { Get(CategorySearch).Warn(format, args...) }
func Enrich(format string, args ...interface{})      { Get(CategoryEnrich).Info(format, args...) }
func EnrichWarn(format string, args ...interface{})  { Get(CategoryEnrich).Warn(format, args...) }

// =============================================================================
// TIMING HELPERS
// =============================================================================

// Timer helps measure operation duration
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation
func StartTimer(category Category, operation string) *Timer {
	return &Timer{category: category, op: operation, start: time.Now()}
}

// Stop ends the timer and logs the duration at debug level
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Zap().Debug("operation completed",
		zap.String("op", t.op), zap.Duration("elapsed", elapsed))
	return elapsed
}

// StopWithThreshold logs a warning if duration exceeds threshold
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Zap().Warn("slow operation",
			zap.String("op", t.op), zap.Duration("elapsed", elapsed), zap.Duration("threshold", threshold))
		return elapsed
	}
	Get(t.category).Zap().Debug("operation completed",
		zap.String("op", t.op), zap.Duration("elapsed", elapsed))
	return elapsed
}

// Package logging provides config-driven categorized logging for patina.
// Every category is a named child of one shared zap logger. Until Initialize
// is called (or when debug mode is off) all loggers are no-ops.
package logging

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/system
type Category string

const (
	CategoryBoot      Category = "boot"      // Boot/initialization
	CategoryStore     Category = "store"     // Dual store operations (records, vectors, maintenance)
	CategoryKernel    Category = "kernel"    // Mangle rule evaluation
	CategoryEmbedding Category = "embedding" // Embedding engine
	CategoryKnowledge Category = "knowledge" // Semantic search / belief validation pipeline
	CategoryCLI       Category = "cli"       // Command line surface
)

// Config mirrors the relevant parts of config.LoggingConfig
// to avoid circular imports.
type Config struct {
	DebugMode   bool
	Level       string // debug, info, warn, error
	Format      string // json, console
	OutputPaths []string
	Categories  map[string]bool
}

// Logger wraps a sugared zap logger bound to one category.
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger
}

var (
	mu      sync.RWMutex
	base    = zap.NewNop()
	config  Config
	loggers = make(map[Category]*Logger)
)

// Initialize builds the shared zap logger from cfg.
// Should be called once at startup; calling it again replaces the logger.
func Initialize(cfg Config) error {
	if !cfg.DebugMode {
		mu.Lock()
		defer mu.Unlock()
		_ = base.Sync()
		base = zap.NewNop()
		config = cfg
		loggers = make(map[Category]*Logger)
		return nil
	}

	level, err := zapcore.ParseLevel(orDefault(cfg.Level, "info"))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.Encoding = "json"
	if cfg.Format == "console" || cfg.Format == "text" {
		zcfg.Encoding = "console"
		zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	if len(cfg.OutputPaths) > 0 {
		zcfg.OutputPaths = cfg.OutputPaths
	} else {
		zcfg.OutputPaths = []string{"stderr"}
	}

	built, err := zcfg.Build()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}

	mu.Lock()
	_ = base.Sync()
	base = built
	config = cfg
	loggers = make(map[Category]*Logger)
	mu.Unlock()

	boot := Get(CategoryBoot)
	boot.Info("logging initialized: level=%s format=%s", level, zcfg.Encoding)
	return nil
}

// Sync flushes buffered log entries.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = base.Sync()
}

// IsDebugMode returns whether logging is enabled at all.
func IsDebugMode() bool {
	mu.RLock()
	defer mu.RUnlock()
	return config.DebugMode
}

// IsCategoryEnabled returns whether a specific category is enabled
func IsCategoryEnabled(category Category) bool {
	mu.RLock()
	defer mu.RUnlock()
	return categoryEnabledLocked(category)
}

func categoryEnabledLocked(category Category) bool {
	if !config.DebugMode {
		return false
	}
	if config.Categories == nil {
		return true
	}
	enabled, exists := config.Categories[string(category)]
	if !exists {
		return true
	}
	return enabled
}

// Zap returns the structured zap logger for a category, for components
// that accept a *zap.Logger directly.
func Zap(category Category) *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if !categoryEnabledLocked(category) {
		return zap.NewNop()
	}
	return base.Named(string(category))
}

// Get returns (or creates) a logger for the given category.
func Get(category Category) *Logger {
	mu.RLock()
	if l, ok := loggers[category]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}

	z := zap.NewNop()
	if categoryEnabledLocked(category) {
		z = base.Named(string(category))
	}
	l := &Logger{category: category, sugar: z.Sugar()}
	loggers[category] = l
	return l
}

// Category returns the category this logger is bound to.
func (l *Logger) Category() Category {
	return l.category
}

func (l *Logger) Debug(format string, args ...interface{}) {
	l.sugar.Debugf(format, args...)
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.sugar.Infof(format, args...)
}

func (l *Logger) Warn(format string, args ...interface{}) {
	l.sugar.Warnf(format, args...)
}

func (l *Logger) Error(format string, args ...interface{}) {
	l.sugar.Errorf(format, args...)
}

// With returns a child logger carrying structured key/value context.
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	return &Logger{category: l.category, sugar: l.sugar.With(keysAndValues...)}
}

// =============================================================================
// CATEGORY HELPERS
// =============================================================================

func Boot(format string, args ...interface{}) {
	Get(CategoryBoot).Info(format, args...)
}

func BootDebug(format string, args ...interface{}) {
	Get(CategoryBoot).Debug(format, args...)
}

func Store(format string, args ...interface{}) {
	Get(CategoryStore).Info(format, args...)
}

func StoreDebug(format string, args ...interface{}) {
	Get(CategoryStore).Debug(format, args...)
}

func StoreWarn(format string, args ...interface{}) {
	Get(CategoryStore).Warn(format, args...)
}

func Kernel(format string, args ...interface{}) {
	Get(CategoryKernel).Info(format, args...)
}

func KernelDebug(format string, args ...interface{}) {
	Get(CategoryKernel).Debug(format, args...)
}

func Embedding(format string, args ...interface{}) {
	Get(CategoryEmbedding).Info(format, args...)
}

func EmbeddingDebug(format string, args ...interface{}) {
	Get(CategoryEmbedding).Debug(format, args...)
}

func Knowledge(format string, args ...interface{}) {
	Get(CategoryKnowledge).Info(format, args...)
}

func KnowledgeDebug(format string, args ...interface{}) {
	Get(CategoryKnowledge).Debug(format, args...)
}

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
	return &Timer{
		category: category,
		op:       operation,
		start:    time.Now(),
	}
}

// Stop ends the timer and logs the duration at debug level.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs a warning if duration exceeds threshold
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn("%s took %v (threshold: %v)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

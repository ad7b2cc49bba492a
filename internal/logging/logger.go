// Package logging provides structured logging for the shared-memory
// provider, wrapping go.uber.org/zap behind a small level-plus-key/value
// API so callers never touch zap's own types directly.
package logging

import (
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel represents the available log levels.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l LogLevel) zapLevel() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Config holds logging configuration.
type Config struct {
	Level LogLevel
	// Format selects the zap encoder: "json" or "text" (console). Empty
	// defaults to "text".
	Format string
	Output io.Writer
	// Sync flushes after every log call. Tests that read from an
	// in-memory Output immediately after logging need this; a long-lived
	// daemon normally leaves it false and relies on zap's buffering.
	Sync    bool
	NoColor bool
}

// DefaultConfig returns a sensible default configuration: info level,
// text encoding, to stderr.
func DefaultConfig() *Config {
	return &Config{Level: LevelInfo, Format: "text", Output: os.Stderr}
}

// Logger wraps a zap.SugaredLogger scoped to a fixed set of fields,
// accumulated by the With* chain methods.
type Logger struct {
	sugar *zap.SugaredLogger
	sync  bool
}

func encoderFor(cfg *Config) zapcore.Encoder {
	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "ts"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	if cfg.Format == "json" {
		return zapcore.NewJSONEncoder(enc)
	}
	if !cfg.NoColor {
		enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	return zapcore.NewConsoleEncoder(enc)
}

// NewLogger creates a new logger from config, defaulting to
// DefaultConfig() when config is nil.
func NewLogger(config *Config) *Logger {
	if config == nil {
		config = DefaultConfig()
	}
	output := config.Output
	if output == nil {
		output = os.Stderr
	}

	core := zapcore.NewCore(encoderFor(config), zapcore.AddSync(output), config.Level.zapLevel())
	zl := zap.New(core)
	return &Logger{sugar: zl.Sugar(), sync: config.Sync}
}

var (
	defaultLogger *Logger
	mu            sync.RWMutex
)

// Default returns the default logger, creating it if necessary.
func Default() *Logger {
	mu.RLock()
	if defaultLogger != nil {
		defer mu.RUnlock()
		return defaultLogger
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if defaultLogger == nil {
		defaultLogger = NewLogger(nil)
	}
	return defaultLogger
}

// SetDefault sets the default logger.
func SetDefault(logger *Logger) {
	mu.Lock()
	defer mu.Unlock()
	defaultLogger = logger
}

func (l *Logger) maybeSync() {
	if l.sync {
		_ = l.sugar.Sync()
	}
}

func (l *Logger) Debug(msg string, kv ...any) {
	l.sugar.Debugw(msg, kv...)
	l.maybeSync()
}

func (l *Logger) Info(msg string, kv ...any) {
	l.sugar.Infow(msg, kv...)
	l.maybeSync()
}

func (l *Logger) Warn(msg string, kv ...any) {
	l.sugar.Warnw(msg, kv...)
	l.maybeSync()
}

func (l *Logger) Error(msg string, kv ...any) {
	l.sugar.Errorw(msg, kv...)
	l.maybeSync()
}

// With returns a logger that prefixes every subsequent log call with the
// given key/value pairs.
func (l *Logger) With(kv ...any) *Logger {
	return &Logger{sugar: l.sugar.With(kv...), sync: l.sync}
}

// WithSegment scopes a logger to a particular shared-memory segment id.
func (l *Logger) WithSegment(id uint32) *Logger {
	return l.With("segment_id", id)
}

// WithDescriptor scopes a logger to a particular wire descriptor kind and
// id, e.g. WithDescriptor("watchdog", d.ID).
func (l *Logger) WithDescriptor(kind string, id uint32) *Logger {
	return l.With("descriptor_kind", kind, "descriptor_id", id)
}

// WithError attaches an error to every subsequent log call.
func (l *Logger) WithError(err error) *Logger {
	return l.With("error", err)
}

// Global convenience functions operating on Default().

func Debug(msg string, kv ...any) { Default().Debug(msg, kv...) }
func Info(msg string, kv ...any)  { Default().Info(msg, kv...) }
func Warn(msg string, kv ...any)  { Default().Warn(msg, kv...) }
func Error(msg string, kv ...any) { Default().Error(msg, kv...) }

// Package debug provides categorised structured logging on top of zap.
package debug

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Categories for logging. Each becomes a named child logger.
const (
	CategoryConnection  = "connection"
	CategoryQuery       = "query"
	CategoryDocument    = "document"
	CategoryTransfer    = "transfer"
	CategoryHTTP        = "http"
	CategoryStorage     = "storage"
	CategoryPerformance = "performance"
)

// Options configure the base logger.
type Options struct {
	Level  string // debug, info, warn, error
	Format string // console or json
}

var (
	mu     sync.RWMutex
	global *zap.Logger
)

// New builds a zap logger from options.
func New(opts Options) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(strings.ToLower(opts.Level))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
	}

	encoding := opts.Format
	if encoding == "" {
		encoding = "console"
	}
	if encoding != "console" && encoding != "json" {
		return nil, fmt.Errorf("invalid log format %q", opts.Format)
	}

	cfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(level),
		Development: false,
		Encoding:    encoding,
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "timestamp",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      zapcore.OmitKey,
			FunctionKey:    zapcore.OmitKey,
			MessageKey:     "message",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
		},
		OutputPaths:       []string{"stderr"},
		ErrorOutputPaths:  []string{"stderr"},
		DisableStacktrace: true,
	}
	if encoding == "console" {
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return logger, nil
}

// Init installs the base logger. Until Init is called every log call is a no-op.
func Init(logger *zap.Logger) {
	mu.Lock()
	global = logger
	mu.Unlock()
}

// L returns the base logger, or a no-op logger before Init.
func L() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if global == nil {
		return zap.NewNop()
	}
	return global
}

// Sync flushes buffered log entries.
func Sync() {
	_ = L().Sync()
}

func fields(details map[string]interface{}) []zap.Field {
	if len(details) == 0 {
		return nil
	}
	out := make([]zap.Field, 0, len(details))
	for k, v := range details {
		out = append(out, zap.Any(k, v))
	}
	return out
}

// Log writes a debug-level entry.
// category: one of the Category* constants
// message: short one-liner summary
// details: optional map with additional context (can be nil)
func Log(category, message string, details map[string]interface{}) {
	L().Named(category).Debug(message, fields(details)...)
}

// Info writes an info-level entry.
func Info(category, message string, details map[string]interface{}) {
	L().Named(category).Info(message, fields(details)...)
}

// Warn writes a warn-level entry.
func Warn(category, message string, details map[string]interface{}) {
	L().Named(category).Warn(message, fields(details)...)
}

// LogConnection logs a connection-related debug message
func LogConnection(message string, details map[string]interface{}) {
	Log(CategoryConnection, message, details)
}

// LogQuery logs a query-related debug message
func LogQuery(message string, details map[string]interface{}) {
	Log(CategoryQuery, message, details)
}

// LogDocument logs a document-related debug message
func LogDocument(message string, details map[string]interface{}) {
	Log(CategoryDocument, message, details)
}

// LogTransfer logs a cross-cluster copy debug message
func LogTransfer(message string, details map[string]interface{}) {
	Log(CategoryTransfer, message, details)
}

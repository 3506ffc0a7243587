// Package logger holds the process-wide zap logger.
package logger

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var global *zap.Logger

type options struct {
	out     zapcore.WriteSyncer
	service string
}

// Option adjusts Init.
type Option func(*options)

// WithOutput sends entries to w instead of stdout. Command line tools that
// print results on stdout log to stderr.
func WithOutput(w zapcore.WriteSyncer) Option {
	return func(o *options) { o.out = w }
}

// WithService adds a "service" field to every entry.
func WithService(name string) Option {
	return func(o *options) { o.service = name }
}

func encoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.MessageKey = "message"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.TimeKey = "time"
	cfg.LevelKey = "level"
	cfg.CallerKey = "caller"
	cfg.StacktraceKey = "stacktrace"
	cfg.EncodeLevel = zapcore.LowercaseLevelEncoder
	return cfg
}

func newEncoder(format string) (zapcore.Encoder, error) {
	switch strings.ToLower(format) {
	case "json":
		return zapcore.NewJSONEncoder(encoderConfig()), nil
	case "console":
		return zapcore.NewConsoleEncoder(encoderConfig()), nil
	}
	return nil, fmt.Errorf("invalid log format %q", format)
}

// Init builds the global logger and returns it.
// level: debug, info, warn, error, dpanic, panic, fatal
// format: json, console
func Init(level, format string, opts ...Option) (*zap.Logger, error) {
	o := options{out: zapcore.AddSync(os.Stdout)}
	for _, opt := range opts {
		opt(&o)
	}

	lvl := zap.InfoLevel
	if err := lvl.Set(strings.ToLower(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	enc, err := newEncoder(format)
	if err != nil {
		return nil, err
	}

	l := zap.New(zapcore.NewCore(enc, o.out, lvl), zap.AddCaller())
	if o.service != "" {
		l = l.With(zap.String("service", o.service))
	}
	global = l
	return l, nil
}

// Set replaces the global logger. Tests use it with zap.NewNop or an observer core.
func Set(l *zap.Logger) {
	global = l
}

// L returns the global logger. Panics if not initialized.
func L() *zap.Logger {
	if global == nil {
		panic("logger not initialized: call logger.Init first")
	}
	return global
}

// ForCanvas returns the global logger scoped to one canvas.
func ForCanvas(id uuid.UUID) *zap.Logger {
	return L().With(zap.String("canvas_id", id.String()))
}

// Sync flushes any buffered log entries.
func Sync() {
	if global != nil {
		_ = global.Sync()
	}
}

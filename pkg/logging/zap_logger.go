package logging

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapLogger implements Logger on top of zap
type ZapLogger struct {
	base *zap.Logger
}

// NewLogger builds a zap-backed Logger from the given configuration
func NewLogger(cfg LogConfig) (*ZapLogger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.EncoderConfig.TimeKey = "timestamp"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zcfg.DisableCaller = !cfg.IncludeCaller

	switch strings.ToLower(cfg.Format) {
	case "", "json":
		zcfg.Encoding = "json"
	case "console", "text":
		zcfg.Encoding = "console"
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	default:
		return nil, fmt.Errorf("unsupported log format: %s", cfg.Format)
	}

	switch strings.ToLower(cfg.Output) {
	case "", "stdout":
		zcfg.OutputPaths = []string{"stdout"}
	case "stderr":
		zcfg.OutputPaths = []string{"stderr"}
	case "file":
		if cfg.FilePath == "" {
			return nil, fmt.Errorf("file_path is required when log output is 'file'")
		}
		zcfg.OutputPaths = []string{cfg.FilePath}
	default:
		return nil, fmt.Errorf("unsupported log output: %s", cfg.Output)
	}

	base, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	return &ZapLogger{base: base}, nil
}

// NewZapLogger wraps an existing zap logger
func NewZapLogger(base *zap.Logger) *ZapLogger {
	return &ZapLogger{base: base}
}

// NewNopLogger returns a Logger that discards everything
func NewNopLogger() *ZapLogger {
	return &ZapLogger{base: zap.NewNop()}
}

// ParseLevel maps a config level name to a zap level
func ParseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return zap.DebugLevel, nil
	case "", "info":
		return zap.InfoLevel, nil
	case "warn", "warning":
		return zap.WarnLevel, nil
	case "error":
		return zap.ErrorLevel, nil
	default:
		return zap.InfoLevel, fmt.Errorf("unknown log level: %s", level)
	}
}

// Debug logs a debug message
func (l *ZapLogger) Debug(msg string, fields ...Field) {
	l.base.Debug(msg, toZap(fields)...)
}

// Info logs an info message
func (l *ZapLogger) Info(msg string, fields ...Field) {
	l.base.Info(msg, toZap(fields)...)
}

// Warn logs a warning message
func (l *ZapLogger) Warn(msg string, fields ...Field) {
	l.base.Warn(msg, toZap(fields)...)
}

// Error logs an error message
func (l *ZapLogger) Error(msg string, fields ...Field) {
	l.base.Error(msg, toZap(fields)...)
}

// WithFields returns a new logger with the given fields
func (l *ZapLogger) WithFields(fields ...Field) Logger {
	return &ZapLogger{base: l.base.With(toZap(fields)...)}
}

// WithContext returns a new logger carrying the request ID from ctx, if any
func (l *ZapLogger) WithContext(ctx context.Context) Logger {
	if id, ok := RequestIDFromContext(ctx); ok {
		return &ZapLogger{base: l.base.With(zap.String("request_id", id))}
	}
	return l
}

// LogStreamEvent records log-stream client events for a correlation ID
func (l *ZapLogger) LogStreamEvent(correlationID string, event string, data map[string]interface{}) {
	fields := []zap.Field{
		zap.String("correlation_id", correlationID),
		zap.String("event", event),
	}
	if len(data) > 0 {
		fields = append(fields, zap.Any("data", data))
	}
	l.base.Debug("stream event", fields...)
}

// LogSystemEvent records system-level events
func (l *ZapLogger) LogSystemEvent(event string, data map[string]interface{}) {
	fields := []zap.Field{zap.String("event", event)}
	if len(data) > 0 {
		fields = append(fields, zap.Any("data", data))
	}
	l.base.Info("system event", fields...)
}

// Sync flushes buffered log entries
func (l *ZapLogger) Sync() error {
	return l.base.Sync()
}

// Zap exposes the underlying zap logger
func (l *ZapLogger) Zap() *zap.Logger {
	return l.base
}

func toZap(fields []Field) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	out := make([]zap.Field, 0, len(fields))
	for _, f := range fields {
		if err, ok := f.Value.(error); ok {
			out = append(out, zap.NamedError(f.Key, err))
			continue
		}
		out = append(out, zap.Any(f.Key, f.Value))
	}
	return out
}

package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger provides structured logging for the gateway. It wraps a zap
// sugared logger configured with the service name so every line carries
// a consistent prefix.
type Logger struct {
	serviceName string
	version     string
	sugar       *zap.SugaredLogger
}

// New creates a new logger instance for the named service.
func New(serviceName, version string) *Logger {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	level := zapcore.InfoLevel
	if os.Getenv("PGCRUD_LOG_LEVEL") == "debug" {
		level = zapcore.DebugLevel
	}

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderCfg),
		zapcore.Lock(os.Stdout),
		level,
	)

	base := zap.New(core).With(
		zap.String("service", serviceName),
	)

	return &Logger{
		serviceName: serviceName,
		version:     version,
		sugar:       base.Sugar(),
	}
}

// NewNop returns a logger that discards everything. Used in tests.
func NewNop() *Logger {
	return &Logger{sugar: zap.NewNop().Sugar()}
}

// Debugf logs a formatted debug message.
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.sugar.Debugf(format, args...)
}

// Infof logs a formatted info message.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.sugar.Infof(format, args...)
}

// Warnf logs a formatted warning message.
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.sugar.Warnf(format, args...)
}

// Errorf logs a formatted error message.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.sugar.Errorf(format, args...)
}

// Fatalf logs a formatted fatal message and exits.
func (l *Logger) Fatalf(format string, args ...interface{}) {
	l.sugar.Fatalf(format, args...)
}

// WithFields returns a logger carrying additional key/value fields on
// every entry. Values are stringly typed to keep call sites terse.
func (l *Logger) WithFields(fields map[string]string) *Logger {
	kv := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		kv = append(kv, k, v)
	}
	return &Logger{
		serviceName: l.serviceName,
		version:     l.version,
		sugar:       l.sugar.With(kv...),
	}
}

// Sync flushes buffered log entries. Called on shutdown.
func (l *Logger) Sync() {
	_ = l.sugar.Sync()
}

package logger

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the structured logging interface used across the service.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Fatal(msg string, keysAndValues ...interface{})
	With(keysAndValues ...interface{}) Logger
}

// ZapLogger implements Logger on top of a zap SugaredLogger.
type ZapLogger struct {
	logger *zap.SugaredLogger
}

// NewLogger builds a JSON production logger. level is one of debug, info, warn, error;
// anything else falls back to info.
func NewLogger(level string) *ZapLogger {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	config := zap.NewProductionConfig()
	config.EncoderConfig = encoderConfig
	if lvl, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(level))); err == nil {
		config.Level = zap.NewAtomicLevelAt(lvl)
	}

	l, err := config.Build()
	if err != nil {
		l = zap.NewExample()
	}
	return &ZapLogger{logger: l.Sugar()}
}

// NewNop returns a logger that discards everything.
func NewNop() *ZapLogger {
	return &ZapLogger{logger: zap.NewNop().Sugar()}
}

func (l *ZapLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l *ZapLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Infow(msg, keysAndValues...)
}

func (l *ZapLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Warnw(msg, keysAndValues...)
}

func (l *ZapLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Errorw(msg, keysAndValues...)
}

// Fatal logs and exits the process.
func (l *ZapLogger) Fatal(msg string, keysAndValues ...interface{}) {
	l.logger.Fatalw(msg, keysAndValues...)
}

// With returns a child logger carrying the given key-value pairs.
func (l *ZapLogger) With(keysAndValues ...interface{}) Logger {
	return &ZapLogger{logger: l.logger.With(keysAndValues...)}
}

// Sync flushes buffered entries.
func (l *ZapLogger) Sync() error {
	return l.logger.Sync()
}

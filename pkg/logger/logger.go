// Package logger wraps go.uber.org/zap with the level/environment
// construction signature the teacher's internal/app.Application expects
// from cmd/main.go's bootstrap sequence.
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a thin facade over *zap.Logger; its logging methods call the
// wrapped *zap.Logger, and the SugaredLogger it also holds is not used by
// any of them. The domain services do not take this type: they are built
// with the raw *zap.Logger returned by Zap().
type Logger struct {
	zap *zap.Logger
	sug *zap.SugaredLogger
}

// New builds a Logger. Production environments get JSON encoding; anything
// else gets the human-readable console encoder, matching the teacher's
// dev/prod logger split.
func New(level string, environment string) (*Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		zapLevel = zapcore.InfoLevel
	}

	var cfg zap.Config
	if environment == "production" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	z, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{zap: z, sug: z.Sugar()}, nil
}

// Zap exposes the raw *zap.Logger for callers (e.g. tracing init) that
// need it directly.
func (l *Logger) Zap() *zap.Logger { return l.zap }

func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{zap: l.zap.With(fields...), sug: l.zap.With(fields...).Sugar()}
}

func (l *Logger) Debug(msg string, fields ...zap.Field) { l.zap.Debug(msg, fields...) }
func (l *Logger) Info(msg string, fields ...zap.Field)  { l.zap.Info(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...zap.Field)  { l.zap.Warn(msg, fields...) }
func (l *Logger) Error(msg string, fields ...zap.Field) { l.zap.Error(msg, fields...) }

func (l *Logger) Sync() error { return l.zap.Sync() }

// NewNop returns a Logger that discards everything, for tests.
func NewNop() *Logger {
	z := zap.NewNop()
	return &Logger{zap: z, sug: z.Sugar()}
}

// Package logger builds the process logger: a log/slog front end writing
// through a zap core.
package logger

import (
	"fmt"
	"log/slog"

	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"
	"go.uber.org/zap/zapcore"
)

// Logger pairs the slog front end with the zap logger that backs it so the
// caller can flush buffered entries on shutdown.
type Logger struct {
	*slog.Logger
	zap *zap.Logger
}

// New builds a Logger. environment "production" selects JSON output;
// anything else selects the colored console encoder. debug lowers the level
// to Debug in either mode.
func New(environment string, debug bool) (*Logger, error) {
	var config zap.Config
	if environment == "production" {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}
	config.Level = zap.NewAtomicLevelAt(level)

	z, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("build zap logger: %w", err)
	}

	return FromCore(z.Core(), z), nil
}

// FromCore wraps an existing zap core. z may be nil when the caller owns
// flushing.
func FromCore(core zapcore.Core, z *zap.Logger) *Logger {
	handler := zapslog.NewHandler(core, zapslog.WithCaller(true))
	return &Logger{Logger: slog.New(handler), zap: z}
}

// Sync flushes buffered log entries.
func (l *Logger) Sync() error {
	if l.zap == nil {
		return nil
	}
	return l.zap.Sync()
}

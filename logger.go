// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package finality

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var _ Logger = (*ZapLogger)(nil)

// ZapLogger adapts a zap logger to Logger. Trace and Verbo are emitted at debug level
// through a logger that skips one extra caller frame.
type ZapLogger struct {
	*zap.Logger
	verbose *zap.Logger
}

func NewZapLogger(logger *zap.Logger) *ZapLogger {
	return &ZapLogger{
		Logger:  logger,
		verbose: logger.WithOptions(zap.AddCallerSkip(1)),
	}
}

// NewProductionLogger builds a console logger at the given level.
func NewProductionLogger(level zapcore.Level) (*ZapLogger, error) {
	config := zap.NewProductionConfig()
	config.Encoding = "console"
	config.Level = zap.NewAtomicLevelAt(level)
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, err := config.Build()
	if err != nil {
		return nil, err
	}
	return NewZapLogger(logger), nil
}

func (l *ZapLogger) Trace(msg string, fields ...zap.Field) {
	l.verbose.Debug(msg, fields...)
}

func (l *ZapLogger) Verbo(msg string, fields ...zap.Field) {
	l.verbose.Debug(msg, fields...)
}

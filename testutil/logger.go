// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package testutil

import (
	"os"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/luxfi/finality"
)

var _ finality.Logger = (*TestLogger)(nil)

// TestLogger writes debug output tagged with the test name and optionally a node index.
type TestLogger struct {
	*zap.Logger
	traceVerboseLogger *zap.Logger
}

// Intercept installs hook on every entry logged from now on.
func (t *TestLogger) Intercept(hook func(entry zapcore.Entry) error) {
	t.Logger = t.Logger.WithOptions(zap.Hooks(hook))
	t.traceVerboseLogger = t.traceVerboseLogger.WithOptions(zap.Hooks(hook))
}

// Silence drops everything below fatal.
func (t *TestLogger) Silence() {
	atomicLevel := zap.NewAtomicLevelAt(zapcore.FatalLevel)
	t.Logger = t.Logger.WithOptions(zap.IncreaseLevel(atomicLevel))
	t.traceVerboseLogger = t.traceVerboseLogger.WithOptions(zap.IncreaseLevel(atomicLevel))
}

func (t *TestLogger) Trace(msg string, fields ...zap.Field) {
	t.traceVerboseLogger.Log(zapcore.DebugLevel, msg, fields...)
}

func (t *TestLogger) Verbo(msg string, fields ...zap.Field) {
	t.traceVerboseLogger.Log(zapcore.DebugLevel, msg, fields...)
}

func MakeLogger(t testing.TB, node ...int) *TestLogger {
	config := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
		EncodeTime:     zapcore.TimeEncoderOfLayout("[01-02|15:04:05.000]"),
		EncodeLevel: func(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString(strings.ToUpper(l.String()))
		},
		ConsoleSeparator: " ",
	}
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(config), zapcore.AddSync(os.Stdout), zap.NewAtomicLevelAt(zapcore.DebugLevel))

	fields := []zap.Field{zap.String("test", t.Name())}
	if len(node) > 0 {
		fields = append(fields, zap.Int("node", node[0]))
	}

	return &TestLogger{
		Logger:             zap.New(core, zap.AddCaller()).With(fields...),
		traceVerboseLogger: zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).With(fields...),
	}
}

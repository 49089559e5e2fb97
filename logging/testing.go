package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
)

// NewTestLogger returns a Logger that writes through t.Log, in the style of
// the teacher's logging.NewTestLogger(tb).
func NewTestLogger(tb testing.TB) Logger {
	z := zaptest.NewLogger(tb, zaptest.Level(zapcore.DebugLevel))
	return &zapLogger{name: tb.Name(), sugar: z.Sugar()}
}

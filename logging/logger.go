// Package logging provides the structured logger used across the navigation
// core. It is a thin, narrowed wrapper over zap so that every long-lived
// goroutine (the planner worker, the FSM cycle loop) can be handed a logger
// at construction instead of reaching for a process-global one.
package logging

import (
	"go.uber.org/zap"
)

// Logger is the logging surface every component in this module depends on.
// Keyed (w-suffixed) methods take alternating key/value pairs, matching
// zap's SugaredLogger convention.
type Logger interface {
	Debugw(msg string, keysAndValues ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Errorw(msg string, keysAndValues ...interface{})

	Debugf(template string, args ...interface{})
	Infof(template string, args ...interface{})
	Warnf(template string, args ...interface{})
	Errorf(template string, args ...interface{})

	// Sub returns a child logger that tags every line with name, without
	// mutating the receiver.
	Sub(name string) Logger
}

type zapLogger struct {
	name  string
	sugar *zap.SugaredLogger
}

// New returns a production logger (info level, console encoding) named name.
func New(name string) Logger {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.TimeKey = "ts"
	z, err := cfg.Build()
	if err != nil {
		// zap.NewProductionConfig().Build() only fails on a malformed
		// config, which the literal above never produces.
		panic(err)
	}
	return &zapLogger{name: name, sugar: z.Sugar().Named(name)}
}

// NewDebug returns a logger identical to New but at debug level, used for
// components where per-cycle tracing is expected during development.
func NewDebug(name string) Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.Encoding = "console"
	z, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return &zapLogger{name: name, sugar: z.Sugar().Named(name)}
}

func (l *zapLogger) Debugw(msg string, kv ...interface{}) { l.sugar.Debugw(msg, kv...) }
func (l *zapLogger) Infow(msg string, kv ...interface{})  { l.sugar.Infow(msg, kv...) }
func (l *zapLogger) Warnw(msg string, kv ...interface{})  { l.sugar.Warnw(msg, kv...) }
func (l *zapLogger) Errorw(msg string, kv ...interface{}) { l.sugar.Errorw(msg, kv...) }

func (l *zapLogger) Debugf(template string, args ...interface{}) { l.sugar.Debugf(template, args...) }
func (l *zapLogger) Infof(template string, args ...interface{})  { l.sugar.Infof(template, args...) }
func (l *zapLogger) Warnf(template string, args ...interface{})  { l.sugar.Warnf(template, args...) }
func (l *zapLogger) Errorf(template string, args ...interface{}) { l.sugar.Errorf(template, args...) }

func (l *zapLogger) Sub(name string) Logger {
	return &zapLogger{name: l.name + "." + name, sugar: l.sugar.Named(name)}
}

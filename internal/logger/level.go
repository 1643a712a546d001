package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// overrideCore replaces the level check of the core it wraps, so one package
// run can log below the shared level.
type overrideCore struct {
	zapcore.Core

	// minimum is the lowest level this core writes.
	minimum zapcore.Level
}

func (c *overrideCore) Enabled(level zapcore.Level) bool {
	return level >= c.minimum
}

//nolint:gocritic // AddCore requires the entry by value.
func (c *overrideCore) Check(entry zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.Enabled(entry.Level) {
		return checked
	}

	return checked.AddCore(entry, c)
}

//nolint:ireturn // zapcore.Core is what zap expects.
func (c *overrideCore) With(fields []zapcore.Field) zapcore.Core {
	return &overrideCore{Core: c.Core.With(fields), minimum: c.minimum}
}

// overrideLevel wraps the logger core so minimum replaces the configured level.
//
//nolint:ireturn // zap.Option is what zap expects.
func overrideLevel(minimum zapcore.Level) zap.Option {
	return zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return &overrideCore{Core: core, minimum: minimum}
	})
}

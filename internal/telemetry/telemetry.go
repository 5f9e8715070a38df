// Package telemetry provides the structured logging wrapper duplex uses
// around session lifecycle, producer/controller churn, and error
// propagation. It mirrors the Logger/SugaredLogger split of a zap-based
// wrapper: structured fields on the hot path, a sugared view for
// human-facing tools like the demo CLI.
package telemetry

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps a zap.Logger. duplex's core logs through it at debug
// level: each producer registration (with its chunk-stream id and kind)
// and the reason the decoder's dispatcher stopped.
type Logger struct {
	z *zap.Logger
}

// New builds a Logger writing JSON records to out at the given level
// ("debug", "info", "warn", "error"; unrecognized values fall back to
// info).
func New(out io.Writer, level string) *Logger {
	if out == nil {
		out = os.Stderr
	}
	lvl := zapcore.InfoLevel
	_ = lvl.UnmarshalText([]byte(level))
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
		zapcore.AddSync(out),
		lvl,
	)
	return &Logger{z: zap.New(core)}
}

// NoOp returns a Logger that discards everything. It is the default a
// caller gets by leaving Options.Logger / DecodeOptions.Logger unset.
func NoOp() *Logger {
	return &Logger{z: zap.NewNop()}
}

// With returns a Logger carrying additional structured fields on every
// subsequent record.
func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{z: l.z.With(fields...)}
}

func (l *Logger) Debug(msg string, fields ...zap.Field) { l.z.Debug(msg, fields...) }
func (l *Logger) Info(msg string, fields ...zap.Field)  { l.z.Info(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...zap.Field)  { l.z.Warn(msg, fields...) }
func (l *Logger) Error(msg string, fields ...zap.Field) { l.z.Error(msg, fields...) }

// Sugar returns the SugaredLogger view, convenient for CLI-style
// printf-shaped call sites.
func (l *Logger) Sugar() *zap.SugaredLogger { return l.z.Sugar() }

// Sync flushes any buffered log entries.
func (l *Logger) Sync() error { return l.z.Sync() }

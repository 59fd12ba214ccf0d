// Package jsonlog provides a structured JSON logger instance backed by zap,
// intended for log shipping from the worker.
package jsonlog

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type JSONLogger struct {
	logger *zap.SugaredLogger
}

type JSONLoggerParams struct {
	Debug   bool
	Service string
}

// NewJSONLogger builds a production zap logger writing JSON to stderr.
func NewJSONLogger(params JSONLoggerParams) (*JSONLogger, error) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if params.Debug {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	base, err := cfg.Build(zap.AddCallerSkip(2))
	if err != nil {
		return nil, err
	}
	if params.Service != "" {
		base = base.With(zap.String("service", params.Service))
	}
	return &JSONLogger{logger: base.Sugar()}, nil
}

// NewWithCore wraps an existing zap core.
func NewWithCore(core zapcore.Core) *JSONLogger {
	return &JSONLogger{logger: zap.New(core).Sugar()}
}

func (j *JSONLogger) Log(message string, keyvals ...any) {
	j.logger.Infow(message, keyvals...)
}

func (j *JSONLogger) Debug(message string, keyvals ...any) {
	j.logger.Debugw(message, keyvals...)
}

func (j *JSONLogger) Info(message string, keyvals ...any) {
	j.logger.Infow(message, keyvals...)
}

func (j *JSONLogger) Warn(message string, keyvals ...any) {
	j.logger.Warnw(message, keyvals...)
}

func (j *JSONLogger) Error(message string, keyvals ...any) {
	j.logger.Errorw(message, keyvals...)
}

func (j *JSONLogger) Fatal(message string, keyvals ...any) {
	j.logger.Fatalw(message, keyvals...)
}

// Sync flushes buffered entries.
func (j *JSONLogger) Sync() error {
	return j.logger.Sync()
}

package worker

import (
	"go.temporal.io/sdk/log"
	"go.uber.org/zap"
)

// zapLogger adapts zap to the Temporal SDK logger.
type zapLogger struct {
	l *zap.SugaredLogger
}

var _ log.Logger = zapLogger{}

// NewLogger returns a Temporal logger writing through l.
func NewLogger(l *zap.Logger) log.Logger {
	return zapLogger{l: l.Named("temporal").Sugar()}
}

func (z zapLogger) Debug(msg string, keyvals ...any) { z.l.Debugw(msg, keyvals...) }
func (z zapLogger) Info(msg string, keyvals ...any)  { z.l.Infow(msg, keyvals...) }
func (z zapLogger) Warn(msg string, keyvals ...any)  { z.l.Warnw(msg, keyvals...) }
func (z zapLogger) Error(msg string, keyvals ...any) { z.l.Errorw(msg, keyvals...) }

// Package logging provides the narrow structured-logging contract the
// transport package depends on, keeping it decoupled from any single
// logging library the way the teacher's adapter layer stays decoupled
// from the engine it wraps.
package logging

import "go.uber.org/zap"

// Logger is a structured logger accepting alternating key/value pairs,
// matching the calling convention of zap's SugaredLogger.
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
}

// NopLogger discards everything. It is the default when no logger is
// configured.
type NopLogger struct{}

func (NopLogger) Debug(string, ...any) {}
func (NopLogger) Info(string, ...any)  {}
func (NopLogger) Warn(string, ...any)  {}
func (NopLogger) Error(string, ...any) {}

// Zap adapts a zap logger to the Logger interface.
type Zap struct {
	s *zap.SugaredLogger
}

// NewZap wraps l for use as a Logger.
func NewZap(l *zap.Logger) Zap {
	return Zap{s: l.Sugar()}
}

func (z Zap) Debug(msg string, kv ...any) { z.s.Debugw(msg, kv...) }
func (z Zap) Info(msg string, kv ...any)  { z.s.Infow(msg, kv...) }
func (z Zap) Warn(msg string, kv ...any)  { z.s.Warnw(msg, kv...) }
func (z Zap) Error(msg string, kv ...any) { z.s.Errorw(msg, kv...) }

// Package logging adapts zap to the printf-style logger interfaces the game
// packages accept, for binaries that run outside Nakama.
package logging

import (
	"go.uber.org/zap"
)

// New builds a production logger, or a development logger when dev is set.
func New(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// Printf exposes a zap logger through Debug/Info/Warn/Error format methods.
type Printf struct {
	s *zap.SugaredLogger
}

// NewPrintf wraps l. Extra key/value pairs are attached to every entry.
func NewPrintf(l *zap.Logger, keysAndValues ...interface{}) Printf {
	return Printf{s: l.Sugar().With(keysAndValues...)}
}

// With returns a logger carrying additional key/value pairs.
func (p Printf) With(keysAndValues ...interface{}) Printf {
	return Printf{s: p.s.With(keysAndValues...)}
}

func (p Printf) Debug(format string, v ...interface{}) { p.s.Debugf(format, v...) }
func (p Printf) Info(format string, v ...interface{})  { p.s.Infof(format, v...) }
func (p Printf) Warn(format string, v ...interface{})  { p.s.Warnf(format, v...) }
func (p Printf) Error(format string, v ...interface{}) { p.s.Errorf(format, v...) }

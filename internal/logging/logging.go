// Package logging provides the simulator's log sink.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the sink the simulator writes its messages to. err may be nil.
type Logger interface {
	Log(msg string, err error)
}

type nop struct{}

func (nop) Log(string, error) {}

// Nop discards everything.
var Nop Logger = nop{}

// OrNop returns l, or Nop when l is nil.
func OrNop(l Logger) Logger {
	if l == nil {
		return Nop
	}
	return l
}

// Zap adapts a zap logger to Logger. Messages with an error are written at
// error level.
type Zap struct {
	l *zap.Logger
}

func NewZap(l *zap.Logger) *Zap {
	if l == nil {
		l = zap.NewNop()
	}
	return &Zap{l: l}
}

func (z *Zap) Log(msg string, err error) {
	if err != nil {
		z.l.Error(msg, zap.Error(err))
		return
	}
	z.l.Info(msg)
}

// Sync flushes buffered entries.
func (z *Zap) Sync() error {
	return z.l.Sync()
}

// Zap returns the wrapped logger.
func (z *Zap) Zap() *zap.Logger {
	return z.l
}

// NewDevelopment builds a console logger at the given level ("debug",
// "info", "warn", "error").
func NewDevelopment(level string) (*Zap, error) {
	lvl, err := zapcore.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", level, err)
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.DisableStacktrace = true
	l, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return NewZap(l.Named("offline-sns")), nil
}

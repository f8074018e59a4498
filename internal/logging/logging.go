// Package logging provides the structured leveled logger cmd/groupdemo and
// the Ably transport adapter log through, adapted from drand's
// zap.SugaredLogger-wrapping Logger interface.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the leveled logging surface this module logs through.
type Logger interface {
	Debugw(msg string, keyvals ...interface{})
	Infow(msg string, keyvals ...interface{})
	Warnw(msg string, keyvals ...interface{})
	Errorw(msg string, keyvals ...interface{})
	With(args ...interface{}) Logger
	Named(name string) Logger
}

type log struct {
	*zap.SugaredLogger
}

func (l *log) With(args ...interface{}) Logger { return &log{l.SugaredLogger.With(args...)} }
func (l *log) Named(name string) Logger        { return &log{l.SugaredLogger.Named(name)} }

// Level names accepted by New/ParseLevel.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// ParseLevel maps a level name to a zapcore.Level, defaulting to Info for
// an unrecognized name.
func ParseLevel(name string) zapcore.Level {
	switch name {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// New returns a console-encoded Logger writing to stderr at level.
func New(levelName string) Logger {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), zapcore.AddSync(os.Stderr), ParseLevel(levelName))
	zl := zap.New(core, zap.WithCaller(true))
	return &log{zl.Sugar()}
}

// Nop returns a Logger that discards everything, for tests that don't want
// log output.
func Nop() Logger {
	return &log{zap.NewNop().Sugar()}
}

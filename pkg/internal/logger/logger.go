package logger

import (
	"encoding/hex"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level is the verbosity threshold of a Logger
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// zapLevel maps Level onto the zap level scale
func (l Level) zapLevel() zapcore.Level {
	switch l {
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

// ParseLevel converts a level name ("debug", "info", ...) into a Level.
// Unknown names map to LevelInfo.
func ParseLevel(name string) Level {
	var zl zapcore.Level
	if err := zl.Set(name); err != nil {
		return LevelInfo
	}
	switch {
	case zl <= zapcore.DebugLevel:
		return LevelDebug
	case zl == zapcore.InfoLevel:
		return LevelInfo
	case zl == zapcore.WarnLevel:
		return LevelWarn
	default:
		return LevelError
	}
}

// Logger is the printf-style logger every package takes
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
	SetLevel(level Level)
}

// DefaultLogger writes through a zap SugaredLogger
type DefaultLogger struct {
	level zap.AtomicLevel
	sugar *zap.SugaredLogger
}

// NewDefaultLogger creates a new console logger at the given level
func NewDefaultLogger(level Level) *DefaultLogger {
	atom := zap.NewAtomicLevelAt(level.zapLevel())

	cfg := zap.NewDevelopmentConfig()
	cfg.Level = atom
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	base, err := cfg.Build()
	if err != nil {
		base = zap.NewNop()
	}

	return &DefaultLogger{
		level: atom,
		sugar: base.Sugar(),
	}
}

// NewZapLogger wraps an existing zap logger. The level can only raise the
// threshold already configured on base.
func NewZapLogger(base *zap.Logger, level Level) *DefaultLogger {
	atom := zap.NewAtomicLevelAt(level.zapLevel())
	return &DefaultLogger{
		level: atom,
		sugar: base.WithOptions(zap.IncreaseLevel(atom)).Sugar(),
	}
}

func (d *DefaultLogger) Debug(format string, args ...any) {
	d.sugar.Debugf(format, args...)
}

func (d *DefaultLogger) Info(format string, args ...any) {
	d.sugar.Infof(format, args...)
}

func (d *DefaultLogger) Warn(format string, args ...any) {
	d.sugar.Warnf(format, args...)
}

func (d *DefaultLogger) Error(format string, args ...any) {
	d.sugar.Errorf(format, args...)
}

// SetLevel changes the threshold in place; loggers derived from d follow it
func (d *DefaultLogger) SetLevel(level Level) {
	d.level.SetLevel(level.zapLevel())
}

// Sync flushes buffered log entries
func (d *DefaultLogger) Sync() error {
	return d.sugar.Sync()
}

// NoOpLogger discards everything
type NoOpLogger struct{}

func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

func (NoOpLogger) Debug(string, ...any) {}
func (NoOpLogger) Info(string, ...any)  {}
func (NoOpLogger) Warn(string, ...any)  {}
func (NoOpLogger) Error(string, ...any) {}
func (NoOpLogger) SetLevel(Level)       {}

var defaultLogger Logger = NewDefaultLogger(LevelInfo)

var frameDebug atomic.Bool

// SetDefault replaces the process-wide logger used when none is injected
func SetDefault(logger Logger) {
	defaultLogger = logger
}

// GetDefault returns the process-wide logger
func GetDefault() Logger {
	return defaultLogger
}

// SetFrameDebug toggles hex dumps of every frame and notification
func SetFrameDebug(enable bool) {
	frameDebug.Store(enable)
}

// FrameDebugEnabled reports whether frame hex dumps are on
func FrameDebugEnabled() bool {
	return frameDebug.Load()
}

// DumpFrame logs a hex dump of data at debug level when frame debugging is enabled
func DumpFrame(log Logger, direction string, data []byte) {
	if !frameDebug.Load() || log == nil {
		return
	}
	log.Debug("%s %d bytes:\n%s", direction, len(data), hex.Dump(data))
}

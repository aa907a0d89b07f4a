package blewallet

import (
	"avaneesh/blesign-go/pkg/internal/logger"

	"go.uber.org/zap"
)

// LogLevel represents logging level
type LogLevel int

const (
	// LevelDebug shows all log messages (most verbose)
	LevelDebug LogLevel = iota
	// LevelInfo shows info, warn, and error messages (default)
	LevelInfo
	// LevelWarn shows warn and error messages
	LevelWarn
	// LevelError shows only error messages
	LevelError
)

// SetLogLevel replaces the global logger with one at the given level
func SetLogLevel(level LogLevel) {
	logger.SetDefault(logger.NewDefaultLogger(logger.Level(level)))
}

// ParseLogLevel converts a name such as "debug" or "warn" into a LogLevel
func ParseLogLevel(name string) LogLevel {
	return LogLevel(logger.ParseLevel(name))
}

// EnableFrameDebug enables or disables hex dumps of every frame written to a
// device and every notification received from one
func EnableFrameDebug(enable bool) {
	logger.SetFrameDebug(enable)
}

// Logger is the printf-style logger used across the stack
type Logger = logger.Logger

// DefaultLogger returns the process-wide logger
func DefaultLogger() Logger {
	return logger.GetDefault()
}

// UseZapLogger routes all logging through base, filtered at level
func UseZapLogger(base *zap.Logger, level LogLevel) {
	logger.SetDefault(logger.NewZapLogger(base, logger.Level(level)))
}

// SyncLogger flushes the process-wide logger if it buffers
func SyncLogger() {
	if s, ok := logger.GetDefault().(interface{ Sync() error }); ok {
		_ = s.Sync()
	}
}

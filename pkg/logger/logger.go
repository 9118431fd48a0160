// Package logger is the process-wide logger. Every call is a no-op until Init
// or Configure has run, so library packages can log unconditionally.
package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	globalLogger atomic.Pointer[zap.Logger]
	logFile      *lumberjack.Logger
	mu           sync.Mutex
)

// Options configures the global logger.
type Options struct {
	File       string    // rotating JSON log file; empty disables file output
	Level      string    // debug, info, warn, error
	Console    io.Writer // human-readable output; nil disables console output
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Init initializes the global logger with the specified log file path.
func Init(logPath string) error {
	return Configure(Options{File: logPath, Level: "debug"})
}

// Configure replaces the global logger. Calling it again closes the previous file.
func Configure(opts Options) error {
	mu.Lock()
	defer mu.Unlock()

	closeLocked()

	level := zap.NewAtomicLevel()
	if opts.Level != "" {
		if err := level.UnmarshalText([]byte(opts.Level)); err != nil {
			return fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000000")

	var cores []zapcore.Core
	if opts.File != "" {
		// lumberjack opens lazily; fail here rather than on the first write
		f, err := os.OpenFile(opts.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("failed to create log file: %w", err)
		}
		f.Close()
		logFile = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   opts.Compress,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(logFile), level))
	}
	if opts.Console != nil {
		consoleCfg := encCfg
		consoleCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(consoleCfg), zapcore.Lock(zapcore.AddSync(opts.Console)), level))
	}
	if len(cores) == 0 {
		globalLogger.Store(nil)
		return nil
	}

	globalLogger.Store(zap.New(zapcore.NewTee(cores...), zap.AddStacktrace(zap.ErrorLevel)))
	return nil
}

// Close flushes and closes the log file.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	closeLocked()
}

func closeLocked() {
	if l := globalLogger.Swap(nil); l != nil {
		_ = l.Sync()
	}
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
}

// L returns the global logger, or a no-op logger before Init.
func L() *zap.Logger {
	if l := globalLogger.Load(); l != nil {
		return l
	}
	return zap.NewNop()
}

// With returns a child logger carrying the given fields.
func With(fields ...zap.Field) *zap.Logger {
	return L().With(fields...)
}

// Info logs an info message.
func Info(format string, v ...interface{}) {
	L().Sugar().Infof(format, v...)
}

// Debug logs a debug message.
func Debug(format string, v ...interface{}) {
	L().Sugar().Debugf(format, v...)
}

// Error logs an error message.
func Error(format string, v ...interface{}) {
	L().Sugar().Errorf(format, v...)
}

// Warn logs a warning message.
func Warn(format string, v ...interface{}) {
	L().Sugar().Warnf(format, v...)
}

// GetWriter returns the underlying writer for use by drivers.
func GetWriter() io.Writer {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		return logFile
	}
	return io.Discard
}

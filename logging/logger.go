// Package logging builds the service logger: zap with a console core and a
// rotating JSON file core, and redaction of secrets on every entry.
package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config controls how the logger is assembled.
type Config struct {
	// Development switches the console to colored human-readable output.
	Development bool
	// Level is parsed with ParseLogLevelString. Empty means debug in
	// development and info otherwise.
	Level string
	// FilePath enables the rotating JSON file output when set.
	FilePath string
	File     FileWriterConfig
	// Console overrides stdout, mainly for tests.
	Console zapcore.WriteSyncer
}

// Logger wraps zap.Logger. Components take the *zap.Logger from Zap; the
// wrapper adds the sugared helpers used at the edges of the program.
type Logger struct {
	zap         *zap.Logger
	sugar       *zap.SugaredLogger
	development bool
	filePath    string
}

// New builds a Logger from cfg.
//
//	logger, err := logging.New(logging.Config{Development: true, FilePath: "diffusion.log"})
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
func New(cfg Config) (*Logger, error) {
	def := zapcore.InfoLevel
	if cfg.Development {
		def = zapcore.DebugLevel
	}
	level := ParseLogLevelString(cfg.Level, def)

	console := cfg.Console
	if console == nil {
		console = zapcore.Lock(os.Stdout)
	}

	var core zapcore.Core
	if cfg.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		fileCfg := cfg.File
		if fileCfg == (FileWriterConfig{}) {
			fileCfg = DefaultFileWriterConfig()
		}
		core = NewMultiCore(level, console, NewFileWriterWithConfig(cfg.FilePath, fileCfg), cfg.Development)
	} else {
		core = zapcore.NewCore(consoleEncoder(cfg.Development), console, level)
	}

	z := zap.New(NewRedactingCore(core), zap.AddCaller())
	return &Logger{
		zap:         z,
		sugar:       z.Sugar(),
		development: cfg.Development,
		filePath:    cfg.FilePath,
	}, nil
}

// Wrap adapts an existing zap logger, e.g. one from zaptest.
func Wrap(z *zap.Logger) *Logger {
	return &Logger{zap: z, sugar: z.Sugar()}
}

// Sync flushes buffered entries. Call it before exiting.
func (l *Logger) Sync() error {
	if l == nil || l.zap == nil {
		return nil
	}
	return l.zap.Sync()
}

func (l *Logger) Debug(msg string, fields ...zap.Field) { l.zap.Debug(msg, fields...) }
func (l *Logger) Info(msg string, fields ...zap.Field)  { l.zap.Info(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...zap.Field)  { l.zap.Warn(msg, fields...) }
func (l *Logger) Error(msg string, fields ...zap.Field) { l.zap.Error(msg, fields...) }
func (l *Logger) Fatal(msg string, fields ...zap.Field) { l.zap.Fatal(msg, fields...) }

// Infow logs with loosely typed key-value pairs.
func (l *Logger) Infow(msg string, keysAndValues ...interface{}) {
	l.sugar.Infow(msg, keysAndValues...)
}

func (l *Logger) Warnw(msg string, keysAndValues ...interface{}) {
	l.sugar.Warnw(msg, keysAndValues...)
}

func (l *Logger) Errorw(msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, keysAndValues...)
}

func (l *Logger) Infof(template string, args ...interface{}) { l.sugar.Infof(template, args...) }

// With returns a child logger carrying fields on every entry.
func (l *Logger) With(fields ...zap.Field) *Logger {
	z := l.zap.With(fields...)
	return &Logger{zap: z, sugar: z.Sugar(), development: l.development, filePath: l.filePath}
}

// Named returns a child logger with a sub-name, e.g. "http" or "db".
func (l *Logger) Named(name string) *Logger {
	z := l.zap.Named(name)
	return &Logger{zap: z, sugar: z.Sugar(), development: l.development, filePath: l.filePath}
}

// Zap returns the underlying logger handed to components.
func (l *Logger) Zap() *zap.Logger { return l.zap }

func (l *Logger) Sugar() *zap.SugaredLogger { return l.sugar }

func (l *Logger) IsDevelopment() bool { return l.development }

func (l *Logger) LogFilePath() string { return l.filePath }

package logging

import (
	"go.uber.org/zap/zapcore"
)

// NewMultiCore tees entries to the console and to a file. The file always
// gets JSON; the console gets colored text in development and JSON
// otherwise.
func NewMultiCore(level zapcore.Level, console, file zapcore.WriteSyncer, isDev bool) zapcore.Core {
	fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(NewEncoderConfig()), file, level)
	consoleCore := zapcore.NewCore(consoleEncoder(isDev), console, level)
	return zapcore.NewTee(consoleCore, fileCore)
}

func consoleEncoder(isDev bool) zapcore.Encoder {
	if isDev {
		return zapcore.NewConsoleEncoder(NewConsoleEncoderConfig())
	}
	return zapcore.NewJSONEncoder(NewEncoderConfig())
}

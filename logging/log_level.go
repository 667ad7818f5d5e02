package logging

import (
	"os"
	"strings"

	"go.uber.org/zap/zapcore"
)

// LevelEnvVar names the environment variable read by LevelFromEnv.
const LevelEnvVar = "LOG_LEVEL"

// LevelFromEnv reads LOG_LEVEL, falling back to def when unset or invalid.
func LevelFromEnv(def zapcore.Level) zapcore.Level {
	return ParseLogLevelString(os.Getenv(LevelEnvVar), def)
}

// ParseLogLevelString maps debug, info, warn (or warning), error and fatal,
// in any case, to a zap level. Anything else yields def.
func ParseLogLevelString(s string, def zapcore.Level) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	}
	return def
}

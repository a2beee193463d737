package logging

import (
	"strings"

	"go.uber.org/zap/zapcore"
)

// ParseLevel parses debug, info, warn/warning or error (any case).
// Anything else returns def.
func ParseLevel(s string, def zapcore.Level) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return def
	}
}

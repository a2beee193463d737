package logging

import (
	"errors"
	"syscall"

	"go.uber.org/zap/zapcore"
)

// newTeeCore writes to console and, when file is non-nil, to file.
// The file always gets JSON; the console gets JSON in production and a
// coloured console encoding in development.
func newTeeCore(level zapcore.Level, console, file zapcore.WriteSyncer, dev bool) zapcore.Core {
	var consoleEnc zapcore.Encoder
	if dev {
		consoleEnc = zapcore.NewConsoleEncoder(NewConsoleEncoderConfig())
	} else {
		consoleEnc = zapcore.NewJSONEncoder(NewEncoderConfig())
	}
	consoleCore := zapcore.NewCore(consoleEnc, console, level)

	if file == nil {
		return consoleCore
	}
	fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(NewEncoderConfig()), file, level)
	return zapcore.NewTee(consoleCore, fileCore)
}

// redactingCore rewrites sensitive fields before they reach the wrapped core.
type redactingCore struct {
	zapcore.Core
}

func newRedactingCore(c zapcore.Core) zapcore.Core {
	return &redactingCore{Core: c}
}

func (c *redactingCore) With(fields []zapcore.Field) zapcore.Core {
	return &redactingCore{Core: c.Core.With(redactFields(fields))}
}

func (c *redactingCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *redactingCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	ent.Message = RedactSensitiveData(ent.Message)
	return c.Core.Write(ent, redactFields(fields))
}

func redactFields(fields []zapcore.Field) []zapcore.Field {
	if len(fields) == 0 {
		return fields
	}
	out := make([]zapcore.Field, len(fields))
	for i, f := range fields {
		out[i] = redactField(f)
	}
	return out
}

func redactField(f zapcore.Field) zapcore.Field {
	if IsSensitiveField(f.Key) {
		return zapcore.Field{Key: f.Key, Type: zapcore.StringType, String: RedactedPlaceholder}
	}
	switch f.Type {
	case zapcore.StringType:
		f.String = RedactSensitiveData(f.String)
	case zapcore.ErrorType:
		if err, ok := f.Interface.(error); ok && err != nil {
			msg := err.Error()
			if redacted := RedactSensitiveData(msg); redacted != msg {
				return zapcore.Field{Key: f.Key, Type: zapcore.StringType, String: redacted}
			}
		}
	}
	return f
}

// isIgnorableSyncError matches the errors returned when syncing a terminal
// or pipe, which cannot be fsynced.
func isIgnorableSyncError(err error) bool {
	return errors.Is(err, syscall.EINVAL) || errors.Is(err, syscall.ENOTTY) || errors.Is(err, syscall.EBADF)
}

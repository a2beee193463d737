// Package logging wraps zap for fluxserve: console and rotated file output,
// level parsing, secret redaction and field helpers for generation requests.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configures New.
type Options struct {
	// Level is the minimum level written to every output.
	Level zapcore.Level

	// Development switches the console to coloured, human-readable output.
	Development bool

	// FilePath enables a rotated JSON log file. Empty means console only.
	FilePath string

	// File tunes rotation. Zero fields take the package defaults.
	File FileWriterConfig

	// Console overrides stdout, mostly for tests.
	Console zapcore.WriteSyncer
}

// Logger is the application logger.
//
// Every entry, including those written through the *zap.Logger returned by
// Zap, passes through the redacting core, so secrets never reach an output.
type Logger struct {
	zap     *zap.Logger
	wrapped *zap.Logger // skips this wrapper's frame when reporting the caller
	opts    Options
}

func newLogger(z *zap.Logger, opts Options) *Logger {
	return &Logger{zap: z, wrapped: z.WithOptions(zap.AddCallerSkip(1)), opts: opts}
}

// New builds a Logger from opts.
//
// Example:
//
//	logger, err := logging.New(logging.Options{
//	    Level:       logging.ParseLevel(os.Getenv("FLUX_LOG_LEVEL"), zapcore.InfoLevel),
//	    Development: true,
//	    FilePath:    "fluxserve.log",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
func New(opts Options) (*Logger, error) {
	console := opts.Console
	if console == nil {
		console = zapcore.Lock(os.Stdout)
	}

	var file zapcore.WriteSyncer
	if opts.FilePath != "" {
		file = NewFileWriter(opts.FilePath, opts.File)
	}

	core := newRedactingCore(newTeeCore(opts.Level, console, file, opts.Development))
	z := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))

	return newLogger(z, opts), nil
}

// NewNop returns a Logger that discards everything.
func NewNop() *Logger {
	return newLogger(zap.NewNop(), Options{})
}

// Sync flushes buffered entries. Errors from syncing a terminal are ignored.
func (l *Logger) Sync() error {
	if l == nil || l.zap == nil {
		return nil
	}
	err := l.zap.Sync()
	if err != nil && isIgnorableSyncError(err) {
		return nil
	}
	return err
}

// Debug logs at debug level.
func (l *Logger) Debug(msg string, fields ...zap.Field) {
	l.wrapped.Debug(msg, fields...)
}

// Info logs at info level.
func (l *Logger) Info(msg string, fields ...zap.Field) {
	l.wrapped.Info(msg, fields...)
}

// Warn logs at warn level.
func (l *Logger) Warn(msg string, fields ...zap.Field) {
	l.wrapped.Warn(msg, fields...)
}

// Error logs at error level with a stack trace.
func (l *Logger) Error(msg string, fields ...zap.Field) {
	l.wrapped.Error(msg, fields...)
}

// Infof logs a formatted message at info level.
func (l *Logger) Infof(template string, args ...any) {
	l.wrapped.Sugar().Infof(template, args...)
}

// With returns a child logger carrying fields on every entry.
func (l *Logger) With(fields ...zap.Field) *Logger {
	return newLogger(l.zap.With(fields...), l.opts)
}

// Named returns a child logger with name appended to the logger name.
func (l *Logger) Named(name string) *Logger {
	return newLogger(l.zap.Named(name), l.opts)
}

// Zap exposes the underlying logger for packages that take *zap.Logger.
func (l *Logger) Zap() *zap.Logger {
	return l.zap
}

// IsDevelopment reports whether console output is human-readable.
func (l *Logger) IsDevelopment() bool {
	return l.opts.Development
}

// LogFilePath returns the log file path, or "" for console only.
func (l *Logger) LogFilePath() string {
	return l.opts.FilePath
}

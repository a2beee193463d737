package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// newBufferLogger returns a production logger writing JSON to buf.
func newBufferLogger(t *testing.T, level zapcore.Level) (*Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger, err := New(Options{Level: level, Console: zapcore.AddSync(&buf)})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return logger, &buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("invalid JSON log line %q: %v", line, err)
		}
		entries = append(entries, m)
	}
	return entries
}

func TestLoggerWritesStandardKeys(t *testing.T) {
	logger, buf := newBufferLogger(t, zapcore.InfoLevel)
	logger.Info("engine created", zap.String("model_dir", "flux-klein-model"))

	entries := decodeLines(t, buf)
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	e := entries[0]
	for _, key := range []string{FieldTimestamp, FieldLevel, FieldCaller, FieldMessage} {
		if _, ok := e[key]; !ok {
			t.Errorf("entry missing %q: %v", key, e)
		}
	}
	if e[FieldMessage] != "engine created" || e["model_dir"] != "flux-klein-model" {
		t.Errorf("entry = %v", e)
	}
	if caller, _ := e[FieldCaller].(string); !strings.Contains(caller, "logger_test.go") {
		t.Errorf("caller = %q, want the test file", caller)
	}
}

func TestLoggerRespectsLevel(t *testing.T) {
	logger, buf := newBufferLogger(t, zapcore.WarnLevel)
	logger.Debug("hidden")
	logger.Info("hidden")
	logger.Warn("shown")

	entries := decodeLines(t, buf)
	if len(entries) != 1 || entries[0][FieldMessage] != "shown" {
		t.Errorf("entries = %v, want only the warn entry", entries)
	}
}

func TestLoggerRedactsEverywhere(t *testing.T) {
	logger, buf := newBufferLogger(t, zapcore.DebugLevel)

	key := "sk-" + strings.Repeat("a", 32)
	logger.Info("calling remote",
		zap.String("remote_api_key", "plain-looking-value"),
		zap.String("detail", "using "+key),
	)
	// The raw zap logger handed to other packages must redact too.
	logger.Zap().Warn("auth "+key, zap.Error(errors.New("rejected key "+key)))
	logger.With(zap.String("authorization", "Bearer abc")).Info("child")

	out := buf.String()
	if strings.Contains(out, key) || strings.Contains(out, "plain-looking-value") || strings.Contains(out, "Bearer abc") {
		t.Fatalf("secret leaked into log output:\n%s", out)
	}
	if strings.Count(out, RedactedPlaceholder) < 4 {
		t.Errorf("expected redaction placeholders in output:\n%s", out)
	}
}

func TestLoggerWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fluxserve.log")
	var console bytes.Buffer
	logger, err := New(Options{Level: zapcore.InfoLevel, FilePath: path, Console: zapcore.AddSync(&console)})
	if err != nil {
		t.Fatal(err)
	}
	logger.Named("server").Info("listening", zap.Int("port", 7860))
	if err := logger.Sync(); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("log file not written: %v", err)
	}
	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(data), &entry); err != nil {
		t.Fatalf("file entry is not JSON: %v", err)
	}
	if entry[FieldLogger] != "server" || entry["port"] != float64(7860) {
		t.Errorf("file entry = %v", entry)
	}
	if logger.LogFilePath() != path {
		t.Errorf("LogFilePath() = %q, want %q", logger.LogFilePath(), path)
	}
	if console.Len() == 0 {
		t.Error("console output missing")
	}
}

func TestLoggerDevelopmentConsole(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Level: zapcore.DebugLevel, Development: true, Console: zapcore.AddSync(&buf)})
	if err != nil {
		t.Fatal(err)
	}
	logger.Debug("queued")
	if !logger.IsDevelopment() {
		t.Error("IsDevelopment() = false")
	}
	if !strings.Contains(buf.String(), "queued") || strings.HasPrefix(buf.String(), "{") {
		t.Errorf("development output should be console formatted, got %q", buf.String())
	}
}

func TestNewNop(t *testing.T) {
	l := NewNop()
	l.Info("nothing")
	if err := l.Sync(); err != nil {
		t.Errorf("Sync() error = %v", err)
	}
	var nilLogger *Logger
	if err := nilLogger.Sync(); err != nil {
		t.Errorf("nil Sync() error = %v", err)
	}
}

package core

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestConfigErrorMessage(t *testing.T) {
	err := ErrMissingConfig("FLUX_REMOTE_URL", "required by the remote backend")
	if !strings.Contains(err.Error(), "FLUX_REMOTE_URL") || !strings.Contains(err.Error(), "Set FLUX_REMOTE_URL") {
		t.Errorf("Error() = %q", err.Error())
	}

	bare := &ConfigError{Code: "X", Message: "just a message"}
	if bare.Error() != "just a message" {
		t.Errorf("Error() without action = %q", bare.Error())
	}
}

func TestIsConfigErrorUnwraps(t *testing.T) {
	wrapped := fmt.Errorf("startup: %w", ErrInvalidValue("FLUX_PORT", 0, "must be positive"))
	ce, ok := IsConfigError(wrapped)
	if !ok || ce.Code != ErrCodeInvalidValue {
		t.Errorf("IsConfigError() = %v, %v", ce, ok)
	}
	if GetErrorCode(errors.New("plain")) != "" {
		t.Error("GetErrorCode(plain) should be empty")
	}
}

func TestExitCodeFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, ExitCodeSuccess},
		{errors.New("boom"), ExitCodeError},
		{fmt.Errorf("load: %w", ErrEnvFileMissing(".env")), ExitCodeConfig},
	}
	for _, tt := range tests {
		if got := ExitCodeFor(tt.err); got != tt.want {
			t.Errorf("ExitCodeFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestExitCodeName(t *testing.T) {
	for code, want := range map[int]string{
		ExitCodeSuccess: "success",
		ExitCodeConfig:  "configuration error",
		ExitCodeSIGINT:  "interrupted (SIGINT)",
		ExitCodeSIGTERM: "terminated (SIGTERM)",
		99:              "unknown",
	} {
		if got := ExitCodeName(code); got != want {
			t.Errorf("ExitCodeName(%d) = %q, want %q", code, got, want)
		}
	}
	if !IsSignalExit(ExitCodeSIGINT) || IsSignalExit(ExitCodeError) {
		t.Error("IsSignalExit mismatch")
	}
}

func TestGetVersionInfo(t *testing.T) {
	info := GetVersionInfo()
	if !strings.HasPrefix(info, GetVersion()+" (built ") {
		t.Errorf("GetVersionInfo() = %q", info)
	}
}

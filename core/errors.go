package core

import (
	"errors"
	"fmt"
)

// ConfigError is a configuration problem with an instruction for fixing it.
type ConfigError struct {
	Code    string // stable code for programmatic handling
	Message string
	Action  string // what the operator should change
}

func (e *ConfigError) Error() string {
	if e.Action != "" {
		return fmt.Sprintf("%s. %s", e.Message, e.Action)
	}
	return e.Message
}

// Configuration error codes.
const (
	ErrCodeEnvFileMissing    = "ENV_FILE_MISSING"
	ErrCodeConfigFileInvalid = "CONFIG_FILE_INVALID"
	ErrCodeMissingConfig     = "MISSING_CONFIG"
	ErrCodeInvalidValue      = "INVALID_VALUE"
)

// ErrEnvFileMissing is returned when an explicitly requested .env file does
// not exist.
func ErrEnvFileMissing(path string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeEnvFileMissing,
		Message: fmt.Sprintf("Environment file not found: %s", path),
		Action:  "Create the file or drop the --env-file flag",
	}
}

// ErrConfigFileInvalid wraps a read or parse failure of FLUX_CONFIG_FILE.
func ErrConfigFileInvalid(path string, err error) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeConfigFileInvalid,
		Message: fmt.Sprintf("Cannot load config file %s: %v", path, err),
		Action:  "Fix the YAML or unset FLUX_CONFIG_FILE",
	}
}

// ErrMissingConfig reports a required variable that is empty.
func ErrMissingConfig(varName, reason string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeMissingConfig,
		Message: fmt.Sprintf("Missing required configuration %s (%s)", varName, reason),
		Action:  fmt.Sprintf("Set %s in the environment, .env or the config file", varName),
	}
}

// ErrInvalidValue reports a variable whose value is out of range.
func ErrInvalidValue(varName string, value any, reason string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeInvalidValue,
		Message: fmt.Sprintf("Invalid %s=%v: %s", varName, value, reason),
		Action:  fmt.Sprintf("Correct %s", varName),
	}
}

// IsConfigError reports whether err is or wraps a *ConfigError.
func IsConfigError(err error) (*ConfigError, bool) {
	var ce *ConfigError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// GetErrorCode returns the ConfigError code in err, or "".
func GetErrorCode(err error) string {
	if ce, ok := IsConfigError(err); ok {
		return ce.Code
	}
	return ""
}

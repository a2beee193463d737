package logging

import (
	"regexp"
	"strings"
)

// RedactedPlaceholder replaces redacted values.
const RedactedPlaceholder = "[REDACTED]"

var secretPatterns = []*regexp.Regexp{
	// OpenAI-style keys
	regexp.MustCompile(`sk-[A-Za-z0-9_-]{20,}`),
	// Authorization headers
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._~+/=-]{16,}`),
	// bcrypt hashes
	regexp.MustCompile(`\$2[aby]\$[0-9]{2}\$[./A-Za-z0-9]{53}`),
	// key=value assignments
	regexp.MustCompile(`(?i)(api_?key|token|secret)\s*[:=]\s*[^\s,;&]{8,}`),
}

// sensitiveKeys are substrings of field names whose values are always redacted.
var sensitiveKeys = []string{
	"API_KEY",
	"APIKEY",
	"AUTHORIZATION",
	"PASSWORD",
	"SECRET",
	"TOKEN",
}

// RedactSensitiveData replaces anything that looks like a credential in value.
func RedactSensitiveData(value string) string {
	if value == "" {
		return value
	}
	for _, p := range secretPatterns {
		value = p.ReplaceAllString(value, RedactedPlaceholder)
	}
	return value
}

// IsSensitiveField reports whether a field named name must never be logged.
func IsSensitiveField(name string) bool {
	upper := strings.ToUpper(name)
	for _, k := range sensitiveKeys {
		if strings.Contains(upper, k) {
			return true
		}
	}
	return false
}

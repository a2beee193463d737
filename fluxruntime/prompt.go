package fluxruntime

import (
	"strings"
	"unicode/utf8"
)

// ValidatePrompt validates a prompt string for image generation.
// This is a pure function with no side effects.
func ValidatePrompt(prompt string) error {
	if strings.TrimSpace(prompt) == "" {
		return validationError("prompt cannot be empty")
	}

	// The prompt crosses into C as a NUL-terminated string.
	if strings.ContainsRune(prompt, '\x00') {
		return validationError("prompt contains null bytes")
	}

	if !utf8.ValidString(prompt) {
		return validationError("prompt is not valid UTF-8")
	}

	if n := utf8.RuneCountInString(prompt); n > MaxPromptLength {
		return validationError("prompt length %d characters exceeds maximum %d", n, MaxPromptLength)
	}

	return nil
}

// SanitizePrompt trims surrounding whitespace.
func SanitizePrompt(prompt string) string {
	return strings.TrimSpace(prompt)
}

package logging

import (
	"time"

	"go.uber.org/zap"
)

// maxLoggedPrompt bounds the prompt text copied into log entries.
const maxLoggedPrompt = 120

// GenerationFields describes a generation request.
//
//	logger.Info("generate", logging.GenerationFields("txt2img", prompt, 256, 256, 4, -1)...)
func GenerationFields(op, prompt string, width, height, steps int, seed int64) []zap.Field {
	return []zap.Field{
		zap.String("op", op),
		zap.String("prompt", TruncatePrompt(prompt)),
		zap.Int("width", width),
		zap.Int("height", height),
		zap.Int("steps", steps),
		zap.Int64("seed", seed),
	}
}

// RequestFields describes a finished HTTP request.
func RequestFields(requestID, method, path string, status int, latency time.Duration) []zap.Field {
	return []zap.Field{
		zap.String("request_id", requestID),
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", status),
		zap.Duration("latency", latency),
	}
}

// TruncatePrompt shortens long prompts for logging, on a rune boundary.
func TruncatePrompt(prompt string) string {
	runes := []rune(prompt)
	if len(runes) <= maxLoggedPrompt {
		return prompt
	}
	return string(runes[:maxLoggedPrompt]) + "..."
}

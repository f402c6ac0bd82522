package utils

import (
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
)

// Sanitizer prepares untrusted message content before it is handed to
// an AI collaborator.
type Sanitizer struct {
	logger *zap.Logger
}

// NewSanitizer creates a new Sanitizer.
func NewSanitizer(logger *zap.Logger) *Sanitizer {
	return &Sanitizer{logger: logger}
}

// Prepare truncates text to maxSize bytes on a rune boundary and
// strips invalid UTF-8.
func (s *Sanitizer) Prepare(text string, maxSize int) string {
	cleaned := strings.ToValidUTF8(text, "")

	if maxSize <= 0 || len(cleaned) <= maxSize {
		return cleaned
	}

	truncated := cleaned[:maxSize]
	for len(truncated) > 0 && !utf8.ValidString(truncated) {
		truncated = truncated[:len(truncated)-1]
	}

	s.logger.Debug("Content truncated for prediction",
		zap.Int("original_size", len(cleaned)),
		zap.Int("truncated_size", len(truncated)))

	return truncated + "\n[... content truncated ...]"
}

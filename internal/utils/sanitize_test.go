package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestPreparePassesShortTextThrough(t *testing.T) {
	s := NewSanitizer(zap.NewNop())
	assert.Equal(t, "hello", s.Prepare("hello", 100))
}

func TestPrepareStripsInvalidUTF8(t *testing.T) {
	s := NewSanitizer(zap.NewNop())
	assert.Equal(t, "ab", s.Prepare("a\xffb", 100))
}

func TestPrepareTruncatesOnRuneBoundary(t *testing.T) {
	s := NewSanitizer(zap.NewNop())

	// Each rune is 3 bytes; a 4-byte budget must not split the second.
	out := s.Prepare("日本語", 4)
	assert.True(t, strings.HasPrefix(out, "日"))
	assert.Contains(t, out, "content truncated")
}

func TestPrepareZeroBudgetMeansUnlimited(t *testing.T) {
	s := NewSanitizer(zap.NewNop())
	long := strings.Repeat("x", 10000)
	assert.Equal(t, long, s.Prepare(long, 0))
}

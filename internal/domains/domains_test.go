package domains

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestExtractAddress(t *testing.T) {
	assert.Equal(t, "user@corp.example.com", ExtractAddress("Alice <user@corp.example.com>"))
	assert.Equal(t, "user@corp.example.com", ExtractAddress("user@corp.example.com"))
	assert.Equal(t, "user@corp.example.com", ExtractAddress("  user@corp.example.com  "))
}

func TestIsInternalAddress(t *testing.T) {
	c := NewChecker([]string{"corp.example.com"}, zap.NewNop())

	assert.True(t, c.IsInternalAddress("user@corp.example.com"))
	assert.True(t, c.IsInternalAddress("Bob <bob@mail.corp.example.com>"))
	assert.False(t, c.IsInternalAddress("user@external.test"))
	assert.False(t, c.IsInternalAddress("not-an-address"))
}

func TestIsInternalURL(t *testing.T) {
	c := NewChecker([]string{"corp.example.com"}, zap.NewNop())

	assert.True(t, c.IsInternalURL("https://intranet.corp.example.com/docs"))
	assert.True(t, c.IsInternalURL("https://corp.example.com/"))
	assert.False(t, c.IsInternalURL("https://evilcorp.example.com.attacker.test/x"))
	assert.False(t, c.IsInternalURL("not a url"))
}

func TestEmptyCheckerTreatsEverythingExternal(t *testing.T) {
	c := NewChecker(nil, zap.NewNop())

	assert.False(t, c.IsInternalAddress("user@corp.example.com"))
	assert.False(t, c.IsInternalURL("https://corp.example.com/"))
}

func TestSuffixMatchRequiresDomainBoundary(t *testing.T) {
	c := NewChecker([]string{"example.com"}, zap.NewNop())

	assert.True(t, c.IsInternalAddress("user@sub.example.com"))
	assert.False(t, c.IsInternalAddress("user@notexample.com"))
}

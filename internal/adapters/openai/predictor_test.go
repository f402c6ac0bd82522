package openai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseThreatResponsePlainJSON(t *testing.T) {
	parsed, err := parseThreatResponse(`{"threat_type":"phishing","threat_score":0.8,"confidence":0.9,"indicators":["auth_keyword_url"]}`)
	require.NoError(t, err)

	assert.Equal(t, "phishing", parsed.ThreatType)
	assert.InDelta(t, 0.8, parsed.ThreatScore, 1e-9)
	assert.InDelta(t, 0.9, parsed.Confidence, 1e-9)
	assert.Equal(t, []string{"auth_keyword_url"}, parsed.Indicators)
}

func TestParseThreatResponseWithSurroundingProse(t *testing.T) {
	text := "Here is my analysis:\n```json\n{\"threat_type\":\"malware\",\"threat_score\":0.95,\"confidence\":0.85,\"indicators\":[]}\n```\nLet me know."
	parsed, err := parseThreatResponse(text)
	require.NoError(t, err)

	assert.Equal(t, "malware", parsed.ThreatType)
	assert.InDelta(t, 0.95, parsed.ThreatScore, 1e-9)
}

func TestParseThreatResponseNoJSON(t *testing.T) {
	_, err := parseThreatResponse("I cannot analyze this email.")
	assert.Error(t, err)
}

func TestParseThreatResponseMalformedJSON(t *testing.T) {
	_, err := parseThreatResponse(`prefix {"threat_type": "phishing", "threat_score": } suffix`)
	assert.Error(t, err)
}

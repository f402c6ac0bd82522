package sandbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ztmail/zerotrust/internal/core"
	"github.com/ztmail/zerotrust/internal/metrics"
)

type fakeBrowser struct {
	capture *core.PageCapture
	err     error
}

func (b *fakeBrowser) Navigate(ctx context.Context, url string) (*core.PageCapture, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.capture, nil
}

func testLinkSandbox(t *testing.T, b core.Browser, capacity int) *LinkSandbox {
	t.Helper()
	m := metrics.NewWith(prometheus.NewRegistry())
	pool := NewPool("browser", capacity, zap.NewNop())
	return NewLinkSandbox(pool, b, 5*time.Second, DefaultLinkWeights(), zap.NewNop(), m)
}

func TestAnalyzeLinkCleanPageIsSafe(t *testing.T) {
	b := &fakeBrowser{capture: &core.PageCapture{
		Source:     "<html><body>plain content</body></html>",
		StatusCode: 200,
	}}
	s := testLinkSandbox(t, b, 1)

	result := s.AnalyzeLink(context.Background(), "https://docs.example.test/page", core.UserContext{})
	require.NotNil(t, result)

	assert.Equal(t, core.VerdictSafe, result.Verdict)
	assert.Empty(t, result.ThreatIndicators)
	// The slot must be back after analysis.
	assert.Equal(t, 0, s.pool.InUse())
}

func TestAnalyzeLinkCredentialHarvesterIsMalicious(t *testing.T) {
	b := &fakeBrowser{capture: &core.PageCapture{
		Source: `<form action="/login"><input type="password"></form>
			<script>window.location = 'https://next.test'</script>`,
	}}
	s := testLinkSandbox(t, b, 1)

	result := s.AnalyzeLink(context.Background(), "https://evil.test/verify-login", core.UserContext{})
	require.NotNil(t, result)

	// auth keyword 0.3 + login form 0.4 + password field 0.4 + redirect 0.2
	assert.Equal(t, core.VerdictMalicious, result.Verdict)
	assert.Contains(t, result.ThreatIndicators, "auth_keyword_url")
	assert.Contains(t, result.ThreatIndicators, "login_form")
	assert.Contains(t, result.ThreatIndicators, "password_field")
	assert.Contains(t, result.ThreatIndicators, "client_redirect")
}

func TestAnalyzeLinkMediumSignalsAreSuspicious(t *testing.T) {
	b := &fakeBrowser{capture: &core.PageCapture{
		Source: `<iframe src="https://x.test"></iframe>
			<script>eval(atob('payload'))</script>
			<script>window.open('https://pop.test'); fetch('https://api.test')</script>`,
	}}
	s := testLinkSandbox(t, b, 1)

	result := s.AnalyzeLink(context.Background(), "https://odd.test/page", core.UserContext{})
	require.NotNil(t, result)

	// iframe 0.2 + inline script 0.2 + popup 0.1 + dynamic 0.2
	assert.Equal(t, core.VerdictSuspicious, result.Verdict)
	assert.Contains(t, result.ThreatIndicators, "iframe")
	assert.Contains(t, result.ThreatIndicators, "popup")
	assert.Contains(t, result.ThreatIndicators, "dynamic_requests")
}

func TestAnalyzeLinkNavigationFailureIsSuspicious(t *testing.T) {
	b := &fakeBrowser{err: errors.New("connection refused")}
	s := testLinkSandbox(t, b, 1)

	result := s.AnalyzeLink(context.Background(), "https://down.test/x", core.UserContext{})
	require.NotNil(t, result)

	assert.Equal(t, core.VerdictSuspicious, result.Verdict)
	assert.Equal(t, 0.7, result.Confidence)
	assert.Equal(t, []string{"navigation_error"}, result.ThreatIndicators)
	assert.Equal(t, 0, s.pool.InUse())
}

func TestAnalyzeLinkPoolExhaustionIsErrorVerdict(t *testing.T) {
	b := &fakeBrowser{capture: &core.PageCapture{Source: "<html></html>"}}
	s := testLinkSandbox(t, b, 1)

	// Occupy the only slot directly.
	_, err := s.pool.Acquire()
	require.NoError(t, err)

	result := s.AnalyzeLink(context.Background(), "https://busy.test/x", core.UserContext{})
	require.NotNil(t, result)

	assert.Equal(t, core.VerdictError, result.Verdict)
	assert.Equal(t, 0.0, result.Confidence)
	assert.Equal(t, []string{"resource_exhaustion"}, result.ThreatIndicators)
}

func TestAnalyzeLinkExcessiveRequests(t *testing.T) {
	requests := make([]string, 12)
	for i := range requests {
		requests[i] = "https://cdn.test/asset"
	}
	b := &fakeBrowser{capture: &core.PageCapture{
		Source:          "<html></html>",
		NetworkRequests: requests,
	}}
	s := testLinkSandbox(t, b, 1)

	result := s.AnalyzeLink(context.Background(), "https://fanout.test/x", core.UserContext{})
	require.NotNil(t, result)

	assert.Contains(t, result.ThreatIndicators, "excessive_requests")
}

func TestConfidenceForScore(t *testing.T) {
	assert.InDelta(t, 1.0, confidenceForScore(0.0), 1e-9)
	assert.InDelta(t, 0.5, confidenceForScore(0.5), 1e-9)
	assert.InDelta(t, 1.0, confidenceForScore(1.0), 1e-9)
	assert.InDelta(t, 0.8, confidenceForScore(0.8), 1e-9)
}

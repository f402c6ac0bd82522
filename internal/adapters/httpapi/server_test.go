package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ztmail/zerotrust/internal/core"
	"github.com/ztmail/zerotrust/internal/domains"
	"github.com/ztmail/zerotrust/internal/metrics"
)

type stubGateway struct {
	resolutions map[string]*core.Resolution
	lastUser    core.UserContext
}

func (s *stubGateway) ProcessIncoming(ctx context.Context, email *core.Email, ai *core.ThreatPrediction) (*core.GatewayAnalysis, error) {
	return nil, errors.New("not used")
}

func (s *stubGateway) Resolve(ctx context.Context, referenceID string, userCtx core.UserContext) (*core.Resolution, error) {
	s.lastUser = userCtx
	res, ok := s.resolutions[referenceID]
	if !ok {
		return nil, core.ErrTrackingNotFound
	}
	return res, nil
}

type nopPredictor struct{}

func (nopPredictor) PredictEmailThreat(ctx context.Context, email *core.Email) (*core.ThreatPrediction, error) {
	return nil, nil
}

func (nopPredictor) PredictLinkThreat(ctx context.Context, url string, userCtx core.UserContext) (*core.ThreatPrediction, error) {
	return nil, nil
}

func (nopPredictor) PredictAttachmentThreat(ctx context.Context, att *core.Attachment) (*core.ThreatPrediction, error) {
	return nil, nil
}

type nopLinks struct{}

func (nopLinks) AnalyzeLink(ctx context.Context, url string, userCtx core.UserContext) *core.SandboxResult {
	return &core.SandboxResult{Verdict: core.VerdictSafe, Confidence: 0.9}
}

type nopFiles struct{}

func (nopFiles) AnalyzeAttachment(ctx context.Context, path string, fileType string) *core.SandboxResult {
	return &core.SandboxResult{Verdict: core.VerdictSafe, Confidence: 0.9}
}

func testServer(t *testing.T, gw core.GatewayProcessor) *httptest.Server {
	t.Helper()
	m := metrics.NewWith(prometheus.NewRegistry())
	policy := core.NewPolicyEngine(core.PolicyConfig{SafeConfidence: 0.8}, domains.NewChecker(nil, zap.NewNop()), zap.NewNop())
	service := core.NewZeroTrustService(nopPredictor{}, gw, nopLinks{}, nopFiles{}, policy, core.DefaultWeights(), zap.NewNop(), m)
	srv := NewServer(service, gw, "127.0.0.1:0", zap.NewNop())
	ts := httptest.NewServer(srv.router())
	t.Cleanup(ts.Close)
	return ts
}

func noRedirectClient() *http.Client {
	return &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func TestLinkResolveRedirectsWhenAllowed(t *testing.T) {
	gw := &stubGateway{resolutions: map[string]*core.Resolution{
		"ok": {Allowed: true, Target: "https://docs.test/page"},
	}}
	ts := testServer(t, gw)

	resp, err := noRedirectClient().Get(ts.URL + "/t/ok")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "https://docs.test/page", resp.Header.Get("Location"))
}

func TestLinkResolveBlocked(t *testing.T) {
	gw := &stubGateway{resolutions: map[string]*core.Resolution{
		"bad": {Allowed: false, Reason: "malicious", Indicators: []string{"login_form"}},
	}}
	ts := testServer(t, gw)

	resp, err := http.Get(ts.URL + "/t/bad")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, false, body["allowed"])
	assert.Equal(t, "malicious", body["reason"])
}

func TestLinkResolveUnknownReference(t *testing.T) {
	ts := testServer(t, &stubGateway{resolutions: map[string]*core.Resolution{}})

	resp, err := http.Get(ts.URL + "/t/missing")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAttachmentResolveAllowed(t *testing.T) {
	gw := &stubGateway{resolutions: map[string]*core.Resolution{
		"att": {Allowed: true, Target: "/spool/report.pdf"},
	}}
	ts := testServer(t, gw)

	resp, err := http.Get(ts.URL + "/a/att")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, true, body["allowed"])
	assert.Equal(t, "/spool/report.pdf", body["target"])
}

func TestResolveCapturesUserContext(t *testing.T) {
	gw := &stubGateway{resolutions: map[string]*core.Resolution{
		"ok": {Allowed: true, Target: "https://docs.test"},
	}}
	ts := testServer(t, gw)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/t/ok", nil)
	require.NoError(t, err)
	req.Header.Set("X-User-ID", "u1")
	req.Header.Set("User-Agent", "test-agent")

	resp, err := noRedirectClient().Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "u1", gw.lastUser.UserID)
	assert.Equal(t, "test-agent", gw.lastUser.UserAgent)
	assert.NotEmpty(t, gw.lastUser.SourceIP)
}

func TestStatsEndpoint(t *testing.T) {
	ts := testServer(t, &stubGateway{resolutions: map[string]*core.Resolution{}})

	resp, err := http.Get(ts.URL + "/api/v1/stats")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Contains(t, body, "total_processed")
	assert.Contains(t, body, "action_counts")
}

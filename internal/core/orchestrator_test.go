package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ztmail/zerotrust/internal/metrics"
)

type stubPredictor struct {
	email      *ThreatPrediction
	link       *ThreatPrediction
	attachment *ThreatPrediction
	err        error
	panics     bool
}

func (s *stubPredictor) PredictEmailThreat(ctx context.Context, email *Email) (*ThreatPrediction, error) {
	if s.panics {
		panic("predictor blew up")
	}
	return s.email, s.err
}

func (s *stubPredictor) PredictLinkThreat(ctx context.Context, url string, userCtx UserContext) (*ThreatPrediction, error) {
	return s.link, s.err
}

func (s *stubPredictor) PredictAttachmentThreat(ctx context.Context, att *Attachment) (*ThreatPrediction, error) {
	return s.attachment, s.err
}

type stubGateway struct {
	analysis *GatewayAnalysis
	err      error
}

func (s *stubGateway) ProcessIncoming(ctx context.Context, email *Email, ai *ThreatPrediction) (*GatewayAnalysis, error) {
	return s.analysis, s.err
}

func (s *stubGateway) Resolve(ctx context.Context, referenceID string, userCtx UserContext) (*Resolution, error) {
	return nil, errors.New("not used")
}

type stubLinkAnalyzer struct {
	result *SandboxResult
}

func (s *stubLinkAnalyzer) AnalyzeLink(ctx context.Context, url string, userCtx UserContext) *SandboxResult {
	return s.result
}

type stubFileAnalyzer struct {
	result *SandboxResult
}

func (s *stubFileAnalyzer) AnalyzeAttachment(ctx context.Context, path string, fileType string) *SandboxResult {
	return s.result
}

func testService(t *testing.T, predictor ThreatPredictor, gw GatewayProcessor, links LinkAnalyzer, files FileAnalyzer) *ZeroTrustService {
	t.Helper()
	m := metrics.NewWith(prometheus.NewRegistry())
	return NewZeroTrustService(predictor, gw, links, files, testPolicy(t), DefaultWeights(), zap.NewNop(), m)
}

func TestProcessEmailWeightedScore(t *testing.T) {
	ai := &ThreatPrediction{ThreatScore: 0.5, Confidence: 0.6, ThreatType: "phishing"}
	gw := &stubGateway{analysis: &GatewayAnalysis{
		Decision:    &PolicyDecision{Action: ActionRewrite, Reason: "contains_links", Confidence: 0.9, PoliciesApplied: []string{"contains_links"}},
		ThreatScore: 0.4,
		Indicators:  []string{"url_shortener"},
	}}
	service := testService(t, &stubPredictor{email: ai}, gw, &stubLinkAnalyzer{}, &stubFileAnalyzer{})

	result := service.ProcessEmail(context.Background(), &Email{MessageID: "m1", From: "a@external.test"})
	require.NotNil(t, result)

	// 0.4*ai + 0.3*gateway + 0.3*policy(rewrite)
	assert.InDelta(t, 0.4*0.5+0.3*0.4+0.3*0.2, result.ThreatScore, 1e-9)
	assert.Equal(t, ActionRewrite, result.Action)
	assert.Equal(t, "phishing", result.ThreatType)
	assert.Contains(t, result.Indicators, "url_shortener")
	assert.NotNil(t, result.AnalysisDetails["gateway"])
}

func TestProcessEmailGatewayFailureDegrades(t *testing.T) {
	gw := &stubGateway{err: errors.New("store down")}
	service := testService(t, &stubPredictor{}, gw, &stubLinkAnalyzer{}, &stubFileAnalyzer{})

	result := service.ProcessEmail(context.Background(), &Email{
		MessageID: "m2",
		From:      "someone@external.test",
		Body:      "plain text",
	})
	require.NotNil(t, result)

	// The policy list still runs; the gateway contributes nothing.
	assert.Equal(t, ActionRewrite, result.Action)
	assert.Contains(t, result.Indicators, "gateway_unavailable")
	assert.NotContains(t, result.AnalysisDetails, "gateway")
}

func TestProcessEmailFailsClosedOnPanic(t *testing.T) {
	service := testService(t, &stubPredictor{panics: true}, &stubGateway{}, &stubLinkAnalyzer{}, &stubFileAnalyzer{})

	result := service.ProcessEmail(context.Background(), &Email{MessageID: "m3"})
	require.NotNil(t, result)

	assert.Equal(t, ActionBlock, result.Action)
	assert.Equal(t, 1.0, result.ThreatScore)
	assert.Equal(t, 1.0, result.Confidence)
	assert.Equal(t, "error", result.ThreatType)
	assert.Equal(t, []string{"processing_error"}, result.Indicators)
}

func TestProcessLinkClickMaliciousDetonation(t *testing.T) {
	ai := &ThreatPrediction{ThreatScore: 0.6, Confidence: 0.7}
	detonation := &SandboxResult{Verdict: VerdictMalicious, Confidence: 0.9, ThreatIndicators: []string{"login_form"}}
	service := testService(t, &stubPredictor{link: ai}, &stubGateway{}, &stubLinkAnalyzer{result: detonation}, &stubFileAnalyzer{})

	result := service.ProcessLinkClick(context.Background(), &LinkClick{URL: "https://phish.test/login"})
	require.NotNil(t, result)

	assert.Equal(t, ActionBlock, result.Action)
	// 0.3*ai + 0.5*sandbox(malicious) + 0.2*policy(block)
	assert.InDelta(t, 0.3*0.6+0.5*0.9+0.2*0.8, result.ThreatScore, 1e-9)
	assert.Contains(t, result.Indicators, "login_form")
}

func TestProcessLinkClickErrorVerdictScoresAsSuspicious(t *testing.T) {
	detonation := &SandboxResult{Verdict: VerdictError, Confidence: 0.0, ThreatIndicators: []string{"resource_exhaustion"}}
	service := testService(t, &stubPredictor{}, &stubGateway{}, &stubLinkAnalyzer{result: detonation}, &stubFileAnalyzer{})

	result := service.ProcessLinkClick(context.Background(), &LinkClick{URL: "https://docs.test/a"})
	require.NotNil(t, result)

	assert.Equal(t, ActionBlock, result.Action)
	// 0.5*sandbox(suspicious weight for error) + 0.2*policy(block)
	assert.InDelta(t, 0.5*0.7+0.2*0.8, result.ThreatScore, 1e-9)
}

func TestProcessAttachmentSafeDetonationAllows(t *testing.T) {
	detonation := &SandboxResult{Verdict: VerdictSafe, Confidence: 0.95}
	service := testService(t, &stubPredictor{}, &stubGateway{}, &stubLinkAnalyzer{}, &stubFileAnalyzer{result: detonation})

	result := service.ProcessAttachment(context.Background(), &AttachmentDownload{
		Attachment: Attachment{FileName: "report.pdf", Size: 100, StoragePath: "/tmp/report.pdf"},
	})
	require.NotNil(t, result)

	assert.Equal(t, ActionAllow, result.Action)
	assert.LessOrEqual(t, result.ThreatScore, 1.0)
	assert.GreaterOrEqual(t, result.ThreatScore, 0.0)
}

func TestProcessAttachmentDangerousExtensionBlocks(t *testing.T) {
	detonation := &SandboxResult{Verdict: VerdictSafe, Confidence: 0.95}
	service := testService(t, &stubPredictor{}, &stubGateway{}, &stubLinkAnalyzer{}, &stubFileAnalyzer{result: detonation})

	result := service.ProcessAttachment(context.Background(), &AttachmentDownload{
		Attachment: Attachment{FileName: "invoice.exe", Size: 100, StoragePath: "/tmp/invoice.exe"},
	})
	require.NotNil(t, result)

	assert.Equal(t, ActionBlock, result.Action)
}

func TestStatisticsRecordDecisions(t *testing.T) {
	service := testService(t, &stubPredictor{}, &stubGateway{err: errors.New("down")}, &stubLinkAnalyzer{}, &stubFileAnalyzer{})

	service.ProcessEmail(context.Background(), &Email{From: "a@external.test", Body: "x"})
	service.ProcessEmail(context.Background(), &Email{From: "b@external.test", Body: "y"})

	snap := service.GetStatistics()
	assert.Equal(t, int64(2), snap.TotalProcessed)
}

func TestStartStopLifecycle(t *testing.T) {
	service := testService(t, &stubPredictor{}, &stubGateway{}, &stubLinkAnalyzer{}, &stubFileAnalyzer{})

	service.Start(context.Background())
	done := make(chan struct{})
	go func() {
		service.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}

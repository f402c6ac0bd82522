package sandbox

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ztmail/zerotrust/internal/core"
	"github.com/ztmail/zerotrust/internal/metrics"
)

// LinkWeights are the tunable contributions of each link sub-check.
type LinkWeights struct {
	AuthKeywordURL      float64
	HighRiskElement     float64
	MediumRiskElement   float64
	Redirect            float64
	Popup               float64
	DynamicRequest      float64
	ManyRequests        float64
	ManyRequestsCount   int
	MaliciousThreshold  float64
	SuspiciousThreshold float64
}

// DefaultLinkWeights returns the stock link-scoring weights.
func DefaultLinkWeights() LinkWeights {
	return LinkWeights{
		AuthKeywordURL:      0.3,
		HighRiskElement:     0.4,
		MediumRiskElement:   0.2,
		Redirect:            0.2,
		Popup:               0.1,
		DynamicRequest:      0.2,
		ManyRequests:        0.1,
		ManyRequestsCount:   10,
		MaliciousThreshold:  0.8,
		SuspiciousThreshold: 0.5,
	}
}

// Page source patterns behind the element and behavior sub-checks.
var (
	loginFormPattern  = regexp.MustCompile(`(?i)<form[^>]*(login|signin|auth)[^>]*>`)
	passwordPattern   = regexp.MustCompile(`(?i)<input[^>]*type=["']?password["']?`)
	evalScriptPattern = regexp.MustCompile(`(?i)<script[^>]*>[^<]*(eval\(|document\.write|innerHTML)`)
	iframePattern     = regexp.MustCompile(`(?i)<iframe`)
	redirectPattern   = regexp.MustCompile(`(?i)(<meta[^>]*http-equiv=["']?refresh|window\.location\s*=|location\.replace\()`)
	popupPattern      = regexp.MustCompile(`(?i)window\.open\(`)
	dynamicPattern    = regexp.MustCompile(`(?i)(fetch\(|XMLHttpRequest|\.ajax\()`)
)

// authKeywords in the target URL itself are a phishing signal.
var authKeywords = []string{"login", "signin", "verify", "account", "password", "secure", "banking"}

// LinkSandbox detonates URLs in a pooled browser context and scores
// what the page did.
type LinkSandbox struct {
	pool    *Pool
	browser core.Browser
	timeout time.Duration
	weights LinkWeights
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewLinkSandbox creates a link sandbox backed by a browser pool.
func NewLinkSandbox(
	pool *Pool,
	browser core.Browser,
	timeout time.Duration,
	weights LinkWeights,
	logger *zap.Logger,
	m *metrics.Metrics,
) *LinkSandbox {
	return &LinkSandbox{
		pool:    pool,
		browser: browser,
		timeout: timeout,
		weights: weights,
		logger:  logger,
		metrics: m,
	}
}

// AnalyzeLink navigates to the URL under a hard timeout and scores
// the resulting page. Pool exhaustion yields an error verdict;
// navigation failure fails toward caution, never silently safe. The
// browser slot is released on every exit path.
func (s *LinkSandbox) AnalyzeLink(ctx context.Context, url string, userCtx core.UserContext) *core.SandboxResult {
	logs := []string{fmt.Sprintf("state: %s", stateRequested)}

	slot, err := s.pool.Acquire()
	if err != nil {
		s.metrics.PoolExhausted.WithLabelValues(s.pool.Name()).Inc()
		return s.finish(core.KindLink, &core.SandboxResult{
			Verdict:          core.VerdictError,
			Confidence:       0.0,
			ExecutionLogs:    append(logs, fmt.Sprintf("state: %s", stateFailed)),
			ThreatIndicators: []string{"resource_exhaustion"},
			AnalyzedAt:       time.Now(),
		})
	}
	defer s.pool.Release(slot)
	s.metrics.PoolBusy.WithLabelValues(s.pool.Name()).Set(float64(s.pool.InUse()))
	defer func() {
		s.metrics.PoolBusy.WithLabelValues(s.pool.Name()).Set(float64(s.pool.InUse()))
	}()

	logs = append(logs, fmt.Sprintf("state: %s", stateRunning), fmt.Sprintf("slot: %s", slot.ID()))

	navCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	capture, err := s.browser.Navigate(navCtx, url)
	if err != nil {
		s.logger.Warn("Link navigation failed",
			zap.String("url", url),
			zap.String("user", userCtx.UserID),
			zap.Error(err))
		return s.finish(core.KindLink, &core.SandboxResult{
			Verdict:          core.VerdictSuspicious,
			Confidence:       0.7,
			ExecutionLogs:    append(logs, err.Error(), fmt.Sprintf("state: %s", stateFailed)),
			ThreatIndicators: []string{"navigation_error"},
			AnalyzedAt:       time.Now(),
		})
	}

	score, indicators := s.scorePage(url, capture)
	verdict := core.VerdictSafe
	switch {
	case score > s.weights.MaliciousThreshold:
		verdict = core.VerdictMalicious
	case score > s.weights.SuspiciousThreshold:
		verdict = core.VerdictSuspicious
	}

	s.logger.Info("Link detonation complete",
		zap.String("url", url),
		zap.Float64("score", score),
		zap.String("verdict", string(verdict)),
		zap.Strings("indicators", indicators))

	return s.finish(core.KindLink, &core.SandboxResult{
		Verdict:          verdict,
		Confidence:       confidenceForScore(score),
		ExecutionLogs:    append(logs, fmt.Sprintf("state: %s", stateCompleted)),
		NetworkActivity:  capture.NetworkRequests,
		ThreatIndicators: indicators,
		AnalyzedAt:       time.Now(),
	})
}

// scorePage runs the three sub-checks over the captured page and
// returns the clamped weighted score with its indicators.
func (s *LinkSandbox) scorePage(url string, capture *core.PageCapture) (float64, []string) {
	score := 0.0
	var indicators []string

	// URL itself first: auth-related keywords on an uncategorized
	// target are a cheap phishing signal.
	lowerURL := strings.ToLower(url)
	for _, kw := range authKeywords {
		if strings.Contains(lowerURL, kw) {
			score += s.weights.AuthKeywordURL
			indicators = append(indicators, "auth_keyword_url")
			break
		}
	}

	// Sub-check 1: suspicious elements in the DOM.
	if loginFormPattern.MatchString(capture.Source) {
		score += s.weights.HighRiskElement
		indicators = append(indicators, "login_form")
	}
	if passwordPattern.MatchString(capture.Source) {
		score += s.weights.HighRiskElement
		indicators = append(indicators, "password_field")
	}
	if evalScriptPattern.MatchString(capture.Source) {
		score += s.weights.MediumRiskElement
		indicators = append(indicators, "inline_script")
	}
	if iframePattern.MatchString(capture.Source) {
		score += s.weights.MediumRiskElement
		indicators = append(indicators, "iframe")
	}

	// Sub-check 2: behavior signals in the page source.
	if redirectPattern.MatchString(capture.Source) {
		score += s.weights.Redirect
		indicators = append(indicators, "client_redirect")
	}
	if popupPattern.MatchString(capture.Source) {
		score += s.weights.Popup
		indicators = append(indicators, "popup")
	}
	if dynamicPattern.MatchString(capture.Source) {
		score += s.weights.DynamicRequest
		indicators = append(indicators, "dynamic_requests")
	}

	// Sub-check 3: network fan-out.
	if len(capture.NetworkRequests) > s.weights.ManyRequestsCount {
		score += s.weights.ManyRequests
		indicators = append(indicators, "excessive_requests")
	}

	return clamp01(score), indicators
}

func (s *LinkSandbox) finish(kind core.ArtifactKind, result *core.SandboxResult) *core.SandboxResult {
	s.metrics.Verdicts.WithLabelValues(string(kind), string(result.Verdict)).Inc()
	return result
}

// confidenceForScore maps a weighted score to a confidence: strong
// evidence either way means higher confidence than a mid-range score.
func confidenceForScore(score float64) float64 {
	distance := score - 0.5
	if distance < 0 {
		distance = -distance
	}
	return clamp01(0.5 + distance)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

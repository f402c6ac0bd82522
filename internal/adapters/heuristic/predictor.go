package heuristic

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ztmail/zerotrust/internal/core"
)

// Predictor is a static-rule fallback for the AI model layer. It is
// used when no provider is configured or reachable, and always returns
// the full prediction shape.
type Predictor struct {
	logger *zap.Logger
}

// NewPredictor creates a heuristic predictor.
func NewPredictor(logger *zap.Logger) *Predictor {
	return &Predictor{logger: logger}
}

var (
	phishingPhrases = []string{
		"verify your account", "confirm your password", "unusual activity",
		"account suspended", "click here immediately", "urgent action required",
	}
	malwareExts = []string{".exe", ".scr", ".bat", ".cmd", ".js", ".vbs", ".ps1"}
)

// PredictEmailThreat scores an email on static phishing signals.
func (p *Predictor) PredictEmailThreat(ctx context.Context, email *core.Email) (*core.ThreatPrediction, error) {
	score := 0.0
	var indicators []string
	threatType := "none"

	body := strings.ToLower(email.Subject + " " + email.Body)
	for _, phrase := range phishingPhrases {
		if strings.Contains(body, phrase) {
			score += 0.25
			threatType = "phishing"
			indicators = append(indicators, "phishing_phrase")
			break
		}
	}

	for _, att := range email.Attachments {
		if containsExt(malwareExts, strings.ToLower(filepath.Ext(att.FileName))) {
			score += 0.4
			threatType = "malware"
			indicators = append(indicators, "dangerous_attachment_type")
			break
		}
	}

	if len(core.DiscoverLinks(email)) > 10 {
		score += 0.15
		indicators = append(indicators, "link_heavy")
	}

	return p.prediction(threatType, score, indicators), nil
}

// PredictLinkThreat scores a URL on static signals.
func (p *Predictor) PredictLinkThreat(ctx context.Context, url string, userCtx core.UserContext) (*core.ThreatPrediction, error) {
	score := 0.0
	var indicators []string
	threatType := "none"

	lower := strings.ToLower(url)
	for _, kw := range []string{"login", "verify", "password", "banking", "secure"} {
		if strings.Contains(lower, kw) {
			score += 0.3
			threatType = "phishing"
			indicators = append(indicators, "auth_keyword_url")
			break
		}
	}
	if strings.HasPrefix(lower, "http://") {
		score += 0.2
		indicators = append(indicators, "plaintext_transport")
	}
	if strings.Count(lower, ".") > 4 {
		score += 0.2
		indicators = append(indicators, "deep_subdomain")
	}

	return p.prediction(threatType, score, indicators), nil
}

// PredictAttachmentThreat scores attachment metadata.
func (p *Predictor) PredictAttachmentThreat(ctx context.Context, att *core.Attachment) (*core.ThreatPrediction, error) {
	score := 0.0
	var indicators []string
	threatType := "none"

	ext := strings.ToLower(filepath.Ext(att.FileName))
	if containsExt(malwareExts, ext) {
		score += 0.5
		threatType = "malware"
		indicators = append(indicators, "dangerous_attachment_type")
	}
	if strings.Count(att.FileName, ".") > 1 {
		score += 0.3
		indicators = append(indicators, "double_extension")
	}

	return p.prediction(threatType, score, indicators), nil
}

func (p *Predictor) prediction(threatType string, score float64, indicators []string) *core.ThreatPrediction {
	if score > 1.0 {
		score = 1.0
	}
	return &core.ThreatPrediction{
		ThreatType:  threatType,
		Confidence:  0.5, // static rules are a coarse signal
		ThreatScore: score,
		Indicators:  indicators,
		ModelUsed:   "heuristic",
		PredictedAt: time.Now(),
	}
}

func containsExt(exts []string, ext string) bool {
	for _, e := range exts {
		if e == ext {
			return true
		}
	}
	return false
}

package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/ztmail/zerotrust/internal/config"
	"github.com/ztmail/zerotrust/internal/domains"
)

func testPolicy(t *testing.T) *PolicyEngine {
	t.Helper()
	checker := domains.NewChecker([]string{"corp.example.com"}, zap.NewNop())
	return NewPolicyEngine(PolicyConfig{
		HighRiskUsers:       []string{"ceo@corp.example.com"},
		BlockedSenders:      []string{"attacker@evil.test"},
		DangerousExtensions: []string{".exe", ".scr", ".js"},
		MaxAttachmentSize:   1024,
		BlockScore:          0.8,
		QuarantineScore:     0.5,
		AIConfidence:        0.8,
		AIBlockScore:        0.7,
		SafeConfidence:      0.8,
	}, checker, zap.NewNop())
}

// The stock configuration must carry the same ingest thresholds the
// rule list is specified with: >0.8 blocks, >0.5 quarantines, and a
// confident AI verdict needs >0.8.
func TestIngestThresholdsFromConfigDefaults(t *testing.T) {
	cfg := config.NewFromViper(config.NewEmptyViper())
	checker := domains.NewChecker(nil, zap.NewNop())
	engine := NewPolicyEngine(PolicyConfig{
		BlockScore:      cfg.GetFloat64("policy.block_score"),
		QuarantineScore: cfg.GetFloat64("policy.quarantine_score"),
		AIConfidence:    cfg.GetFloat64("policy.ai_confidence"),
		AIBlockScore:    cfg.GetFloat64("policy.ai_block_score"),
		SafeConfidence:  cfg.GetFloat64("policy.safe_confidence"),
	}, checker, zap.NewNop())

	email := &Email{From: "someone@external.test"}

	blocked := engine.EvaluateIngest(email, &ThreatPrediction{ThreatScore: 0.85, Confidence: 0.6})
	assert.Equal(t, ActionBlock, blocked.Action)
	assert.Equal(t, "high_threat_score", blocked.Reason)

	quarantined := engine.EvaluateIngest(email, &ThreatPrediction{ThreatScore: 0.6, Confidence: 0.6})
	assert.Equal(t, ActionQuarantine, quarantined.Action)
	assert.Equal(t, "suspicious_content", quarantined.Reason)

	verdict := engine.EvaluateIngest(email, &ThreatPrediction{
		ThreatType:  "malware",
		ThreatScore: 0.4,
		Confidence:  0.85,
	})
	assert.Equal(t, ActionBlock, verdict.Action)
	assert.Equal(t, "ai_malicious_verdict", verdict.Reason)
}

func TestIngestBlockedSenderWinsOverEverything(t *testing.T) {
	engine := testPolicy(t)
	email := &Email{
		From:    "Attacker <attacker@evil.test>",
		To:      []string{"user@corp.example.com"},
		Subject: "hello",
		Body:    "no links here",
	}

	decision := engine.EvaluateIngest(email, &ThreatPrediction{ThreatScore: 0.0, Confidence: 1.0})
	assert.Equal(t, ActionBlock, decision.Action)
	assert.Equal(t, "blocked_sender", decision.Reason)
}

func TestIngestHighThreatScoreBlocks(t *testing.T) {
	engine := testPolicy(t)
	email := &Email{From: "someone@external.test", To: []string{"user@corp.example.com"}}

	decision := engine.EvaluateIngest(email, &ThreatPrediction{ThreatScore: 0.95, Confidence: 0.9})
	assert.Equal(t, ActionBlock, decision.Action)
	assert.Equal(t, "high_threat_score", decision.Reason)
	assert.Equal(t, 0.9, decision.Confidence)
}

func TestIngestConfidentMaliciousVerdictBlocks(t *testing.T) {
	engine := testPolicy(t)
	email := &Email{From: "someone@external.test"}

	decision := engine.EvaluateIngest(email, &ThreatPrediction{
		ThreatType:  "phishing",
		ThreatScore: 0.5,
		Confidence:  0.85,
	})
	assert.Equal(t, ActionBlock, decision.Action)
	assert.Equal(t, "ai_malicious_verdict", decision.Reason)
}

func TestIngestLowConfidenceVerdictDoesNotBlock(t *testing.T) {
	engine := testPolicy(t)
	email := &Email{From: "someone@external.test", Body: "plain text"}

	decision := engine.EvaluateIngest(email, &ThreatPrediction{
		ThreatType:  "phishing",
		ThreatScore: 0.5,
		Confidence:  0.5,
	})
	assert.NotEqual(t, ActionBlock, decision.Action)
}

func TestIngestSuspiciousContentQuarantines(t *testing.T) {
	engine := testPolicy(t)
	email := &Email{From: "someone@external.test"}

	decision := engine.EvaluateIngest(email, &ThreatPrediction{ThreatScore: 0.75, Confidence: 0.6})
	assert.Equal(t, ActionQuarantine, decision.Action)
	assert.Equal(t, "suspicious_content", decision.Reason)
}

func TestIngestLinksRewriteBeforeExternalSender(t *testing.T) {
	engine := testPolicy(t)
	email := &Email{
		From: "someone@external.test",
		Body: "see https://example.test/offer",
	}

	decision := engine.EvaluateIngest(email, nil)
	assert.Equal(t, ActionRewrite, decision.Action)
	assert.Equal(t, "contains_links", decision.Reason)
}

func TestIngestAttachmentsRewrite(t *testing.T) {
	engine := testPolicy(t)
	email := &Email{
		From:        "colleague@corp.example.com",
		Attachments: []Attachment{{FileName: "report.pdf"}},
	}

	decision := engine.EvaluateIngest(email, nil)
	assert.Equal(t, ActionRewrite, decision.Action)
	assert.Equal(t, "contains_attachments", decision.Reason)
}

func TestIngestExternalSenderRewrites(t *testing.T) {
	engine := testPolicy(t)
	email := &Email{From: "someone@external.test", Body: "plain text only"}

	decision := engine.EvaluateIngest(email, nil)
	assert.Equal(t, ActionRewrite, decision.Action)
	assert.Equal(t, "external_sender", decision.Reason)
}

func TestIngestHighRiskRecipientQuarantines(t *testing.T) {
	engine := testPolicy(t)
	email := &Email{
		From: "colleague@corp.example.com",
		To:   []string{"ceo@corp.example.com"},
		Body: "plain text only",
	}

	decision := engine.EvaluateIngest(email, nil)
	assert.Equal(t, ActionQuarantine, decision.Action)
	assert.Equal(t, "high_risk_user", decision.Reason)
}

func TestIngestDefaultIsRewrite(t *testing.T) {
	engine := testPolicy(t)
	email := &Email{
		From: "colleague@corp.example.com",
		To:   []string{"user@corp.example.com"},
		Body: "plain internal mail",
	}

	decision := engine.EvaluateIngest(email, nil)
	assert.Equal(t, ActionRewrite, decision.Action)
	assert.Equal(t, "default", decision.Reason)
}

func TestLinkConfidentSafeVerdictAllows(t *testing.T) {
	engine := testPolicy(t)
	click := &LinkClick{URL: "https://docs.external.test/page"}

	decision := engine.EvaluateLink(click, nil, &SandboxResult{Verdict: VerdictSafe, Confidence: 0.95})
	assert.Equal(t, ActionAllow, decision.Action)
	assert.Equal(t, "sandbox_verdict_safe", decision.Reason)
}

func TestLinkUnconfidentSafeVerdictStillBlocks(t *testing.T) {
	engine := testPolicy(t)
	click := &LinkClick{URL: "https://docs.external.test/page"}

	decision := engine.EvaluateLink(click, nil, &SandboxResult{Verdict: VerdictSafe, Confidence: 0.6})
	assert.Equal(t, ActionBlock, decision.Action)
}

func TestLinkMaliciousVerdictBlocks(t *testing.T) {
	engine := testPolicy(t)
	click := &LinkClick{URL: "https://intranet.corp.example.com/x"}

	decision := engine.EvaluateLink(click, nil, &SandboxResult{Verdict: VerdictMalicious, Confidence: 0.9})
	assert.Equal(t, ActionBlock, decision.Action)
	assert.Equal(t, "sandbox_verdict_malicious", decision.Reason)
}

func TestLinkDeniesByDefault(t *testing.T) {
	engine := testPolicy(t)
	click := &LinkClick{URL: "https://intranet.corp.example.com/x"}

	decision := engine.EvaluateLink(click, nil, nil)
	assert.Equal(t, ActionBlock, decision.Action)
	assert.Equal(t, "default_deny", decision.Reason)
}

func TestAttachmentDangerousExtensionBlocksBeforeSandbox(t *testing.T) {
	engine := testPolicy(t)
	att := &Attachment{FileName: "invoice.exe", Size: 100}

	decision := engine.EvaluateAttachment(att, nil, &SandboxResult{Verdict: VerdictSafe, Confidence: 0.99})
	assert.Equal(t, ActionBlock, decision.Action)
	assert.Equal(t, "dangerous_extension", decision.Reason)
}

func TestAttachmentOversizeQuarantines(t *testing.T) {
	engine := testPolicy(t)
	att := &Attachment{FileName: "big.pdf", Size: 4096}

	decision := engine.EvaluateAttachment(att, nil, nil)
	assert.Equal(t, ActionQuarantine, decision.Action)
	assert.Equal(t, "oversize_attachment", decision.Reason)
}

func TestAttachmentConfidentSafeVerdictAllows(t *testing.T) {
	engine := testPolicy(t)
	att := &Attachment{FileName: "report.pdf", Size: 100}

	decision := engine.EvaluateAttachment(att, nil, &SandboxResult{Verdict: VerdictSafe, Confidence: 0.9})
	assert.Equal(t, ActionAllow, decision.Action)
}

func TestAttachmentDeniesByDefault(t *testing.T) {
	engine := testPolicy(t)
	att := &Attachment{FileName: "report.pdf", Size: 100}

	decision := engine.EvaluateAttachment(att, nil, nil)
	assert.Equal(t, ActionBlock, decision.Action)
	assert.Equal(t, "default_deny", decision.Reason)
}

package core

import (
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/ztmail/zerotrust/internal/domains"
)

// PolicyConfig holds the tunable inputs of the rule lists. All values
// are plain configuration; none are hard-coded in the rules.
type PolicyConfig struct {
	HighRiskUsers       []string
	BlockedSenders      []string
	DangerousExtensions []string
	MaxAttachmentSize   int64

	// Ingest thresholds.
	BlockScore      float64 // ai threat score above this blocks outright
	QuarantineScore float64 // ai threat score above this quarantines
	AIConfidence    float64 // confidence needed for an AI verdict to block

	// Interaction-time thresholds.
	AIBlockScore   float64 // ai threat score above this blocks a click/download
	SafeConfidence float64 // sandbox confidence needed to allow on a safe verdict
}

// ingestRule is one predicate/action pair of the ingest policy list.
type ingestRule struct {
	id     string
	action Action
	match  func(email *Email, ai *ThreatPrediction) bool
}

// PolicyEngine evaluates the ordered zero-trust rule lists. Evaluation
// is a single pass and stops at the first matching rule.
type PolicyEngine struct {
	cfg     PolicyConfig
	domains *domains.Checker
	logger  *zap.Logger
	ingest  []ingestRule
}

// NewPolicyEngine creates a new policy engine.
func NewPolicyEngine(cfg PolicyConfig, domainChecker *domains.Checker, logger *zap.Logger) *PolicyEngine {
	e := &PolicyEngine{
		cfg:     cfg,
		domains: domainChecker,
		logger:  logger,
	}
	e.ingest = e.buildIngestRules()
	return e
}

// buildIngestRules assembles the ordered ingest rule list. Ordering is
// part of the contract: rules are evaluated top to bottom and the
// first match wins.
func (e *PolicyEngine) buildIngestRules() []ingestRule {
	return []ingestRule{
		{
			id:     "blocked_sender",
			action: ActionBlock,
			match: func(email *Email, _ *ThreatPrediction) bool {
				return e.isBlockedSender(email.From)
			},
		},
		{
			id:     "high_threat_score",
			action: ActionBlock,
			match: func(_ *Email, ai *ThreatPrediction) bool {
				return ai != nil && ai.ThreatScore > e.cfg.BlockScore
			},
		},
		{
			id:     "ai_malicious_verdict",
			action: ActionBlock,
			match: func(_ *Email, ai *ThreatPrediction) bool {
				if ai == nil {
					return false
				}
				return (ai.ThreatType == "malware" || ai.ThreatType == "phishing") &&
					ai.Confidence > e.cfg.AIConfidence
			},
		},
		{
			id:     "suspicious_content",
			action: ActionQuarantine,
			match: func(_ *Email, ai *ThreatPrediction) bool {
				return ai != nil && ai.ThreatScore > e.cfg.QuarantineScore
			},
		},
		{
			id:     "contains_links",
			action: ActionRewrite,
			match: func(email *Email, _ *ThreatPrediction) bool {
				return len(DiscoverLinks(email)) > 0
			},
		},
		{
			id:     "contains_attachments",
			action: ActionRewrite,
			match: func(email *Email, _ *ThreatPrediction) bool {
				return len(email.Attachments) > 0
			},
		},
		{
			id:     "external_sender",
			action: ActionRewrite,
			match: func(email *Email, _ *ThreatPrediction) bool {
				return !e.domains.IsInternalAddress(email.From)
			},
		},
		{
			id:     "high_risk_user",
			action: ActionQuarantine,
			match: func(email *Email, _ *ThreatPrediction) bool {
				for _, rcpt := range email.To {
					if e.isHighRiskUser(rcpt) {
						return true
					}
				}
				return false
			},
		},
	}
}

// EvaluateIngest runs the ingest-time rule list against an email and
// its AI prediction. The default action, when no rule matches, is to
// rewrite the message for interaction-time re-analysis.
func (e *PolicyEngine) EvaluateIngest(email *Email, ai *ThreatPrediction) *PolicyDecision {
	for _, rule := range e.ingest {
		if rule.match(email, ai) {
			e.logger.Debug("Ingest policy rule fired",
				zap.String("rule", rule.id),
				zap.String("action", string(rule.action)),
				zap.String("message_id", email.MessageID))
			return &PolicyDecision{
				Action:          rule.action,
				Reason:          rule.id,
				Confidence:      e.ruleConfidence(rule.id, ai),
				PoliciesApplied: []string{rule.id},
			}
		}
	}
	return &PolicyDecision{
		Action:          ActionRewrite,
		Reason:          "default",
		Confidence:      0.5,
		PoliciesApplied: []string{"default"},
	}
}

// EvaluateLink runs the interaction-time rule list for a link click.
// Links are deny-by-default: the only path to allow is a confident
// safe verdict from the sandbox.
func (e *PolicyEngine) EvaluateLink(click *LinkClick, ai *ThreatPrediction, sandbox *SandboxResult) *PolicyDecision {
	switch {
	case sandbox != nil && sandbox.Verdict == VerdictSafe && sandbox.Confidence > e.cfg.SafeConfidence:
		return e.decision(ActionAllow, "sandbox_verdict_safe", sandbox.Confidence)
	case sandbox != nil && (sandbox.Verdict == VerdictSuspicious || sandbox.Verdict == VerdictMalicious):
		return e.decision(ActionBlock, "sandbox_verdict_"+string(sandbox.Verdict), sandbox.Confidence)
	case ai != nil && ai.ThreatScore > e.cfg.AIBlockScore:
		return e.decision(ActionBlock, "ai_high_threat", ai.Confidence)
	case !e.domains.IsInternalURL(click.URL):
		return e.decision(ActionBlock, "external_domain", 0.9)
	default:
		return e.decision(ActionBlock, "default_deny", 0.5)
	}
}

// EvaluateAttachment runs the interaction-time rule list for an
// attachment download. Same deny-by-default shape as links, with
// file-type and size rules evaluated first.
func (e *PolicyEngine) EvaluateAttachment(att *Attachment, ai *ThreatPrediction, sandbox *SandboxResult) *PolicyDecision {
	switch {
	case e.isDangerousExtension(att.FileName):
		return e.decision(ActionBlock, "dangerous_extension", 0.9)
	case e.cfg.MaxAttachmentSize > 0 && att.Size > e.cfg.MaxAttachmentSize:
		return e.decision(ActionQuarantine, "oversize_attachment", 0.9)
	case sandbox != nil && sandbox.Verdict == VerdictSafe && sandbox.Confidence > e.cfg.SafeConfidence:
		return e.decision(ActionAllow, "sandbox_verdict_safe", sandbox.Confidence)
	case sandbox != nil && (sandbox.Verdict == VerdictSuspicious || sandbox.Verdict == VerdictMalicious):
		return e.decision(ActionBlock, "sandbox_verdict_"+string(sandbox.Verdict), sandbox.Confidence)
	case ai != nil && ai.ThreatScore > e.cfg.AIBlockScore:
		return e.decision(ActionBlock, "ai_high_threat", ai.Confidence)
	default:
		return e.decision(ActionBlock, "default_deny", 0.5)
	}
}

func (e *PolicyEngine) decision(action Action, reason string, confidence float64) *PolicyDecision {
	return &PolicyDecision{
		Action:          action,
		Reason:          reason,
		Confidence:      confidence,
		PoliciesApplied: []string{reason},
	}
}

// ruleConfidence picks the confidence reported with a fired rule. AI
// driven rules inherit the prediction's confidence; static rules carry
// a fixed heuristic confidence.
func (e *PolicyEngine) ruleConfidence(ruleID string, ai *ThreatPrediction) float64 {
	switch ruleID {
	case "high_threat_score", "ai_malicious_verdict", "suspicious_content":
		if ai != nil {
			return ai.Confidence
		}
		return 0.5
	default:
		return 0.9
	}
}

func (e *PolicyEngine) isBlockedSender(from string) bool {
	sender := strings.ToLower(domains.ExtractAddress(from))
	for _, blocked := range e.cfg.BlockedSenders {
		if strings.EqualFold(blocked, sender) {
			return true
		}
	}
	return false
}

func (e *PolicyEngine) isHighRiskUser(rcpt string) bool {
	addr := strings.ToLower(domains.ExtractAddress(rcpt))
	for _, user := range e.cfg.HighRiskUsers {
		if strings.EqualFold(user, addr) {
			return true
		}
	}
	return false
}

func (e *PolicyEngine) isDangerousExtension(fileName string) bool {
	ext := strings.ToLower(filepath.Ext(fileName))
	for _, dangerous := range e.cfg.DangerousExtensions {
		if strings.EqualFold(dangerous, ext) {
			return true
		}
	}
	return false
}

package factory

import (
	"github.com/ztmail/zerotrust/internal/config"
	"github.com/ztmail/zerotrust/internal/core"
)

// ScoringWeights builds the score-fusion constants from configuration.
// The defaults mirror core.DefaultWeights; every constant is a named
// key an operator can override.
func ScoringWeights(cfg *config.Config) core.Weights {
	return core.Weights{
		EmailAI:      cfg.GetFloat64("scoring.email_ai"),
		EmailGateway: cfg.GetFloat64("scoring.email_gateway"),
		EmailPolicy:  cfg.GetFloat64("scoring.email_policy"),

		LinkAI:      cfg.GetFloat64("scoring.link_ai"),
		LinkSandbox: cfg.GetFloat64("scoring.link_sandbox"),
		LinkPolicy:  cfg.GetFloat64("scoring.link_policy"),

		AttachmentAI:      cfg.GetFloat64("scoring.attachment_ai"),
		AttachmentSandbox: cfg.GetFloat64("scoring.attachment_sandbox"),
		AttachmentPolicy:  cfg.GetFloat64("scoring.attachment_policy"),

		PolicyBlock:      cfg.GetFloat64("scoring.policy_block"),
		PolicyQuarantine: cfg.GetFloat64("scoring.policy_quarantine"),
		PolicyOther:      cfg.GetFloat64("scoring.policy_other"),

		SandboxMalicious:  cfg.GetFloat64("scoring.sandbox_malicious"),
		SandboxSuspicious: cfg.GetFloat64("scoring.sandbox_suspicious"),
		SandboxSafe:       cfg.GetFloat64("scoring.sandbox_safe"),
	}
}

package core

import (
	"time"
)

// Action is an enforcement action applied to an artifact or message.
type Action string

const (
	ActionAllow      Action = "allow"
	ActionBlock      Action = "block"
	ActionQuarantine Action = "quarantine"
	ActionRewrite    Action = "rewrite"
)

// Verdict is the categorical outcome of one detonation.
type Verdict string

const (
	VerdictSafe       Verdict = "safe"
	VerdictSuspicious Verdict = "suspicious"
	VerdictMalicious  Verdict = "malicious"
	VerdictError      Verdict = "error"
)

// ArtifactKind distinguishes rewritten links from rewritten attachments.
type ArtifactKind string

const (
	KindLink       ArtifactKind = "link"
	KindAttachment ArtifactKind = "attachment"
)

// Email represents an email message entering the pipeline.
type Email struct {
	MessageID   string
	From        string
	To          []string
	Subject     string
	Body        string
	HTMLBody    string
	Headers     map[string][]string
	Attachments []Attachment
}

// Attachment represents a single attachment extracted from an email.
type Attachment struct {
	FileName    string
	ContentType string
	Size        int64
	StoragePath string
}

// LinkClick represents a user following a rewritten link.
type LinkClick struct {
	URL         string
	ReferenceID string
	UserContext UserContext
}

// AttachmentDownload represents a user fetching a rewritten attachment.
type AttachmentDownload struct {
	Attachment  Attachment
	ReferenceID string
	UserContext UserContext
}

// UserContext carries who triggered an artifact interaction and from where.
type UserContext struct {
	UserID    string
	SourceIP  string
	UserAgent string
	When      time.Time
}

// ThreatPrediction is the shape every AI predictor returns.
type ThreatPrediction struct {
	ThreatType  string
	Confidence  float64
	ThreatScore float64
	Indicators  []string
	ModelUsed   string
	PredictedAt time.Time
}

// TrackingRecord holds the metadata for one rewritten link or attachment.
// AccessCount is monotonically non-decreasing; the id is never reused.
type TrackingRecord struct {
	ID              string
	Kind            ArtifactKind
	OriginalTarget  string
	OwnerMessageID  string
	Sender          string
	Recipients      []string
	CreatedAt       time.Time
	AccessCount     int64
	LastAccessAt    time.Time
	LastUserContext UserContext
}

// SandboxResult is the immutable outcome of one detonation.
type SandboxResult struct {
	Verdict          Verdict
	Confidence       float64
	ExecutionLogs    []string
	NetworkActivity  []string
	FileOperations   []string
	RegistryChanges  []string
	ThreatIndicators []string
	AnalyzedAt       time.Time
}

// Indicated reports whether the result carries the given threat indicator.
func (r *SandboxResult) Indicated(name string) bool {
	for _, ind := range r.ThreatIndicators {
		if ind == name {
			return true
		}
	}
	return false
}

// PolicyDecision is the outcome of one ordered rule evaluation.
// Exactly one rule's action is selected per evaluation (first match wins).
type PolicyDecision struct {
	Action          Action
	Reason          string
	Confidence      float64
	PoliciesApplied []string
}

// ZeroTrustResult is the externally visible output of the pipeline.
// It is never mutated after construction.
type ZeroTrustResult struct {
	Action          Action
	ThreatScore     float64
	Confidence      float64
	ThreatType      string
	Indicators      []string
	AnalysisDetails map[string]interface{}
	ProcessingTime  time.Duration
	ProcessedAt     time.Time
}

// Resolution is the outcome of resolving a tracked reference on
// click or download: either a redirect target or a block reason.
type Resolution struct {
	Allowed    bool
	Target     string
	Reason     string
	Indicators []string
}

// EngineReport is the response of the external detonation engine's
// report endpoint, polled until Ready.
type EngineReport struct {
	Ready      bool
	Score      float64 // 0-10 scale
	Indicators []string
}

// GatewayAnalysis is what ingest-time gateway processing produced for
// one email: the rewritten message, its tracking records, and the
// gateway's own cheap-signal score.
type GatewayAnalysis struct {
	RewrittenEmail *Email
	Records        []*TrackingRecord
	Decision       *PolicyDecision
	ThreatScore    float64
	Indicators     []string
}

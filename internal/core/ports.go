package core

import (
	"context"
)

// ThreatPredictor defines the interface to the AI model layer. Every
// implementation must always return the full prediction shape, even
// when it is only a heuristic fallback.
type ThreatPredictor interface {
	// PredictEmailThreat scores an inbound email.
	PredictEmailThreat(ctx context.Context, email *Email) (*ThreatPrediction, error)

	// PredictLinkThreat scores a URL at click time.
	PredictLinkThreat(ctx context.Context, url string, userCtx UserContext) (*ThreatPrediction, error)

	// PredictAttachmentThreat scores attachment metadata at download time.
	PredictAttachmentThreat(ctx context.Context, att *Attachment) (*ThreatPrediction, error)
}

// TrackingStore defines the interface for persisting tracking records
// for rewritten artifacts.
type TrackingStore interface {
	// Put stores a new tracking record.
	Put(ctx context.Context, rec *TrackingRecord) error

	// Get retrieves a tracking record by reference id.
	Get(ctx context.Context, id string) (*TrackingRecord, error)

	// Touch atomically increments the access counter and updates the
	// last-access metadata for one record.
	Touch(ctx context.Context, id string, userCtx UserContext) (*TrackingRecord, error)
}

// LinkAnalyzer detonates a URL in an isolated environment.
type LinkAnalyzer interface {
	AnalyzeLink(ctx context.Context, url string, userCtx UserContext) *SandboxResult
}

// FileAnalyzer detonates a file in an isolated environment.
type FileAnalyzer interface {
	AnalyzeAttachment(ctx context.Context, path string, fileType string) *SandboxResult
}

// Browser drives an isolated browsing context to a URL and captures
// what the page did.
type Browser interface {
	// Navigate fetches the URL and returns the captured page state.
	Navigate(ctx context.Context, url string) (*PageCapture, error)
}

// PageCapture is what one browser navigation observed.
type PageCapture struct {
	FinalURL        string
	StatusCode      int
	Source          string
	ConsoleOutput   []string
	NetworkRequests []string
}

// DetonationEngine is the external engine contract: submit a file,
// then poll the report endpoint until it is ready.
type DetonationEngine interface {
	// Submit sends the file for detonation and returns a task id.
	Submit(ctx context.Context, filePath string) (string, error)

	// Report fetches the analysis report for a task. A report that is
	// not ready yet is returned with Ready=false, not as an error.
	Report(ctx context.Context, taskID string) (*EngineReport, error)
}

// GatewayProcessor is the ingest-time surface the orchestrator drives.
type GatewayProcessor interface {
	// ProcessIncoming rewrites the email's artifacts and applies the
	// ingest policy.
	ProcessIncoming(ctx context.Context, email *Email, ai *ThreatPrediction) (*GatewayAnalysis, error)

	// Resolve looks up a tracked reference on click/download, runs the
	// interaction-time detonation and maps its verdict.
	Resolve(ctx context.Context, referenceID string, userCtx UserContext) (*Resolution, error)
}

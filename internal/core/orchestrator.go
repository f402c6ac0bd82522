package core

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ztmail/zerotrust/internal/metrics"
)

// Weights are the scoring constants of the decision protocol. They
// were tuned heuristically, so they live in configuration rather than
// in the code.
type Weights struct {
	EmailAI      float64
	EmailGateway float64
	EmailPolicy  float64

	LinkAI      float64
	LinkSandbox float64
	LinkPolicy  float64

	AttachmentAI      float64
	AttachmentSandbox float64
	AttachmentPolicy  float64

	PolicyBlock      float64
	PolicyQuarantine float64
	PolicyOther      float64

	SandboxMalicious  float64
	SandboxSuspicious float64
	SandboxSafe       float64
}

// DefaultWeights returns the stock scoring constants.
func DefaultWeights() Weights {
	return Weights{
		EmailAI:      0.4,
		EmailGateway: 0.3,
		EmailPolicy:  0.3,

		LinkAI:      0.3,
		LinkSandbox: 0.5,
		LinkPolicy:  0.2,

		AttachmentAI:      0.3,
		AttachmentSandbox: 0.5,
		AttachmentPolicy:  0.2,

		PolicyBlock:      0.8,
		PolicyQuarantine: 0.5,
		PolicyOther:      0.2,

		SandboxMalicious:  0.9,
		SandboxSuspicious: 0.7,
		SandboxSafe:       0.1,
	}
}

// ZeroTrustService coordinates one artifact interaction end to end:
// AI prediction, gateway/sandbox analysis, policy evaluation, and the
// weighted final score. Every entry point fails closed: an internal
// error becomes a block result, never a propagated panic.
type ZeroTrustService struct {
	predictor ThreatPredictor
	gateway   GatewayProcessor
	links     LinkAnalyzer
	files     FileAnalyzer
	policy    *PolicyEngine
	weights   Weights
	logger    *zap.Logger
	metrics   *metrics.Metrics
	stats     *statsCollector

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewZeroTrustService creates the orchestrator.
func NewZeroTrustService(
	predictor ThreatPredictor,
	gw GatewayProcessor,
	links LinkAnalyzer,
	files FileAnalyzer,
	policy *PolicyEngine,
	weights Weights,
	logger *zap.Logger,
	m *metrics.Metrics,
) *ZeroTrustService {
	return &ZeroTrustService{
		predictor: predictor,
		gateway:   gw,
		links:     links,
		files:     files,
		policy:    policy,
		weights:   weights,
		logger:    logger,
		metrics:   m,
		stats:     newStatsCollector(),
	}
}

// Start launches the orchestrator's background tasks. They are owned
// by the service and cancelled on Stop.
func (s *ZeroTrustService) Start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				snap := s.stats.Snapshot()
				s.logger.Debug("Pipeline statistics",
					zap.Int64("total", snap.TotalProcessed),
					zap.Duration("avg_processing", snap.AverageProcessing))
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop cancels the background tasks and waits for them to exit.
func (s *ZeroTrustService) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// GetStatistics returns a snapshot of the running counters.
func (s *ZeroTrustService) GetStatistics() Statistics {
	return s.stats.Snapshot()
}

// ProcessEmail evaluates one inbound email.
func (s *ZeroTrustService) ProcessEmail(ctx context.Context, email *Email) (result *ZeroTrustResult) {
	started := time.Now()
	defer s.failClosed("email", started, &result)

	ai := s.predictEmail(ctx, email)

	var gwScore float64
	var gwIndicators []string
	var decision *PolicyDecision

	analysis, err := s.gateway.ProcessIncoming(ctx, email, ai)
	if err != nil {
		// The gateway phase degrades independently: its contribution
		// becomes neutral and the policy list still runs.
		s.logger.Error("Gateway processing failed", zap.Error(err),
			zap.String("message_id", email.MessageID))
		gwIndicators = []string{"gateway_unavailable"}
		decision = s.policy.EvaluateIngest(email, ai)
	} else {
		gwScore = analysis.ThreatScore
		gwIndicators = analysis.Indicators
		decision = analysis.Decision
	}

	score := s.weights.EmailAI*aiScore(ai) +
		s.weights.EmailGateway*gwScore +
		s.weights.EmailPolicy*s.policyScore(decision)

	result = s.buildResult("email", email.MessageID, decision, ai, nil, score, gwIndicators, started)
	if analysis != nil {
		result.AnalysisDetails["gateway"] = analysis
	}
	return result
}

// ProcessLinkClick evaluates one rewritten-link click.
func (s *ZeroTrustService) ProcessLinkClick(ctx context.Context, click *LinkClick) (result *ZeroTrustResult) {
	started := time.Now()
	defer s.failClosed("link", started, &result)

	ai := s.predictLink(ctx, click)
	detonation := s.links.AnalyzeLink(ctx, click.URL, click.UserContext)
	decision := s.policy.EvaluateLink(click, ai, detonation)

	score := s.weights.LinkAI*aiScore(ai) +
		s.weights.LinkSandbox*s.sandboxScore(detonation) +
		s.weights.LinkPolicy*s.policyScore(decision)

	result = s.buildResult("link", click.URL, decision, ai, detonation, score, nil, started)
	return result
}

// ProcessAttachment evaluates one rewritten-attachment download.
func (s *ZeroTrustService) ProcessAttachment(ctx context.Context, download *AttachmentDownload) (result *ZeroTrustResult) {
	started := time.Now()
	defer s.failClosed("attachment", started, &result)

	ai := s.predictAttachment(ctx, &download.Attachment)
	fileType := filepath.Ext(download.Attachment.FileName)
	detonation := s.files.AnalyzeAttachment(ctx, download.Attachment.StoragePath, fileType)
	decision := s.policy.EvaluateAttachment(&download.Attachment, ai, detonation)

	score := s.weights.AttachmentAI*aiScore(ai) +
		s.weights.AttachmentSandbox*s.sandboxScore(detonation) +
		s.weights.AttachmentPolicy*s.policyScore(decision)

	result = s.buildResult("attachment", download.Attachment.FileName, decision, ai, detonation, score, nil, started)
	return result
}

// predictEmail runs the AI phase, degrading to a nil prediction when
// the collaborator is unreachable.
func (s *ZeroTrustService) predictEmail(ctx context.Context, email *Email) *ThreatPrediction {
	ai, err := s.predictor.PredictEmailThreat(ctx, email)
	if err != nil {
		s.logger.Warn("AI email prediction unavailable", zap.Error(err))
		return nil
	}
	return ai
}

func (s *ZeroTrustService) predictLink(ctx context.Context, click *LinkClick) *ThreatPrediction {
	ai, err := s.predictor.PredictLinkThreat(ctx, click.URL, click.UserContext)
	if err != nil {
		s.logger.Warn("AI link prediction unavailable", zap.Error(err))
		return nil
	}
	return ai
}

func (s *ZeroTrustService) predictAttachment(ctx context.Context, att *Attachment) *ThreatPrediction {
	ai, err := s.predictor.PredictAttachmentThreat(ctx, att)
	if err != nil {
		s.logger.Warn("AI attachment prediction unavailable", zap.Error(err))
		return nil
	}
	return ai
}

// buildResult assembles the final immutable result, clamping every
// score into [0,1] and recording best-effort statistics.
func (s *ZeroTrustService) buildResult(
	artifact string,
	subject string,
	decision *PolicyDecision,
	ai *ThreatPrediction,
	detonation *SandboxResult,
	score float64,
	extraIndicators []string,
	started time.Time,
) *ZeroTrustResult {
	indicators := unionIndicators(ai, detonation, decision, extraIndicators)

	threatType := "none"
	confidence := decision.Confidence
	if ai != nil {
		if ai.ThreatType != "" {
			threatType = ai.ThreatType
		}
		confidence = (ai.Confidence + decision.Confidence) / 2
	}

	details := map[string]interface{}{
		"policy": decision,
	}
	if ai != nil {
		details["ai"] = ai
	}
	if detonation != nil {
		details["sandbox"] = detonation
	}

	elapsed := time.Since(started)
	result := &ZeroTrustResult{
		Action:          decision.Action,
		ThreatScore:     clampUnit(score),
		Confidence:      clampUnit(confidence),
		ThreatType:      threatType,
		Indicators:      indicators,
		AnalysisDetails: details,
		ProcessingTime:  elapsed,
		ProcessedAt:     time.Now(),
	}

	s.record(artifact, result)
	s.logger.Info("Zero-trust decision",
		zap.String("artifact", artifact),
		zap.String("subject", subject),
		zap.String("action", string(result.Action)),
		zap.Float64("threat_score", result.ThreatScore),
		zap.String("reason", decision.Reason),
		zap.Duration("elapsed", elapsed))

	return result
}

// failClosed converts a panic anywhere in an entry point into the
// most restrictive result. The caller never sees the panic.
func (s *ZeroTrustService) failClosed(artifact string, started time.Time, result **ZeroTrustResult) {
	r := recover()
	if r == nil {
		return
	}

	s.logger.Error("Pipeline failure, failing closed",
		zap.String("artifact", artifact),
		zap.Any("panic", r))

	failed := &ZeroTrustResult{
		Action:          ActionBlock,
		ThreatScore:     1.0,
		Confidence:      1.0,
		ThreatType:      "error",
		Indicators:      []string{"processing_error"},
		AnalysisDetails: map[string]interface{}{},
		ProcessingTime:  time.Since(started),
		ProcessedAt:     time.Now(),
	}
	*result = failed
	s.record(artifact, failed)
}

// record updates statistics and metrics off the decision path's
// critical resources.
func (s *ZeroTrustService) record(artifact string, result *ZeroTrustResult) {
	s.stats.Record(result.Action, result.ProcessingTime)
	s.metrics.Decisions.WithLabelValues(artifact, string(result.Action)).Inc()
	s.metrics.ProcessingTime.WithLabelValues(artifact).Observe(result.ProcessingTime.Seconds())
}

// policyScore maps a policy action onto the weighted-score scale.
func (s *ZeroTrustService) policyScore(decision *PolicyDecision) float64 {
	switch decision.Action {
	case ActionBlock:
		return s.weights.PolicyBlock
	case ActionQuarantine:
		return s.weights.PolicyQuarantine
	default:
		return s.weights.PolicyOther
	}
}

// sandboxScore maps a detonation verdict onto the weighted-score
// scale. An error verdict scores like suspicious: detonation failure
// is never evidence of safety.
func (s *ZeroTrustService) sandboxScore(result *SandboxResult) float64 {
	if result == nil {
		return 0
	}
	switch result.Verdict {
	case VerdictMalicious:
		return s.weights.SandboxMalicious
	case VerdictSuspicious, VerdictError:
		return s.weights.SandboxSuspicious
	default:
		return s.weights.SandboxSafe
	}
}

func aiScore(ai *ThreatPrediction) float64 {
	if ai == nil {
		return 0
	}
	return ai.ThreatScore
}

func unionIndicators(ai *ThreatPrediction, detonation *SandboxResult, decision *PolicyDecision, extra []string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(values []string) {
		for _, v := range values {
			if v == "" || seen[v] {
				continue
			}
			seen[v] = true
			out = append(out, v)
		}
	}
	if ai != nil {
		add(ai.Indicators)
	}
	if detonation != nil {
		add(detonation.ThreatIndicators)
	}
	add(decision.PoliciesApplied)
	add(extra)
	return out
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ztmail/zerotrust/internal/core"
	"github.com/ztmail/zerotrust/internal/metrics"
)

// Rewriter transforms an inbound email's links and attachments into
// indirect references pointing at this platform, and resolves those
// references back at interaction time.
type Rewriter struct {
	store   core.TrackingStore
	links   core.LinkAnalyzer
	files   core.FileAnalyzer
	policy  *core.PolicyEngine
	baseURL string
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewRewriter creates a new gateway rewriter.
func NewRewriter(
	store core.TrackingStore,
	links core.LinkAnalyzer,
	files core.FileAnalyzer,
	policy *core.PolicyEngine,
	baseURL string,
	logger *zap.Logger,
	m *metrics.Metrics,
) *Rewriter {
	return &Rewriter{
		store:   store,
		links:   links,
		files:   files,
		policy:  policy,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
		metrics: m,
	}
}

// ProcessIncoming runs the full ingest pass for one email: rewrite
// every artifact, apply the ingest policy, and compute the gateway's
// cheap-signal score.
func (r *Rewriter) ProcessIncoming(ctx context.Context, email *core.Email, ai *core.ThreatPrediction) (*core.GatewayAnalysis, error) {
	rewritten, records, err := r.Rewrite(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to rewrite email %q: %w", email.MessageID, err)
	}

	decision := r.policy.EvaluateIngest(email, ai)
	score, indicators := r.heuristicScore(email)

	return &core.GatewayAnalysis{
		RewrittenEmail: rewritten,
		Records:        records,
		Decision:       decision,
		ThreatScore:    score,
		Indicators:     indicators,
	}, nil
}

// Rewrite replaces every discovered link and attachment with an
// indirect reference, generating one tracking record per occurrence.
// Duplicate links are deliberately not deduplicated so each occurrence
// keeps its own click analytics.
func (r *Rewriter) Rewrite(ctx context.Context, email *core.Email) (*core.Email, []*core.TrackingRecord, error) {
	rewritten := *email
	rewritten.To = append([]string(nil), email.To...)
	rewritten.Headers = copyHeaders(email.Headers)
	rewritten.Attachments = append([]core.Attachment(nil), email.Attachments...)

	var records []*core.TrackingRecord

	for _, occ := range core.DiscoverLinkOccurrences(email) {
		rec := r.newRecord(core.KindLink, occ.URL, email)
		if err := r.store.Put(ctx, rec); err != nil {
			return nil, nil, fmt.Errorf("failed to store link record: %w", err)
		}
		records = append(records, rec)

		// Replace only in the body the occurrence came from; the same
		// URL in the other body has its own record.
		tracked := fmt.Sprintf("%s/t/%s", r.baseURL, rec.ID)
		if occ.InHTML {
			rewritten.HTMLBody = strings.Replace(rewritten.HTMLBody, occ.URL, tracked, 1)
		} else {
			rewritten.Body = strings.Replace(rewritten.Body, occ.URL, tracked, 1)
		}
		r.metrics.Rewrites.WithLabelValues(string(core.KindLink)).Inc()
	}

	for i, att := range email.Attachments {
		rec := r.newRecord(core.KindAttachment, att.StoragePath, email)
		if err := r.store.Put(ctx, rec); err != nil {
			return nil, nil, fmt.Errorf("failed to store attachment record: %w", err)
		}
		records = append(records, rec)

		rewritten.Attachments[i].StoragePath = fmt.Sprintf("%s/a/%s", r.baseURL, rec.ID)
		r.metrics.Rewrites.WithLabelValues(string(core.KindAttachment)).Inc()
	}

	r.injectHeaders(&rewritten, len(records))

	r.logger.Info("Rewrote email artifacts",
		zap.String("message_id", email.MessageID),
		zap.String("sender", email.From),
		zap.Int("artifacts", len(records)))

	return &rewritten, records, nil
}

// ApplyIngestPolicy evaluates the ordered ingest rule list.
func (r *Rewriter) ApplyIngestPolicy(email *core.Email, ai *core.ThreatPrediction) *core.PolicyDecision {
	return r.policy.EvaluateIngest(email, ai)
}

// Resolve looks up the tracking record for a reference id, updates
// its access counters, detonates the underlying artifact and maps the
// verdict: safe returns the original target, anything else blocks.
func (r *Rewriter) Resolve(ctx context.Context, referenceID string, userCtx core.UserContext) (*core.Resolution, error) {
	rec, err := r.store.Touch(ctx, referenceID, userCtx)
	if err != nil {
		r.metrics.Resolutions.WithLabelValues("unknown").Inc()
		return nil, err
	}

	var result *core.SandboxResult
	switch rec.Kind {
	case core.KindLink:
		result = r.links.AnalyzeLink(ctx, rec.OriginalTarget, userCtx)
	case core.KindAttachment:
		result = r.files.AnalyzeAttachment(ctx, rec.OriginalTarget, "")
	default:
		return nil, fmt.Errorf("unknown artifact kind %q for reference %s", rec.Kind, referenceID)
	}

	if result.Verdict == core.VerdictSafe {
		r.metrics.Resolutions.WithLabelValues("allowed").Inc()
		r.logger.Info("Resolved reference to original target",
			zap.String("reference_id", referenceID),
			zap.String("user", userCtx.UserID))
		return &core.Resolution{
			Allowed: true,
			Target:  rec.OriginalTarget,
		}, nil
	}

	indicators := result.ThreatIndicators
	if len(indicators) == 0 {
		indicators = []string{"verdict_" + string(result.Verdict)}
	}

	r.metrics.Resolutions.WithLabelValues("blocked").Inc()
	r.logger.Warn("Blocked reference resolution",
		zap.String("reference_id", referenceID),
		zap.String("verdict", string(result.Verdict)),
		zap.Strings("indicators", indicators))

	return &core.Resolution{
		Allowed:    false,
		Reason:     string(result.Verdict),
		Indicators: indicators,
	}, nil
}

func (r *Rewriter) newRecord(kind core.ArtifactKind, target string, email *core.Email) *core.TrackingRecord {
	return &core.TrackingRecord{
		ID:             uuid.NewString(),
		Kind:           kind,
		OriginalTarget: target,
		OwnerMessageID: email.MessageID,
		Sender:         email.From,
		Recipients:     append([]string(nil), email.To...),
		CreatedAt:      time.Now(),
	}
}

// injectHeaders stamps the security headers the downstream MTA and
// clients rely on.
func (r *Rewriter) injectHeaders(email *core.Email, artifactCount int) {
	if email.Headers == nil {
		email.Headers = make(map[string][]string)
	}
	email.Headers["X-ZeroTrust-Scanned"] = []string{"yes"}
	email.Headers["X-ZeroTrust-Artifacts"] = []string{fmt.Sprintf("%d", artifactCount)}
	email.Headers["X-ZeroTrust-Rewritten-At"] = []string{time.Now().UTC().Format(time.RFC3339)}
}

// heuristicScore computes the gateway's own cheap static signals,
// independent of the AI layer.
func (r *Rewriter) heuristicScore(email *core.Email) (float64, []string) {
	score := 0.0
	var indicators []string

	links := core.DiscoverLinks(email)
	if len(links) > 5 {
		score += 0.2
		indicators = append(indicators, "many_links")
	}

	for _, link := range links {
		if isShortenerURL(link) {
			score += 0.2
			indicators = append(indicators, "url_shortener")
			break
		}
	}

	for _, att := range email.Attachments {
		lower := strings.ToLower(att.FileName)
		if strings.HasSuffix(lower, ".exe") || strings.HasSuffix(lower, ".js") ||
			strings.HasSuffix(lower, ".scr") || strings.HasSuffix(lower, ".vbs") {
			score += 0.4
			indicators = append(indicators, "executable_attachment")
			break
		}
	}

	lowerSubject := strings.ToLower(email.Subject)
	for _, kw := range []string{"urgent", "verify your", "password", "suspended", "invoice"} {
		if strings.Contains(lowerSubject, kw) {
			score += 0.2
			indicators = append(indicators, "suspicious_subject")
			break
		}
	}

	if score > 1.0 {
		score = 1.0
	}
	return score, indicators
}

var shortenerDomains = []string{"bit.ly", "tinyurl.com", "goo.gl", "t.co", "ow.ly", "is.gd"}

func isShortenerURL(link string) bool {
	lower := strings.ToLower(link)
	for _, domain := range shortenerDomains {
		if strings.Contains(lower, "://"+domain+"/") {
			return true
		}
	}
	return false
}

func copyHeaders(headers map[string][]string) map[string][]string {
	copied := make(map[string][]string, len(headers))
	for key, values := range headers {
		copied[key] = append([]string(nil), values...)
	}
	return copied
}

package factory

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/ztmail/zerotrust/internal/adapters/browser"
	"github.com/ztmail/zerotrust/internal/adapters/engine"
	"github.com/ztmail/zerotrust/internal/config"
	"github.com/ztmail/zerotrust/internal/core"
	"github.com/ztmail/zerotrust/internal/metrics"
	"github.com/ztmail/zerotrust/internal/sandbox"
)

// SandboxFactory creates the detonation sandboxes
type SandboxFactory struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewSandboxFactory creates a new sandbox factory
func NewSandboxFactory(cfg *config.Config, logger *zap.Logger, m *metrics.Metrics) *SandboxFactory {
	return &SandboxFactory{
		cfg:     cfg,
		logger:  logger,
		metrics: m,
	}
}

// CreateLinkSandbox creates the link sandbox and its browser pool
func (f *SandboxFactory) CreateLinkSandbox() (core.LinkAnalyzer, error) {
	timeout, err := f.cfg.GetDuration("sandbox.navigation_timeout")
	if err != nil {
		return nil, fmt.Errorf("invalid navigation timeout: %w", err)
	}

	pool := sandbox.NewPool("browser", f.cfg.GetInt("sandbox.browser_pool_size"), f.logger)
	b := browser.NewHTTPBrowser(timeout, f.cfg.GetString("sandbox.browser_user_agent"), f.logger)

	return sandbox.NewLinkSandbox(
		pool,
		b,
		timeout,
		f.linkWeights(),
		f.logger,
		f.metrics,
	), nil
}

// CreateFileSandbox creates the file sandbox, its slot pool and the
// optional external detonation engine
func (f *SandboxFactory) CreateFileSandbox() (core.FileAnalyzer, error) {
	pollInterval, err := f.cfg.GetDuration("sandbox.engine.poll_interval")
	if err != nil {
		return nil, fmt.Errorf("invalid engine poll interval: %w", err)
	}

	var eng core.DetonationEngine
	if f.cfg.GetBool("sandbox.engine.enabled") {
		timeout, err := f.cfg.GetDuration("sandbox.engine.timeout")
		if err != nil {
			return nil, fmt.Errorf("invalid engine timeout: %w", err)
		}
		eng = engine.NewCuckooClient(
			f.cfg.GetString("sandbox.engine.endpoint"),
			f.cfg.GetString("sandbox.engine.api_key"),
			timeout,
			f.logger,
		)
	}

	pool := sandbox.NewPool("file", f.cfg.GetInt("sandbox.file_pool_size"), f.logger)

	return sandbox.NewFileSandbox(
		pool,
		eng,
		pollInterval,
		f.cfg.GetInt("sandbox.engine.max_poll_attempts"),
		f.fileWeights(),
		f.logger,
		f.metrics,
	), nil
}

// linkWeights reads the link-scoring weights from configuration. The
// defaults mirror sandbox.DefaultLinkWeights.
func (f *SandboxFactory) linkWeights() sandbox.LinkWeights {
	return sandbox.LinkWeights{
		AuthKeywordURL:      f.cfg.GetFloat64("sandbox.link_weights.auth_keyword_url"),
		HighRiskElement:     f.cfg.GetFloat64("sandbox.link_weights.high_risk_element"),
		MediumRiskElement:   f.cfg.GetFloat64("sandbox.link_weights.medium_risk_element"),
		Redirect:            f.cfg.GetFloat64("sandbox.link_weights.redirect"),
		Popup:               f.cfg.GetFloat64("sandbox.link_weights.popup"),
		DynamicRequest:      f.cfg.GetFloat64("sandbox.link_weights.dynamic_request"),
		ManyRequests:        f.cfg.GetFloat64("sandbox.link_weights.many_requests"),
		ManyRequestsCount:   f.cfg.GetInt("sandbox.link_weights.many_requests_count"),
		MaliciousThreshold:  f.cfg.GetFloat64("sandbox.link_weights.malicious_threshold"),
		SuspiciousThreshold: f.cfg.GetFloat64("sandbox.link_weights.suspicious_threshold"),
	}
}

// fileWeights reads the file-scoring weights from configuration. The
// defaults mirror sandbox.DefaultFileWeights.
func (f *SandboxFactory) fileWeights() sandbox.FileWeights {
	return sandbox.FileWeights{
		TinyExecutable:      f.cfg.GetFloat64("sandbox.file_weights.tiny_executable"),
		HugeExecutable:      f.cfg.GetFloat64("sandbox.file_weights.huge_executable"),
		HighEntropy:         f.cfg.GetFloat64("sandbox.file_weights.high_entropy"),
		EmbeddedObjects:     f.cfg.GetFloat64("sandbox.file_weights.embedded_objects"),
		Macros:              f.cfg.GetFloat64("sandbox.file_weights.macros"),
		SuspiciousContent:   f.cfg.GetFloat64("sandbox.file_weights.suspicious_content"),
		ArchiveBadMember:    f.cfg.GetFloat64("sandbox.file_weights.archive_bad_member"),
		ArchiveEncrypted:    f.cfg.GetFloat64("sandbox.file_weights.archive_encrypted"),
		AnomalousSize:       f.cfg.GetFloat64("sandbox.file_weights.anomalous_size"),
		ExecMalicious:       f.cfg.GetFloat64("sandbox.file_weights.exec_malicious"),
		ExecSuspicious:      f.cfg.GetFloat64("sandbox.file_weights.exec_suspicious"),
		EngineMalicious:     f.cfg.GetFloat64("sandbox.file_weights.engine_malicious"),
		EngineSuspicious:    f.cfg.GetFloat64("sandbox.file_weights.engine_suspicious"),
		SuspiciousThreshold: f.cfg.GetFloat64("sandbox.file_weights.suspicious_threshold"),
	}
}

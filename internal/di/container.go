package di

import (
	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/ztmail/zerotrust/internal/adapters/httpapi"
	"github.com/ztmail/zerotrust/internal/config"
	"github.com/ztmail/zerotrust/internal/core"
	"github.com/ztmail/zerotrust/internal/domains"
	"github.com/ztmail/zerotrust/internal/factory"
	"github.com/ztmail/zerotrust/internal/gateway"
	"github.com/ztmail/zerotrust/internal/logging"
	"github.com/ztmail/zerotrust/internal/metrics"
	"github.com/ztmail/zerotrust/internal/ports"
	"github.com/ztmail/zerotrust/internal/utils"
)

// BuildContainer creates and configures a dependency injection container
func BuildContainer() (*dig.Container, error) {
	container := dig.New()

	// Register configuration
	if err := container.Provide(config.New); err != nil {
		return nil, err
	}

	// Register logger
	if err := container.Provide(logging.InitLogger); err != nil {
		return nil, err
	}

	// Register metrics
	if err := container.Provide(metrics.New); err != nil {
		return nil, err
	}

	// Register sanitizer
	if err := container.Provide(utils.NewSanitizer); err != nil {
		return nil, err
	}

	// Register factories
	if err := container.Provide(factory.NewPredictorFactory); err != nil {
		return nil, err
	}
	if err := container.Provide(factory.NewStoreFactory); err != nil {
		return nil, err
	}
	if err := container.Provide(factory.NewSandboxFactory); err != nil {
		return nil, err
	}
	if err := container.Provide(factory.NewIngressFactory); err != nil {
		return nil, err
	}

	// Register threat predictor
	if err := container.Provide(func(f *factory.PredictorFactory) (core.ThreatPredictor, error) {
		return f.CreateThreatPredictor()
	}); err != nil {
		return nil, err
	}

	// Register tracking store
	if err := container.Provide(func(f *factory.StoreFactory) (core.TrackingStore, error) {
		return f.CreateTrackingStore()
	}); err != nil {
		return nil, err
	}

	// Register internal domain checker
	if err := container.Provide(func(cfg *config.Config, logger *zap.Logger) *domains.Checker {
		internalDomains := cfg.GetStringSlice("policy.internal_domains")
		if len(internalDomains) > 0 {
			logger.Info("Loaded internal domains", zap.Strings("domains", internalDomains))
		}
		return domains.NewChecker(internalDomains, logger)
	}); err != nil {
		return nil, err
	}

	// Register policy engine
	if err := container.Provide(func(cfg *config.Config, checker *domains.Checker, logger *zap.Logger) *core.PolicyEngine {
		return core.NewPolicyEngine(core.PolicyConfig{
			HighRiskUsers:       cfg.GetStringSlice("policy.high_risk_users"),
			BlockedSenders:      cfg.GetStringSlice("policy.blocked_senders"),
			DangerousExtensions: cfg.GetStringSlice("policy.dangerous_extensions"),
			MaxAttachmentSize:   cfg.GetInt64("policy.max_attachment_size"),
			BlockScore:          cfg.GetFloat64("policy.block_score"),
			QuarantineScore:     cfg.GetFloat64("policy.quarantine_score"),
			AIConfidence:        cfg.GetFloat64("policy.ai_confidence"),
			AIBlockScore:        cfg.GetFloat64("policy.ai_block_score"),
			SafeConfidence:      cfg.GetFloat64("policy.safe_confidence"),
		}, checker, logger)
	}); err != nil {
		return nil, err
	}

	// Register sandboxes
	if err := container.Provide(func(f *factory.SandboxFactory) (core.LinkAnalyzer, error) {
		return f.CreateLinkSandbox()
	}); err != nil {
		return nil, err
	}
	if err := container.Provide(func(f *factory.SandboxFactory) (core.FileAnalyzer, error) {
		return f.CreateFileSandbox()
	}); err != nil {
		return nil, err
	}

	// Register gateway rewriter
	if err := container.Provide(func(
		store core.TrackingStore,
		links core.LinkAnalyzer,
		files core.FileAnalyzer,
		policy *core.PolicyEngine,
		cfg *config.Config,
		logger *zap.Logger,
		m *metrics.Metrics,
	) core.GatewayProcessor {
		return gateway.NewRewriter(store, links, files, policy, cfg.GetString("gateway.base_url"), logger, m)
	}); err != nil {
		return nil, err
	}

	// Register scoring weights
	if err := container.Provide(factory.ScoringWeights); err != nil {
		return nil, err
	}

	// Register zero-trust service
	if err := container.Provide(core.NewZeroTrustService); err != nil {
		return nil, err
	}

	// Register SMTP ingress
	if err := container.Provide(func(f *factory.IngressFactory) (ports.Ingress, error) {
		return f.CreateSMTPIngress()
	}); err != nil {
		return nil, err
	}

	// Register HTTP resolver server
	if err := container.Provide(func(
		service *core.ZeroTrustService,
		gw core.GatewayProcessor,
		cfg *config.Config,
		logger *zap.Logger,
	) *httpapi.Server {
		return httpapi.NewServer(service, gw, cfg.GetString("server.http_listen_address"), logger)
	}); err != nil {
		return nil, err
	}

	return container, nil
}

package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/jhillyerd/enmime"
	"go.uber.org/zap"

	"github.com/ztmail/zerotrust/internal/config"
	"github.com/ztmail/zerotrust/internal/core"
	"github.com/ztmail/zerotrust/internal/domains"
	"github.com/ztmail/zerotrust/internal/factory"
	"github.com/ztmail/zerotrust/internal/gateway"
	"github.com/ztmail/zerotrust/internal/logging"
	"github.com/ztmail/zerotrust/internal/metrics"
	"github.com/ztmail/zerotrust/internal/utils"
)

var (
	// Predictor flags
	provider    = flag.String("provider", "heuristic", "Threat predictor provider (heuristic, bedrock, gemini, openai)")
	maxTokens   = flag.Int("max-tokens", 1000, "Maximum tokens for model response")
	temperature = flag.Float64("temperature", 0.1, "Temperature for model generation")
	topP        = flag.Float64("top-p", 0.9, "Top-p for model generation")
	maxBodySize = flag.Int("max-body-size", 4096, "Maximum email body size to send to the model")

	// Bedrock flags
	bedrockRegion  = flag.String("bedrock-region", "us-east-1", "AWS region for Bedrock")
	bedrockModelID = flag.String("bedrock-model", "anthropic.claude-v2", "Bedrock model ID")

	// Gemini flags
	geminiAPIKey    = flag.String("gemini-api-key", "", "API key for Google Gemini")
	geminiModelName = flag.String("gemini-model", "gemini-pro", "Gemini model name")

	// OpenAI flags
	openaiAPIKey    = flag.String("openai-api-key", "", "API key for OpenAI")
	openaiModelName = flag.String("openai-model", "gpt-4", "OpenAI model name")

	// Input flags
	inputFile  = flag.String("file", "", "Input email file (use stdin if not specified)")
	scanURL    = flag.String("url", "", "Detonate a single URL instead of scanning an email")
	scanPath   = flag.String("attachment", "", "Detonate a single file instead of scanning an email")
	verbose    = flag.Bool("verbose", false, "Enable verbose logging")
	jsonLog    = flag.Bool("json-log", false, "Output logs in JSON format")
	configFile = flag.String("config", "", "Path to config file (overrides command line flags)")
)

func main() {
	flag.Parse()

	logger, err := logging.InitConsoleLogger(*verbose, *jsonLog)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	var cfg *config.Config
	if *configFile != "" {
		cfg, err = config.New()
		if err != nil {
			logger.Fatal("Failed to load configuration", zap.Error(err))
		}
		logger.Info("Loaded configuration from file", zap.String("file", cfg.GetViper().ConfigFileUsed()))
	} else {
		cfg = createConfigFromFlags()
	}

	service, closeFn, err := buildService(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to build pipeline", zap.Error(err))
	}
	defer closeFn()

	ctx := context.Background()
	startTime := time.Now()

	var result *core.ZeroTrustResult
	switch {
	case *scanURL != "":
		fmt.Printf("=== Detonating URL ===\n%s\n", *scanURL)
		result = service.ProcessLinkClick(ctx, &core.LinkClick{
			URL:         *scanURL,
			UserContext: core.UserContext{UserID: "cli", When: time.Now()},
		})
	case *scanPath != "":
		fmt.Printf("=== Detonating file ===\n%s\n", *scanPath)
		result = detonateFile(ctx, service, *scanPath, logger)
	default:
		email, err := readEmail(logger)
		if err != nil {
			logger.Fatal("Failed to read email", zap.Error(err))
		}
		fmt.Printf("=== Email Summary ===\n")
		fmt.Printf("From: %s\n", email.From)
		fmt.Printf("Subject: %s\n", email.Subject)
		fmt.Printf("Links: %d\n", len(core.DiscoverLinks(email)))
		fmt.Printf("Attachments: %d\n", len(email.Attachments))
		result = service.ProcessEmail(ctx, email)
	}

	fmt.Printf("\n=== Decision ===\n")
	fmt.Printf("Action: %s\n", result.Action)
	fmt.Printf("Threat score: %.4f\n", result.ThreatScore)
	fmt.Printf("Confidence: %.4f\n", result.Confidence)
	if result.ThreatType != "" {
		fmt.Printf("Threat type: %s\n", result.ThreatType)
	}
	for _, ind := range result.Indicators {
		fmt.Printf("Indicator: %s\n", ind)
	}
	fmt.Printf("Processing time: %v\n", time.Since(startTime))
}

// buildService wires a complete pipeline with an in-memory tracking
// store for one-shot scans.
func buildService(cfg *config.Config, logger *zap.Logger) (*core.ZeroTrustService, func(), error) {
	m := metrics.New()
	sanitizer := utils.NewSanitizer(logger)

	predictor, err := factory.NewPredictorFactory(cfg, logger, sanitizer).CreateThreatPredictor()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create predictor: %w", err)
	}

	store, err := factory.NewStoreFactory(cfg, logger).CreateTrackingStore()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create tracking store: %w", err)
	}

	sandboxes := factory.NewSandboxFactory(cfg, logger, m)
	links, err := sandboxes.CreateLinkSandbox()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create link sandbox: %w", err)
	}
	files, err := sandboxes.CreateFileSandbox()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create file sandbox: %w", err)
	}

	policy := buildPolicy(cfg, logger)
	gw := gateway.NewRewriter(store, links, files, policy, cfg.GetString("gateway.base_url"), logger, m)
	service := core.NewZeroTrustService(predictor, gw, links, files, policy, factory.ScoringWeights(cfg), logger, m)

	closeFn := func() {
		if closer, ok := predictor.(interface{ Close() error }); ok {
			if err := closer.Close(); err != nil {
				logger.Error("Failed to close predictor", zap.Error(err))
			}
		}
	}
	return service, closeFn, nil
}

func buildPolicy(cfg *config.Config, logger *zap.Logger) *core.PolicyEngine {
	checker := domains.NewChecker(cfg.GetStringSlice("policy.internal_domains"), logger)
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
}

func detonateFile(ctx context.Context, service *core.ZeroTrustService, path string, logger *zap.Logger) *core.ZeroTrustResult {
	info, err := os.Stat(path)
	if err != nil {
		logger.Fatal("Failed to stat file", zap.Error(err), zap.String("path", path))
	}
	return service.ProcessAttachment(ctx, &core.AttachmentDownload{
		Attachment: core.Attachment{
			FileName:    filepath.Base(path),
			ContentType: mime.TypeByExtension(filepath.Ext(path)),
			Size:        info.Size(),
			StoragePath: path,
		},
		UserContext: core.UserContext{UserID: "cli", When: time.Now()},
	})
}

// readEmail parses a raw RFC 5322 message from the input file or
// stdin, spooling attachments to a temp dir for detonation.
func readEmail(logger *zap.Logger) (*core.Email, error) {
	var emailReader io.Reader
	if *inputFile != "" {
		file, err := os.Open(*inputFile)
		if err != nil {
			return nil, fmt.Errorf("failed to open input file %q: %w", *inputFile, err)
		}
		defer file.Close()
		emailReader = file
		logger.Info("Reading email from file", zap.String("file", *inputFile))
	} else {
		emailReader = os.Stdin
		logger.Info("Reading email from stdin")
	}

	env, err := enmime.ReadEnvelope(bufio.NewReader(emailReader))
	if err != nil {
		return nil, fmt.Errorf("failed to parse email: %w", err)
	}

	email := &core.Email{
		MessageID: env.GetHeader("Message-Id"),
		From:      env.GetHeader("From"),
		To:        env.GetHeaderValues("To"),
		Subject:   env.GetHeader("Subject"),
		Body:      env.Text,
		HTMLBody:  env.HTML,
		Headers:   make(map[string][]string),
	}
	for _, key := range env.GetHeaderKeys() {
		email.Headers[key] = env.GetHeaderValues(key)
	}

	spoolDir, err := os.MkdirTemp("", "zt-scan-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create spool dir: %w", err)
	}
	for _, part := range env.Attachments {
		path := filepath.Join(spoolDir, part.FileName)
		if err := os.WriteFile(path, part.Content, 0600); err != nil {
			return nil, fmt.Errorf("failed to spool attachment %q: %w", part.FileName, err)
		}
		email.Attachments = append(email.Attachments, core.Attachment{
			FileName:    part.FileName,
			ContentType: part.ContentType,
			Size:        int64(len(part.Content)),
			StoragePath: path,
		})
	}

	return email, nil
}

// createConfigFromFlags creates a configuration from command line flags
func createConfigFromFlags() *config.Config {
	v := config.NewEmptyViper()

	v.Set("predictor.provider", *provider)

	switch *provider {
	case "bedrock":
		v.Set("bedrock.region", *bedrockRegion)
		v.Set("bedrock.model_id", *bedrockModelID)
		v.Set("bedrock.max_tokens", *maxTokens)
		v.Set("bedrock.temperature", *temperature)
		v.Set("bedrock.top_p", *topP)
		v.Set("bedrock.max_body_size", *maxBodySize)
	case "gemini":
		v.Set("gemini.api_key", *geminiAPIKey)
		v.Set("gemini.model_name", *geminiModelName)
		v.Set("gemini.max_tokens", *maxTokens)
		v.Set("gemini.temperature", *temperature)
		v.Set("gemini.top_p", *topP)
		v.Set("gemini.max_body_size", *maxBodySize)
	case "openai":
		v.Set("openai.api_key", *openaiAPIKey)
		v.Set("openai.model_name", *openaiModelName)
		v.Set("openai.max_tokens", *maxTokens)
		v.Set("openai.temperature", *temperature)
		v.Set("openai.top_p", *topP)
		v.Set("openai.max_body_size", *maxBodySize)
	}

	return config.NewFromViper(v)
}

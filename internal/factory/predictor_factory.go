package factory

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	goopenai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/ztmail/zerotrust/internal/adapters/bedrock"
	"github.com/ztmail/zerotrust/internal/adapters/gemini"
	"github.com/ztmail/zerotrust/internal/adapters/heuristic"
	"github.com/ztmail/zerotrust/internal/adapters/openai"
	"github.com/ztmail/zerotrust/internal/config"
	"github.com/ztmail/zerotrust/internal/core"
	"github.com/ztmail/zerotrust/internal/utils"
)

// PredictorFactory creates threat predictors
type PredictorFactory struct {
	cfg       *config.Config
	logger    *zap.Logger
	sanitizer *utils.Sanitizer
}

// NewPredictorFactory creates a new predictor factory
func NewPredictorFactory(cfg *config.Config, logger *zap.Logger, sanitizer *utils.Sanitizer) *PredictorFactory {
	return &PredictorFactory{
		cfg:       cfg,
		logger:    logger,
		sanitizer: sanitizer,
	}
}

// CreateThreatPredictor creates a threat predictor based on the configuration
func (f *PredictorFactory) CreateThreatPredictor() (core.ThreatPredictor, error) {
	provider := f.cfg.GetPredictor().Provider

	switch provider {
	case "bedrock":
		return f.createBedrock()
	case "gemini":
		return f.createGemini()
	case "openai":
		return f.createOpenAI()
	case "heuristic":
		return heuristic.NewPredictor(f.logger), nil
	default:
		return nil, fmt.Errorf("unsupported predictor provider: %s", provider)
	}
}

func (f *PredictorFactory) createBedrock() (core.ThreatPredictor, error) {
	bedrockCfg := f.cfg.GetBedrock()

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(bedrockCfg.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	return bedrock.NewPredictor(
		bedrockruntime.NewFromConfig(awsCfg),
		bedrockCfg.ModelID,
		bedrockCfg.MaxTokens,
		bedrockCfg.Temperature,
		bedrockCfg.TopP,
		bedrockCfg.MaxBodySize,
		f.logger,
		f.sanitizer,
	), nil
}

func (f *PredictorFactory) createGemini() (core.ThreatPredictor, error) {
	geminiCfg := f.cfg.GetGemini()
	if geminiCfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	return gemini.NewPredictor(
		geminiCfg.APIKey,
		geminiCfg.ModelName,
		geminiCfg.MaxTokens,
		geminiCfg.Temperature,
		geminiCfg.TopP,
		geminiCfg.MaxBodySize,
		f.logger,
		f.sanitizer,
	)
}

func (f *PredictorFactory) createOpenAI() (core.ThreatPredictor, error) {
	openaiCfg := f.cfg.GetOpenAI()
	if openaiCfg.APIKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}

	return openai.NewPredictor(
		goopenai.NewClient(openaiCfg.APIKey),
		openaiCfg.ModelName,
		openaiCfg.MaxTokens,
		openaiCfg.Temperature,
		openaiCfg.TopP,
		openaiCfg.MaxBodySize,
		f.logger,
		f.sanitizer,
	), nil
}

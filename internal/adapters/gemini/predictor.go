package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/ztmail/zerotrust/internal/core"
	"github.com/ztmail/zerotrust/internal/utils"
)

const emailPromptFormat = `You are an email threat detection system. Analyze the following email.
Respond with a JSON object containing:
- threat_type: string (one of "none", "phishing", "malware", "spam", "bec")
- threat_score: number between 0 and 1 (higher means more dangerous)
- confidence: number between 0 and 1
- indicators: array of short strings naming the signals you found

Email:
From: %s
To: %s
Subject: %s
Body:
%s

Respond only with the JSON object and nothing else.`

const linkPromptFormat = `You are a URL threat detection system. Analyze the following URL that a user is about to open.
Respond with a JSON object containing:
- threat_type: string (one of "none", "phishing", "malware")
- threat_score: number between 0 and 1
- confidence: number between 0 and 1
- indicators: array of short strings naming the signals you found

URL: %s

Respond only with the JSON object and nothing else.`

const attachmentPromptFormat = `You are a file threat detection system. Analyze the following attachment metadata.
Respond with a JSON object containing:
- threat_type: string (one of "none", "malware", "ransomware")
- threat_score: number between 0 and 1
- confidence: number between 0 and 1
- indicators: array of short strings naming the signals you found

File name: %s
Content type: %s
Size: %d bytes

Respond only with the JSON object and nothing else.`

// threatResponse is the structured response expected from the model.
type threatResponse struct {
	ThreatType  string   `json:"threat_type"`
	ThreatScore float64  `json:"threat_score"`
	Confidence  float64  `json:"confidence"`
	Indicators  []string `json:"indicators"`
}

// Predictor is an implementation of the ThreatPredictor interface
// using Google Gemini.
type Predictor struct {
	client      *genai.Client
	model       *genai.GenerativeModel
	modelName   string
	maxBodySize int
	logger      *zap.Logger
	sanitizer   *utils.Sanitizer
}

// NewPredictor creates a new Gemini threat predictor.
func NewPredictor(
	apiKey string,
	modelName string,
	maxTokens int,
	temperature float32,
	topP float32,
	maxBodySize int,
	logger *zap.Logger,
	sanitizer *utils.Sanitizer,
) (*Predictor, error) {
	client, err := genai.NewClient(context.Background(), option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.SetTemperature(temperature)
	model.SetTopP(topP)
	model.SetMaxOutputTokens(int32(maxTokens))

	return &Predictor{
		client:      client,
		model:       model,
		modelName:   modelName,
		maxBodySize: maxBodySize,
		logger:      logger,
		sanitizer:   sanitizer,
	}, nil
}

// Close closes the Gemini client.
func (p *Predictor) Close() error {
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}

// PredictEmailThreat scores an inbound email via the model.
func (p *Predictor) PredictEmailThreat(ctx context.Context, email *core.Email) (*core.ThreatPrediction, error) {
	to := ""
	if len(email.To) > 0 {
		to = email.To[0]
		if len(email.To) > 1 {
			to += fmt.Sprintf(" and %d others", len(email.To)-1)
		}
	}

	body := p.sanitizer.Prepare(email.Body, p.maxBodySize)
	prompt := fmt.Sprintf(emailPromptFormat, email.From, to, email.Subject, body)
	return p.predict(ctx, prompt)
}

// PredictLinkThreat scores a URL at click time.
func (p *Predictor) PredictLinkThreat(ctx context.Context, url string, userCtx core.UserContext) (*core.ThreatPrediction, error) {
	return p.predict(ctx, fmt.Sprintf(linkPromptFormat, url))
}

// PredictAttachmentThreat scores attachment metadata at download time.
func (p *Predictor) PredictAttachmentThreat(ctx context.Context, att *core.Attachment) (*core.ThreatPrediction, error) {
	return p.predict(ctx, fmt.Sprintf(attachmentPromptFormat, att.FileName, att.ContentType, att.Size))
}

func (p *Predictor) predict(ctx context.Context, prompt string) (*core.ThreatPrediction, error) {
	resp, err := p.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return nil, fmt.Errorf("failed to generate content with Gemini: %w", err)
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("empty response from Gemini")
	}

	responseText := fmt.Sprintf("%v", resp.Candidates[0].Content.Parts[0])

	parsed, err := parseThreatResponse(responseText)
	if err != nil {
		return nil, err
	}

	return &core.ThreatPrediction{
		ThreatType:  parsed.ThreatType,
		Confidence:  parsed.Confidence,
		ThreatScore: parsed.ThreatScore,
		Indicators:  parsed.Indicators,
		ModelUsed:   p.modelName,
		PredictedAt: time.Now(),
	}, nil
}

// parseThreatResponse unmarshals the model output, tolerating prose
// around the JSON object.
func parseThreatResponse(text string) (*threatResponse, error) {
	var parsed threatResponse
	if err := json.Unmarshal([]byte(text), &parsed); err == nil {
		return &parsed, nil
	}

	start, end := -1, -1
	for i := 0; i < len(text); i++ {
		if text[i] == '{' {
			start = i
			break
		}
	}
	for i := len(text) - 1; i >= 0; i-- {
		if text[i] == '}' {
			end = i + 1
			break
		}
	}
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in model response")
	}

	if err := json.Unmarshal([]byte(text[start:end]), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse model response as JSON: %w", err)
	}
	return &parsed, nil
}

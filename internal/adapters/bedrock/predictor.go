package bedrock

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"go.uber.org/zap"

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
// using Amazon Bedrock.
type Predictor struct {
	client      *bedrockruntime.Client
	modelID     string
	maxTokens   int
	temperature float32
	topP        float32
	maxBodySize int
	logger      *zap.Logger
	sanitizer   *utils.Sanitizer
}

// NewPredictor creates a new Bedrock threat predictor.
func NewPredictor(
	client *bedrockruntime.Client,
	modelID string,
	maxTokens int,
	temperature float32,
	topP float32,
	maxBodySize int,
	logger *zap.Logger,
	sanitizer *utils.Sanitizer,
) *Predictor {
	return &Predictor{
		client:      client,
		modelID:     modelID,
		maxTokens:   maxTokens,
		temperature: temperature,
		topP:        topP,
		maxBodySize: maxBodySize,
		logger:      logger,
		sanitizer:   sanitizer,
	}
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
	payload, err := p.buildPayload(prompt)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request payload: %w", err)
	}

	resp, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     &p.modelID,
		Body:        payload,
		Accept:      aws.String("application/json"),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to invoke Bedrock model: %w", err)
	}

	responseText, err := p.extractText(resp.Body)
	if err != nil {
		return nil, err
	}

	parsed, err := parseThreatResponse(responseText)
	if err != nil {
		return nil, err
	}

	return &core.ThreatPrediction{
		ThreatType:  parsed.ThreatType,
		Confidence:  parsed.Confidence,
		ThreatScore: parsed.ThreatScore,
		Indicators:  parsed.Indicators,
		ModelUsed:   p.modelID,
		PredictedAt: time.Now(),
	}, nil
}

// buildPayload creates the provider-specific request body.
func (p *Predictor) buildPayload(prompt string) ([]byte, error) {
	switch {
	case p.isAnthropicModel():
		return json.Marshal(map[string]interface{}{
			"prompt":               prompt,
			"max_tokens_to_sample": p.maxTokens,
			"temperature":          p.temperature,
			"top_p":                p.topP,
		})
	case p.isAmazonTitanModel():
		return json.Marshal(map[string]interface{}{
			"inputText": prompt,
			"textGenerationConfig": map[string]interface{}{
				"maxTokenCount": p.maxTokens,
				"temperature":   p.temperature,
				"topP":          p.topP,
			},
		})
	default:
		return json.Marshal(map[string]interface{}{
			"prompt":      prompt,
			"max_tokens":  p.maxTokens,
			"temperature": p.temperature,
			"top_p":       p.topP,
		})
	}
}

// extractText pulls the completion text out of the provider-specific
// response body.
func (p *Predictor) extractText(body []byte) (string, error) {
	switch {
	case p.isAnthropicModel():
		var resp struct {
			Completion string `json:"completion"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return "", fmt.Errorf("failed to unmarshal Claude response: %w", err)
		}
		return resp.Completion, nil
	case p.isAmazonTitanModel():
		var resp struct {
			Results []struct {
				OutputText string `json:"outputText"`
			} `json:"results"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return "", fmt.Errorf("failed to unmarshal Titan response: %w", err)
		}
		if len(resp.Results) == 0 {
			return "", fmt.Errorf("empty response from Titan model")
		}
		return resp.Results[0].OutputText, nil
	default:
		var resp struct {
			Output   string `json:"output"`
			Text     string `json:"text"`
			Response string `json:"response"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return "", fmt.Errorf("failed to unmarshal generic response: %w", err)
		}
		for _, candidate := range []string{resp.Output, resp.Text, resp.Response} {
			if candidate != "" {
				return candidate, nil
			}
		}
		return string(body), nil
	}
}

func (p *Predictor) isAnthropicModel() bool {
	return strings.HasPrefix(p.modelID, "anthropic.claude")
}

func (p *Predictor) isAmazonTitanModel() bool {
	return strings.HasPrefix(p.modelID, "amazon.titan")
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

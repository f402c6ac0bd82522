package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/ztmail/zerotrust/internal/core"
)

// CuckooClient is an implementation of the DetonationEngine interface
// against a Cuckoo-style REST API: submit a file, poll the report
// endpoint until the task has finished.
type CuckooClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *zap.Logger
}

// NewCuckooClient creates a new detonation engine client.
func NewCuckooClient(baseURL string, apiKey string, timeout time.Duration, logger *zap.Logger) *CuckooClient {
	return &CuckooClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type submitResponse struct {
	TaskID string `json:"task_id"`
}

type reportResponse struct {
	Status     string   `json:"status"` // pending | running | reported
	Score      float64  `json:"score"`  // 0-10 scale
	Signatures []string `json:"signatures"`
}

// Submit uploads the file for detonation and returns the engine's
// task id.
func (c *CuckooClient) Submit(ctx context.Context, filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to open sample: %w", err)
	}
	defer file.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filepath.Base(filePath))
	if err != nil {
		return "", fmt.Errorf("failed to build upload: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", fmt.Errorf("failed to read sample: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/tasks/create/file", &buf)
	if err != nil {
		return "", fmt.Errorf("failed to build submit request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("engine submit request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("engine submit returned status %d", resp.StatusCode)
	}

	var parsed submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode submit response: %w", err)
	}
	if parsed.TaskID == "" {
		return "", fmt.Errorf("engine submit returned no task id")
	}

	c.logger.Debug("Submitted sample to detonation engine",
		zap.String("path", filePath),
		zap.String("task_id", parsed.TaskID))

	return parsed.TaskID, nil
}

// Report fetches the analysis report for a task. A report that is not
// ready yet comes back with Ready=false, not as an error, so the
// caller keeps polling.
func (c *CuckooClient) Report(ctx context.Context, taskID string) (*core.EngineReport, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/tasks/report/"+taskID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build report request: %w", err)
	}
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("engine report request failed: %w", err)
	}
	defer resp.Body.Close()

	// 404 means the report has not been generated yet.
	if resp.StatusCode == http.StatusNotFound {
		return &core.EngineReport{Ready: false}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("engine report returned status %d", resp.StatusCode)
	}

	var parsed reportResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode report response: %w", err)
	}

	if parsed.Status != "reported" {
		return &core.EngineReport{Ready: false}, nil
	}

	return &core.EngineReport{
		Ready:      true,
		Score:      parsed.Score,
		Indicators: parsed.Signatures,
	}, nil
}

func (c *CuckooClient) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

package browser

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ztmail/zerotrust/internal/core"
)

// maxPageBytes caps how much page source one navigation may pull in.
const maxPageBytes = 2 * 1024 * 1024

// HTTPBrowser is an implementation of the Browser interface that
// fetches the page over plain HTTP and records the redirect chain. It
// sees everything delivered in the initial response; script execution
// is the external engine's job.
type HTTPBrowser struct {
	client    *http.Client
	userAgent string
	logger    *zap.Logger
}

// NewHTTPBrowser creates a new HTTP-based browsing context.
func NewHTTPBrowser(timeout time.Duration, userAgent string, logger *zap.Logger) *HTTPBrowser {
	b := &HTTPBrowser{
		userAgent: userAgent,
		logger:    logger,
	}
	b.client = &http.Client{
		Timeout: timeout,
		// Redirects are followed but each hop is part of the capture.
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("too many redirects")
			}
			return nil
		},
	}
	return b
}

// Navigate fetches the URL and returns the captured page state.
func (b *HTTPBrowser) Navigate(ctx context.Context, url string) (*core.PageCapture, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid navigation target: %w", err)
	}
	if b.userAgent != "" {
		req.Header.Set("User-Agent", b.userAgent)
	}

	requests := []string{fmt.Sprintf("GET %s", url)}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("navigation failed: %w", err)
	}
	defer resp.Body.Close()

	finalURL := url
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	if finalURL != url {
		requests = append(requests, fmt.Sprintf("GET %s", finalURL))
	}

	source, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read page source: %w", err)
	}

	b.logger.Debug("Navigation complete",
		zap.String("url", url),
		zap.String("final_url", finalURL),
		zap.Int("status", resp.StatusCode),
		zap.Int("source_bytes", len(source)))

	return &core.PageCapture{
		FinalURL:        finalURL,
		StatusCode:      resp.StatusCode,
		Source:          string(source),
		NetworkRequests: requests,
	}, nil
}

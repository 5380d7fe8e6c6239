package responder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/soyeahso/livedesk/internal/apperr"
	"github.com/soyeahso/livedesk/internal/config"
	"github.com/soyeahso/livedesk/internal/version"
)

// HTTPClient talks JSON to the answer service.
type HTTPClient struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewHTTPClient creates a client for cfg.Endpoint.
func NewHTTPClient(cfg config.ResponderConfig) *HTTPClient {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = config.DefaultResponderTimeout * time.Second
	}
	return &HTTPClient{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: timeout},
	}
}

// GenerateAnswer posts to {endpoint}/answer.
func (c *HTTPClient) GenerateAnswer(ctx context.Context, req AnswerRequest) (*Answer, error) {
	var ans Answer
	if err := c.post(ctx, "/answer", req, &ans); err != nil {
		return nil, err
	}
	ans.Answer = strings.TrimSpace(ans.Answer)
	ans.Question = strings.TrimSpace(ans.Question)
	return &ans, nil
}

// Summarize posts to {endpoint}/summarize.
func (c *HTTPClient) Summarize(ctx context.Context, req SummaryRequest) (string, error) {
	var out struct {
		Summary string `json:"summary"`
	}
	if err := c.post(ctx, "/summarize", req, &out); err != nil {
		return "", err
	}
	return strings.TrimSpace(out.Summary), nil
}

// Name returns the provider name.
func (c *HTTPClient) Name() string {
	return "http"
}

func (c *HTTPClient) post(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", version.UserAgent())
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return &apperr.Error{Code: apperr.CodeUnavailable, Message: "responder request failed", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	msg := strings.TrimSpace(string(respBody))
	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return apperr.Unavailable("responder API error (%d): %s", resp.StatusCode, msg)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("API error (%d): %s", resp.StatusCode, msg)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

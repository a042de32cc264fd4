package automation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Veraticus/receipt-reconciler/internal/common"
	"github.com/Veraticus/receipt-reconciler/internal/model"
)

// TriggerRequest is sent to the external worker service.
type TriggerRequest struct {
	TriggerContext model.TriggerContext `json:"triggerContext"`
	WorkerType     string               `json:"workerType"`
	InitialPrompt  string               `json:"initialPrompt"`
	TriggeredBy    string               `json:"triggeredBy"`
}

// TriggerResponse is the worker service's answer. An empty RunID means the
// service accepted nothing.
type TriggerResponse struct {
	RunID  string `json:"runId"`
	Status string `json:"status"`
}

// Trigger starts a worker run synchronously.
type Trigger interface {
	Trigger(ctx context.Context, req TriggerRequest) (TriggerResponse, error)
}

// TriggerClient calls the worker trigger endpoint over HTTP.
type TriggerClient struct {
	httpClient *http.Client
	url        string
	token      string
	retry      common.RetryOptions
}

// NewTriggerClient creates a client for the endpoint at url. token, when
// set, is sent as a bearer token.
func NewTriggerClient(url, token string, timeout time.Duration) (*TriggerClient, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("trigger url is required")
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &TriggerClient{
		url:   url,
		token: token,
		retry: common.RetryOptions{
			MaxAttempts:  3,
			InitialDelay: 250 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			Multiplier:   2.0,
			Retryable:    common.IsRetryable,
		},
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}, nil
}

// Trigger posts req and decodes the run handle. An empty body decodes to a
// zero response. Rate limits, gateway errors and timeouts are retried.
// Other failures return at once so callers can fall back to the queue.
func (c *TriggerClient) Trigger(ctx context.Context, req TriggerRequest) (TriggerResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return TriggerResponse{}, fmt.Errorf("failed to marshal trigger request: %w", err)
	}

	var out TriggerResponse
	err = common.WithRetry(ctx, func() error {
		var callErr error
		out, callErr = c.post(ctx, body)
		return callErr
	}, c.retry)
	return out, err
}

func (c *TriggerClient) post(ctx context.Context, body []byte) (TriggerResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return TriggerResponse{}, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return TriggerResponse{}, fmt.Errorf("trigger request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return TriggerResponse{}, fmt.Errorf("failed to read trigger response: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return TriggerResponse{}, fmt.Errorf("%w: trigger endpoint", common.ErrRateLimit)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := fmt.Errorf("trigger endpoint error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(data)))
		switch resp.StatusCode {
		case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return TriggerResponse{}, &common.RetryableError{Err: statusErr, Retryable: true}
		}
		return TriggerResponse{}, statusErr
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return TriggerResponse{}, nil
	}

	var out TriggerResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return TriggerResponse{}, fmt.Errorf("failed to parse trigger response: %w", err)
	}
	return out, nil
}

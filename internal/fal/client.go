// Package fal is a client for the fal.ai queue API: submit a request to a
// model endpoint, poll its status, then read the result.
package fal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type Client struct {
	baseURL        string
	apiKey         string
	httpClient     *http.Client
	downloadClient *http.Client
	maxArtifact    int64
	backoffs       []time.Duration
}

// DefaultMaxArtifactSize bounds a single downloaded artifact.
const DefaultMaxArtifactSize = 512 << 20

var ErrArtifactTooLarge = errors.New("artifact exceeds size limit")

const (
	StatusInQueue    = "IN_QUEUE"
	StatusInProgress = "IN_PROGRESS"
	StatusCompleted  = "COMPLETED"
)

// SubmitResponse is returned by POST /{model}.
type SubmitResponse struct {
	RequestID   string `json:"request_id"`
	StatusURL   string `json:"status_url"`
	ResponseURL string `json:"response_url"`
	CancelURL   string `json:"cancel_url"`
}

type LogEntry struct {
	Message   string `json:"message"`
	Level     string `json:"level,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// StatusResponse is returned by GET /{app}/requests/{id}/status.
type StatusResponse struct {
	Status        string     `json:"status"`
	QueuePosition *int       `json:"queue_position,omitempty"`
	Logs          []LogEntry `json:"logs,omitempty"`
	Error         string     `json:"error,omitempty"`
	ResponseURL   string     `json:"response_url,omitempty"`
}

// APIError is a non-2xx answer from the queue.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("fal api error: status %d, body: %s", e.StatusCode, e.Body)
}

// Temporary reports whether retrying the same call may succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		// videos take longer than API calls
		downloadClient: &http.Client{
			Timeout: 10 * time.Minute,
		},
		maxArtifact: DefaultMaxArtifactSize,
		backoffs: []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second},
	}
}

// WithBackoffs overrides the retry delays; tests use zero delays.
func (c *Client) WithBackoffs(backoffs ...time.Duration) *Client {
	c.backoffs = backoffs
	return c
}

// WithMaxArtifactSize overrides the download size cap.
func (c *Client) WithMaxArtifactSize(n int64) *Client {
	c.maxArtifact = n
	return c
}

// AppID is the owner/name prefix of a model path. Status and result
// endpoints live under it, not under the full model path.
func AppID(model string) string {
	parts := strings.Split(strings.Trim(model, "/"), "/")
	if len(parts) <= 2 {
		return strings.Join(parts, "/")
	}
	return parts[0] + "/" + parts[1]
}

// Submit enqueues input on the model endpoint.
func (c *Client) Submit(ctx context.Context, model string, input interface{}) (*SubmitResponse, error) {
	jsonData, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := c.baseURL + "/" + strings.Trim(model, "/")
	body, err := c.do(ctx, http.MethodPost, url, jsonData)
	if err != nil {
		return nil, err
	}

	var result SubmitResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if result.RequestID == "" {
		return nil, fmt.Errorf("submit response has no request_id: %s", string(body))
	}
	return &result, nil
}

func (c *Client) Status(ctx context.Context, model, requestID string) (*StatusResponse, error) {
	url := fmt.Sprintf("%s/%s/requests/%s/status?logs=1", c.baseURL, AppID(model), requestID)
	body, err := c.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	var result StatusResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

// Result decodes the finished request's output into out.
func (c *Client) Result(ctx context.Context, model, requestID string, out interface{}) error {
	url := fmt.Sprintf("%s/%s/requests/%s", c.baseURL, AppID(model), requestID)
	body, err := c.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to unmarshal result: %w", err)
	}
	return nil
}

// Download fetches a generated artifact from the provider CDN.
func (c *Client) Download(ctx context.Context, fileURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.downloadClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, "", &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	if resp.ContentLength > c.maxArtifact {
		return nil, "", fmt.Errorf("%w: %d bytes", ErrArtifactTooLarge, resp.ContentLength)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxArtifact+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(data)) > c.maxArtifact {
		return nil, "", ErrArtifactTooLarge
	}
	return data, resp.Header.Get("Content-Type"), nil
}

func (c *Client) do(ctx context.Context, method, url string, payload []byte) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Key "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

// RetryWithBackoff calls fn up to maxRetries times, sleeping between
// attempts. It stops early when ctx is done.
func (c *Client) RetryWithBackoff(ctx context.Context, fn func() error, maxRetries int) error {
	var lastErr error
	for i := 0; i < maxRetries; i++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if i == maxRetries-1 {
			break
		}
		delay := time.Duration(0)
		if len(c.backoffs) > 0 {
			delay = c.backoffs[min(i, len(c.backoffs)-1)]
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return fmt.Errorf("failed after %d retries: %w", maxRetries, lastErr)
}

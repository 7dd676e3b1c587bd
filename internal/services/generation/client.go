package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	// ErrMissingAPIKey indicates the client was built without a key
	ErrMissingAPIKey = errors.New("generation api key is not configured")

	// ErrNoTaskID indicates the submission response carried no task id
	ErrNoTaskID = errors.New("submission response has no task_id")
)

// Upstream task states
const (
	TaskCompleted = "completed"
	TaskFailed    = "failed"
)

// TaskStatus is the upstream view of a generation task
type TaskStatus struct {
	Status   string `json:"status"`
	AudioURL string `json:"audio_url,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Upstream is the generative audio API
type Upstream interface {
	Submit(ctx context.Context, prompt string) (string, error)
	Status(ctx context.Context, taskID string) (*TaskStatus, error)
}

// ClientConfig holds configuration for the Riffusion client
type ClientConfig struct {
	APIKey  string
	BaseURL string        // Default: https://riffusionapi.com
	Timeout time.Duration // Default: 30s
}

// Client talks to the Riffusion HTTP API
type Client struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
}

// NewClient creates a new Riffusion client
func NewClient(cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://riffusionapi.com"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
	}
}

// Configured reports whether an API key is present
func (c *Client) Configured() bool {
	return c.apiKey != ""
}

// Submit starts a generation and returns the upstream task id
func (c *Client) Submit(ctx context.Context, prompt string) (string, error) {
	if c.apiKey == "" {
		return "", ErrMissingAPIKey
	}

	body, err := json.Marshal(map[string]string{"prompt": prompt})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	var result struct {
		TaskID string `json:"task_id"`
	}
	if err := c.do(ctx, http.MethodPost, c.baseURL+"/api/generate-music", bytes.NewReader(body), &result); err != nil {
		return "", fmt.Errorf("submit generation: %w", err)
	}
	if result.TaskID == "" {
		return "", ErrNoTaskID
	}
	return result.TaskID, nil
}

// Status fetches the current state of a task
func (c *Client) Status(ctx context.Context, taskID string) (*TaskStatus, error) {
	if c.apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	var status TaskStatus
	u := c.baseURL + "/api/check-status/" + url.PathEscape(taskID)
	if err := c.do(ctx, http.MethodGet, u, nil, &status); err != nil {
		return nil, fmt.Errorf("check status: %w", err)
	}
	return &status, nil
}

func (c *Client) do(ctx context.Context, method, u string, body io.Reader, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(text)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/killallgit/vibematch-api/internal/models"
	"golang.org/x/time/rate"
)

var (
	// ErrRateLimited indicates the Data API quota or rate limit was hit
	ErrRateLimited = errors.New("youtube api rate limit exceeded")

	// ErrMissingAPIKey indicates the client was built without a key
	ErrMissingAPIKey = errors.New("youtube api key is not configured")
)

// Config holds configuration for the YouTube Data API client
type Config struct {
	APIKey            string
	BaseURL           string        // Default: https://www.googleapis.com
	Timeout           time.Duration // Default: 10s
	RequestsPerSecond float64       // Default: 5
	Burst             int           // Default: 5
}

// Client queries the YouTube Data API v3 search endpoint
type Client struct {
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	apiKey      string
	baseURL     string

	requests atomic.Int64
	errors   atomic.Int64
}

// NewClient creates a new YouTube client
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://www.googleapis.com"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RequestsPerSecond == 0 {
		cfg.RequestsPerSecond = 5
	}
	if cfg.Burst == 0 {
		cfg.Burst = 5
	}

	return &Client{
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		rateLimiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		apiKey:      cfg.APIKey,
		baseURL:     cfg.BaseURL,
	}
}

// Configured reports whether an API key is present
func (c *Client) Configured() bool {
	return c.apiKey != ""
}

// Search returns up to maxResults videos matching query, in API order.
// Items without a video id are skipped.
func (c *Client) Search(ctx context.Context, query string, maxResults int) ([]models.SearchResult, error) {
	if c.apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	params := url.Values{}
	params.Set("part", "snippet")
	params.Set("type", "video")
	params.Set("q", query)
	params.Set("maxResults", strconv.Itoa(maxResults))
	params.Set("key", c.apiKey)

	resp, err := c.doRequest(ctx, fmt.Sprintf("%s/youtube/v3/search?%s", c.baseURL, params.Encode()))
	if err != nil {
		return nil, fmt.Errorf("search videos: %w", err)
	}
	return transformResults(resp), nil
}

func (c *Client) doRequest(ctx context.Context, u string) (*searchResponse, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait: %w", err)
	}
	c.requests.Add(1)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.errors.Add(1)
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		c.errors.Add(1)
		return nil, ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		c.errors.Add(1)
		return nil, decodeAPIError(resp)
	}

	var result searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		c.errors.Add(1)
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &result, nil
}

// GetMetrics returns request counters
func (c *Client) GetMetrics() map[string]int64 {
	return map[string]int64{
		"requests": c.requests.Load(),
		"errors":   c.errors.Load(),
	}
}

func decodeAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var apiErr apiErrorResponse
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
		for _, e := range apiErr.Error.Errors {
			if e.Reason == "quotaExceeded" || e.Reason == "rateLimitExceeded" {
				return ErrRateLimited
			}
		}
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, apiErr.Error.Message)
	}
	return fmt.Errorf("unexpected status: %d", resp.StatusCode)
}

package openai

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultBaseURL        = "https://api.openai.com"
	DefaultRequestTimeout = 45 * time.Second
)

// Client talks to an OpenAI-compatible API over HTTP.
type Client struct {
	baseURL    string
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
	retryDelay time.Duration
}

// Options configures a Client. Zero values fall back to defaults.
type Options struct {
	BaseURL        string
	APIKey         string
	RequestTimeout time.Duration
	HTTPClient     *http.Client

	// RetryDelay is the base delay between attempts. Exposed for tests.
	RetryDelay time.Duration
}

func NewClient(opts Options) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}

	retryDelay := opts.RetryDelay
	if retryDelay <= 0 {
		retryDelay = time.Second
	}

	return &Client{
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(opts.APIKey),
		timeout:    timeout,
		httpClient: httpClient,
		retryDelay: retryDelay,
	}
}

func (c *Client) postJSON(ctx context.Context, path string, payload []byte) ([]byte, error) {
	requestCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(requestCtx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &ServiceError{Path: path, Reason: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ServiceError{Path: path, Status: resp.StatusCode, Reason: "read response body: " + err.Error()}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &RateLimitError{Path: path}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, &ServiceError{Path: path, Status: resp.StatusCode, Reason: strings.TrimSpace(string(body))}
	}

	return body, nil
}

// sleepBetweenAttempts applies the retry policy: rate limits back off
// proportionally to the attempt number, other failures wait a fixed delay.
func (c *Client) sleepBetweenAttempts(ctx context.Context, attempt int, rateLimited bool) error {
	delay := c.retryDelay
	if rateLimited {
		delay = c.retryDelay * time.Duration(attempt)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

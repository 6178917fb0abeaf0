package genai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

type Config struct {
	BaseURL     string
	HTTPClient  *http.Client
	MaxRetries  int
	BackoffBase time.Duration
}

type Client struct {
	cfg Config
}

func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 120 * time.Second}
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 400 * time.Millisecond
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Client{cfg: cfg}
}

// APIError is a non-2xx response from the API. Message is the server's own
// error text when the body carries one, so callers can classify it.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return e.Message
}

// ListModels fetches the model catalog visible to the given API key.
func (c *Client) ListModels(ctx context.Context, apiKey string) ([]Model, error) {
	endpoint, err := c.buildURL("/models", apiKey, nil)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apiError(resp.StatusCode, body)
	}

	var out struct {
		Models []Model `json:"models"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode models response: %w", err)
	}
	return out.Models, nil
}

// StreamGenerateContent opens a server-sent-events stream for req. Connect
// errors and retryable statuses are retried with exponential backoff; once a
// stream is returned the caller owns it and must Close it.
func (c *Client) StreamGenerateContent(ctx context.Context, apiKey string, req GenerateRequest) (*Stream, error) {
	if strings.TrimSpace(req.Model) == "" {
		return nil, fmt.Errorf("model is empty")
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal generate payload: %w", err)
	}
	endpoint, err := c.buildURL("/models/"+req.Model+":streamGenerateContent", apiKey, url.Values{"alt": {"sse"}})
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		stream, retry, err := c.connectOnce(ctx, endpoint, body)
		if err == nil {
			return stream, nil
		}
		lastErr = err
		if !retry || attempt == c.cfg.MaxRetries {
			break
		}
		backoff := c.cfg.BackoffBase * (1 << attempt)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return nil, lastErr
}

func (c *Client) connectOnce(ctx context.Context, endpoint string, body []byte) (stream *Stream, retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return nil, true, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		resp.Body.Close()
		if readErr != nil {
			return nil, false, fmt.Errorf("read response body: %w", readErr)
		}
		retryable := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		return nil, retryable, apiError(resp.StatusCode, respBody)
	}
	return newStream(resp.Body), false, nil
}

func (c *Client) buildURL(path, apiKey string, query url.Values) (string, error) {
	base := strings.TrimSpace(c.cfg.BaseURL)
	if base == "" {
		return "", fmt.Errorf("base url is empty")
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	if query == nil {
		query = url.Values{}
	}
	query.Set("key", apiKey)
	u.RawQuery = query.Encode()
	return u.String(), nil
}

// apiError prefers the server's structured error message, then the raw body,
// then a bare status line.
func apiError(status int, body []byte) *APIError {
	var parsed struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && strings.TrimSpace(parsed.Error.Message) != "" {
		return &APIError{StatusCode: status, Message: parsed.Error.Message}
	}
	if text := strings.TrimSpace(string(body)); text != "" {
		return &APIError{StatusCode: status, Message: text}
	}
	return &APIError{StatusCode: status, Message: fmt.Sprintf("unexpected status %d", status)}
}

// Package client calls a running classification service.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout is used when New is given a non-positive timeout.
const DefaultTimeout = 10 * time.Second

// ClassifyRequest is the body of POST /classify.
type ClassifyRequest struct {
	Text string `json:"text"`
}

// ClassifyResponse is a successful classification.
type ClassifyResponse struct {
	Category     string  `json:"category"`
	Confidence   float64 `json:"confidence"`
	ModelVersion string  `json:"model_version"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	OK           bool   `json:"ok"`
	ModelLoaded  bool   `json:"model_loaded"`
	ModelVersion string `json:"model_version"`
}

// ReloadResponse represents the reload response
type ReloadResponse struct {
	OK           bool   `json:"ok"`
	Reloaded     bool   `json:"reloaded"`
	ModelVersion string `json:"model_version"`
}

// APIError is returned for any non-2xx response.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("classifier returned status %d: %s", e.Status, e.Detail)
}

// Client is an HTTP client for the classification service
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New creates a client for the service at baseURL.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// WithToken sets the bearer token sent with Reload.
func (c *Client) WithToken(token string) *Client {
	c.token = token
	return c
}

// Classify sends a single text for classification
func (c *Client) Classify(ctx context.Context, text string) (*ClassifyResponse, error) {
	var result ClassifyResponse
	if err := c.do(ctx, http.MethodPost, "/classify", ClassifyRequest{Text: text}, &result); err != nil {
		return nil, err
	}
	if result.Category == "" {
		return nil, fmt.Errorf("bad classifier response: missing category")
	}
	return &result, nil
}

// Health checks the service
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var result HealthResponse
	if err := c.do(ctx, http.MethodGet, "/health", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Reload asks the service to re-read its model artifact.
func (c *Client) Reload(ctx context.Context) (*ReloadResponse, error) {
	var result ReloadResponse
	if err := c.do(ctx, http.MethodPost, "/reload", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		apiErr.Detail = http.StatusText(resp.StatusCode)
		return apiErr
	}
	var body struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Detail != "" {
		apiErr.Detail = body.Detail
	} else {
		apiErr.Detail = strings.TrimSpace(string(raw))
	}
	return apiErr
}

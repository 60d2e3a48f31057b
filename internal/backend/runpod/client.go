package runpod

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/nmtlab/nmtgate/internal/backend"
)

const (
	defaultBaseURL = "https://api.runpod.ai/v2"
	providerName   = "runpod"

	// maxErrorBody bounds how much of a failed response is kept for diagnostics.
	maxErrorBody = 64 << 10
)

// Client talks to the RunPod serverless API via direct HTTP.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient returns a client with defaults applied.
func NewClient(baseURL, apiKey string) *Client {
	url := strings.TrimSpace(baseURL)
	if url == "" {
		url = defaultBaseURL
	}

	return &Client{
		BaseURL: strings.TrimRight(url, "/"),
		APIKey:  strings.TrimSpace(apiKey),
	}
}

// Configured reports whether an API key is present.
func (c *Client) Configured() bool {
	return c != nil && c.APIKey != ""
}

// ChatCompletions forwards an OpenAI-compatible chat body to the endpoint's
// vLLM route. On success the response body is left open for the caller to
// stream; non-2xx responses are drained and returned as *backend.ProviderError.
func (c *Client) ChatCompletions(ctx context.Context, endpointID string, body []byte) (*http.Response, error) {
	if !c.Configured() || strings.TrimSpace(endpointID) == "" {
		return nil, fmt.Errorf("runpod chat endpoint not configured")
	}

	url := c.endpointURL(endpointID, "openai/v1/chat/completions")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	c.authorize(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		defer resp.Body.Close() // nolint:errcheck // best-effort cleanup
		return nil, providerError(resp)
	}

	return resp, nil
}

// WorkerHealth summarizes the worker pool of an endpoint.
type WorkerHealth struct {
	Ready        int `json:"ready"`
	Initializing int `json:"initializing"`
	InQueue      int `json:"inQueue"`
}

type healthResponse struct {
	Workers struct {
		Idle         int `json:"idle"`
		Ready        int `json:"ready"`
		Running      int `json:"running"`
		Initializing int `json:"initializing"`
	} `json:"workers"`
	Jobs struct {
		InQueue int `json:"inQueue"`
	} `json:"jobs"`
}

// Health fetches the worker pool status for an endpoint.
func (c *Client) Health(ctx context.Context, endpointID string) (*WorkerHealth, error) {
	if !c.Configured() || strings.TrimSpace(endpointID) == "" {
		return nil, fmt.Errorf("runpod endpoint not configured")
	}

	var parsed healthResponse
	if err := c.doJSON(ctx, http.MethodGet, c.endpointURL(endpointID, "health"), nil, &parsed); err != nil {
		return nil, err
	}

	return &WorkerHealth{
		Ready:        parsed.Workers.Idle + parsed.Workers.Ready + parsed.Workers.Running,
		Initializing: parsed.Workers.Initializing,
		InQueue:      parsed.Jobs.InQueue,
	}, nil
}

func (c *Client) endpointURL(endpointID string, path string) string {
	return c.BaseURL + "/" + strings.TrimSpace(endpointID) + "/" + path
}

func (c *Client) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) doJSON(ctx context.Context, method, url string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	c.authorize(req)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return providerError(resp)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return &backend.MalformedResponseError{Provider: providerName, Reason: "decode response", Err: err}
	}
	return nil
}

func providerError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &backend.ProviderError{
		Provider:    providerName,
		StatusCode:  resp.StatusCode,
		Message:     strings.TrimSpace(string(raw)),
		RawResponse: raw,
	}
}

package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nmtlab/nmtgate/internal/backend"
)

const (
	defaultBaseURL   = "https://openrouter.ai/api/v1"
	defaultModel     = "google/gemini-2.0-flash-001"
	defaultMaxTokens = 256
	providerName     = "openrouter"
)

// Client implements the OpenRouter chat fallback via direct HTTP.
type Client struct {
	BaseURL    string
	APIKey     string
	Model      string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// NewClient returns a client with defaults applied.
func NewClient(baseURL, apiKey string) *Client {
	url := strings.TrimSpace(baseURL)
	if url == "" {
		url = defaultBaseURL
	}

	return &Client{
		BaseURL: url,
		APIKey:  strings.TrimSpace(apiKey),
		Model:   defaultModel,
	}
}

// Name returns the provider identifier.
func (c *Client) Name() string {
	return providerName
}

// Configured reports whether an API key is present.
func (c *Client) Configured() bool {
	return c != nil && c.APIKey != ""
}

// Request is the subset of a chat request forwarded to the fallback.
type Request struct {
	Messages  []json.RawMessage
	MaxTokens int
}

// Completion is the first choice of a completed chat.
type Completion struct {
	Content      string
	FinishReason string
	Model        string
}

type chatRequest struct {
	Model     string            `json:"model"`
	Messages  []json.RawMessage `json:"messages"`
	MaxTokens int               `json:"max_tokens"`
}

type chatCompletionResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// Complete sends a non-streaming chat completion request.
func (c *Client) Complete(ctx context.Context, req *Request) (*Completion, error) {
	if c == nil {
		return nil, fmt.Errorf("openrouter client not configured")
	}
	if strings.TrimSpace(c.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if req == nil || len(req.Messages) == 0 {
		return nil, fmt.Errorf("messages are required")
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	model := c.Model
	if strings.TrimSpace(model) == "" {
		model = defaultModel
	}

	body, err := json.Marshal(chatRequest{Model: model, Messages: req.Messages, MaxTokens: maxTokens})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	ctx, cancel := withTimeout(ctx, c.Timeout)
	if cancel != nil {
		defer cancel()
	}

	url := strings.TrimRight(c.BaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &backend.ProviderError{Provider: providerName, StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody)), RawResponse: respBody}
	}

	var parsed chatCompletionResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, &backend.MalformedResponseError{Provider: providerName, Reason: "decode response", Err: err}
	}
	if len(parsed.Choices) == 0 {
		return nil, &backend.MalformedResponseError{Provider: providerName, Reason: "no choices"}
	}

	choice := parsed.Choices[0]
	return &Completion{
		Content:      choice.Message.Content,
		FinishReason: choice.FinishReason,
		Model:        parsed.Model,
	}, nil
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, nil
	}
	return context.WithTimeout(ctx, timeout)
}

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nmtlab/nmtgate/internal/backend"
	"github.com/nmtlab/nmtgate/internal/backend/openrouter"
	"github.com/nmtlab/nmtgate/internal/backend/runpod"
)

const (
	contentTypeJSON = "application/json"
	contentTypeSSE  = "text/event-stream"

	maxChatResponse = 8 << 20

	// DefaultFallbackModelLabel is the model name reported for fallback answers.
	DefaultFallbackModelLabel = "gemini-2.0-flash"
)

// ChatRequest is an OpenAI-style chat completion request. Raw keeps the
// client's bytes so the primary backend receives them unchanged.
type ChatRequest struct {
	Raw       []byte            `json:"-"`
	Messages  []json.RawMessage `json:"messages"`
	MaxTokens int               `json:"max_tokens,omitempty"`
	Stream    bool              `json:"stream,omitempty"`
}

// ParseChatRequest validates and decodes a chat body.
func ParseChatRequest(body []byte) (*ChatRequest, error) {
	if _, err := decodeValidated(chatRequestSchema, body); err != nil {
		return nil, err
	}

	var req ChatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, malformed("invalid chat request: %v", err)
	}
	req.Raw = body
	return &req, nil
}

// ChatCompletion is the canonical non-streaming chat response.
type ChatCompletion struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
}

// ChatChoice is one completion choice.
type ChatChoice struct {
	Index        int          `json:"index"`
	Message      *ChatMessage `json:"message,omitempty"`
	Delta        *ChatMessage `json:"delta,omitempty"`
	FinishReason *string      `json:"finish_reason"`
}

// ChatMessage is an assistant message or stream delta.
type ChatMessage struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

// NewChatCompletion builds a single-choice completion.
func NewChatCompletion(model, content string) *ChatCompletion {
	stop := "stop"
	return &ChatCompletion{
		ID:      "chatcmpl-" + uuid.NewString(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []ChatChoice{{
			Message:      &ChatMessage{Role: "assistant", Content: content},
			FinishReason: &stop,
		}},
	}
}

// EventStream renders the completion as server-sent events: one content
// chunk, one finish chunk and the [DONE] marker.
func (c *ChatCompletion) EventStream() ([]byte, error) {
	var buf bytes.Buffer
	stop := "stop"
	content := ""
	if len(c.Choices) > 0 && c.Choices[0].Message != nil {
		content = c.Choices[0].Message.Content
	}

	chunks := []ChatChoice{
		{Delta: &ChatMessage{Role: "assistant", Content: content}},
		{Delta: &ChatMessage{}, FinishReason: &stop},
	}
	for _, choice := range chunks {
		chunk := ChatCompletion{
			ID:      c.ID,
			Object:  "chat.completion.chunk",
			Created: c.Created,
			Model:   c.Model,
			Choices: []ChatChoice{choice},
		}
		encoded, err := json.Marshal(chunk)
		if err != nil {
			return nil, fmt.Errorf("encode chunk: %w", err)
		}
		buf.WriteString("data: ")
		buf.Write(encoded)
		buf.WriteString("\n\n")
	}
	buf.WriteString("data: [DONE]\n\n")
	return buf.Bytes(), nil
}

// RunPodChat relays chat to the OpenAI-compatible route of a RunPod endpoint.
type RunPodChat struct {
	Client     *runpod.Client
	EndpointID string
}

func (c *RunPodChat) Name() string { return "runpod" }

func (c *RunPodChat) Configured() bool {
	return c != nil && c.Client.Configured() && strings.TrimSpace(c.EndpointID) != ""
}

// Invoke streams the upstream body when the client asked for a stream.
// Otherwise the body is buffered and checked for at least one choice so a
// broken payload falls through to the next candidate.
func (c *RunPodChat) Invoke(ctx context.Context, req *Request) (*Response, error) {
	if req.Chat == nil {
		return nil, malformed("chat request is required")
	}

	resp, err := c.Client.ChatCompletions(ctx, c.EndpointID, req.Chat.Raw)
	if err != nil {
		return nil, err
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = contentTypeJSON
	}

	if req.Chat.Stream {
		return &Response{Status: resp.StatusCode, ContentType: contentType, Body: resp.Body}, nil
	}

	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxChatResponse))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var probe struct {
		Choices []json.RawMessage `json:"choices"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, &backend.MalformedResponseError{Provider: c.Name(), Reason: "decode response", Err: err}
	}
	if len(probe.Choices) == 0 {
		return nil, &backend.MalformedResponseError{Provider: c.Name(), Reason: "no choices"}
	}

	return &Response{Status: resp.StatusCode, ContentType: contentType, Body: io.NopCloser(bytes.NewReader(raw))}, nil
}

// OpenRouterChat answers chat through OpenRouter with a different model.
// Its reply is reshaped into the canonical completion, or into an event
// stream when the client asked for one.
type OpenRouterChat struct {
	Client     *openrouter.Client
	ModelLabel string
}

func (c *OpenRouterChat) Name() string { return "openrouter" }

func (c *OpenRouterChat) Configured() bool {
	return c != nil && c.Client.Configured()
}

func (c *OpenRouterChat) Invoke(ctx context.Context, req *Request) (*Response, error) {
	if req.Chat == nil {
		return nil, malformed("chat request is required")
	}

	completion, err := c.Client.Complete(ctx, &openrouter.Request{
		Messages:  req.Chat.Messages,
		MaxTokens: req.Chat.MaxTokens,
	})
	if err != nil {
		return nil, err
	}

	label := c.ModelLabel
	if label == "" {
		label = DefaultFallbackModelLabel
	}
	canonical := NewChatCompletion(label, completion.Content)

	if !req.Chat.Stream {
		return &Response{Status: http.StatusOK, ContentType: contentTypeJSON, Payload: canonical}, nil
	}

	stream, err := canonical.EventStream()
	if err != nil {
		return nil, err
	}
	return &Response{Status: http.StatusOK, ContentType: contentTypeSSE, Body: io.NopCloser(bytes.NewReader(stream))}, nil
}

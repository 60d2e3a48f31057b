package openrouter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nmtlab/nmtgate/internal/backend"
)

func userMessage(text string) []json.RawMessage {
	raw, _ := json.Marshal(map[string]string{"role": "user", "content": text})
	return []json.RawMessage{raw}
}

func TestClientRequiresAPIKey(t *testing.T) {
	client := NewClient("", "")
	require.False(t, client.Configured())

	_, err := client.Complete(context.Background(), &Request{Messages: userMessage("hi")})
	require.Error(t, err)
	require.Contains(t, err.Error(), "api key")
}

func TestClientSendsRequestAndParsesResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer or-key", r.Header.Get("Authorization"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		var payload map[string]any
		require.NoError(t, json.Unmarshal(body, &payload))
		require.Equal(t, defaultModel, payload["model"])
		require.EqualValues(t, defaultMaxTokens, payload["max_tokens"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"google/gemini-2.0-flash-001","choices":[{"message":{"role":"assistant","content":"hello there"},"finish_reason":"stop"}]}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "or-key")
	client.HTTPClient = server.Client()

	resp, err := client.Complete(context.Background(), &Request{Messages: userMessage("hi")})
	require.NoError(t, err)
	require.Equal(t, "hello there", resp.Content)
	require.Equal(t, "stop", resp.FinishReason)
}

func TestClientHonorsMaxTokens(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		require.EqualValues(t, 42, payload["max_tokens"])
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "or-key")
	client.HTTPClient = server.Client()

	_, err := client.Complete(context.Background(), &Request{Messages: userMessage("hi"), MaxTokens: 42})
	require.NoError(t, err)
}

func TestClientErrorsOnNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	}))
	defer server.Close()

	client := NewClient(server.URL, "or-key")
	client.HTTPClient = server.Client()

	_, err := client.Complete(context.Background(), &Request{Messages: userMessage("hi")})
	var perr *backend.ProviderError
	require.True(t, errors.As(err, &perr))
	require.Equal(t, http.StatusBadGateway, perr.StatusCode)
	require.Equal(t, backend.ReasonUnavailable, backend.Classify(err))
}

func TestClientRejectsEmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "or-key")
	client.HTTPClient = server.Client()

	_, err := client.Complete(context.Background(), &Request{Messages: userMessage("hi")})
	require.Equal(t, backend.ReasonMalformed, backend.Classify(err))
}

func TestClientTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	client := NewClient(server.URL, "or-key")
	client.HTTPClient = server.Client()
	client.Timeout = 50 * time.Millisecond

	_, err := client.Complete(context.Background(), &Request{Messages: userMessage("hi")})
	require.Error(t, err)
	require.Equal(t, backend.ReasonTimeout, backend.Classify(err))
}

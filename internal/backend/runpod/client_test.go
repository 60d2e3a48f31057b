package runpod

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nmtlab/nmtgate/internal/backend"
)

func TestEndpointNotConfiguredWithoutKey(t *testing.T) {
	client := NewClient("", "")
	require.False(t, client.Endpoint("abc").Configured())

	client = NewClient("", "key")
	require.False(t, client.Endpoint(" ").Configured())
	require.True(t, client.Endpoint("abc").Configured())
}

func TestSubmitSendsInputEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/ep1/run", r.URL.Path)
		require.Equal(t, "Bearer rp-key", r.Header.Get("Authorization"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var payload map[string]map[string]any
		require.NoError(t, json.Unmarshal(body, &payload))
		require.Equal(t, "hello", payload["input"]["text"])

		_, _ = w.Write([]byte(`{"id":"job-1","status":"IN_QUEUE"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "rp-key")
	client.HTTPClient = server.Client()

	sub, err := client.Endpoint("ep1").Submit(context.Background(), map[string]any{"text": "hello"})
	require.NoError(t, err)
	require.Equal(t, "job-1", sub.JobID)
	require.Equal(t, backend.JobPending, sub.State)
}

func TestSyncSubmitReturnsInlineOutput(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/stt/runsync", r.URL.Path)
		_, _ = w.Write([]byte(`{"id":"job-2","status":"COMPLETED","output":{"text":"konnichiwa"}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "rp-key")
	client.HTTPClient = server.Client()

	sub, err := client.Endpoint("stt", WithSyncSubmit(), WithLabel("whisper")).Submit(context.Background(), map[string]any{})
	require.NoError(t, err)
	require.Equal(t, backend.JobCompleted, sub.State)
	require.JSONEq(t, `{"text":"konnichiwa"}`, string(sub.Output))
}

func TestSubmitWithoutJobIDIsMalformed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"IN_QUEUE"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "rp-key")
	client.HTTPClient = server.Client()

	_, err := client.Endpoint("ep1").Submit(context.Background(), map[string]any{})
	var malformed *backend.MalformedResponseError
	require.True(t, errors.As(err, &malformed))
	require.Equal(t, backend.ReasonMalformed, backend.Classify(err))
}

func TestPollMapsStatuses(t *testing.T) {
	cases := map[string]struct {
		body  string
		state backend.JobState
		err   string
	}{
		"queued":      {`{"status":"IN_QUEUE"}`, backend.JobPending, ""},
		"in progress": {`{"status":"IN_PROGRESS"}`, backend.JobPending, ""},
		"completed":   {`{"status":"COMPLETED","output":{"audio":"AAA"}}`, backend.JobCompleted, ""},
		"failed":      {`{"status":"FAILED","error":"out of memory"}`, backend.JobFailed, "out of memory"},
		"timed out":   {`{"status":"TIMED_OUT","output":{"detail":"x"}}`, backend.JobFailed, `{"detail":"x"}`},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, "/ep1/status/job-9", r.URL.Path)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer server.Close()

			client := NewClient(server.URL, "rp-key")
			client.HTTPClient = server.Client()

			status, err := client.Endpoint("ep1").Poll(context.Background(), "job-9")
			require.NoError(t, err)
			require.Equal(t, tc.state, status.State)
			require.Equal(t, tc.err, status.Error)
		})
	}
}

func TestPollErrorsOnNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("busy"))
	}))
	defer server.Close()

	client := NewClient(server.URL, "rp-key")
	client.HTTPClient = server.Client()

	_, err := client.Endpoint("ep1").Poll(context.Background(), "job-1")
	var perr *backend.ProviderError
	require.True(t, errors.As(err, &perr))
	require.Equal(t, http.StatusServiceUnavailable, perr.StatusCode)
	require.Equal(t, "busy", perr.Message)
}

func TestHealthSumsWorkers(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/llm/health", r.URL.Path)
		_, _ = w.Write([]byte(`{"workers":{"idle":1,"ready":2,"running":3,"initializing":1},"jobs":{"inQueue":4}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "rp-key")
	client.HTTPClient = server.Client()

	health, err := client.Health(context.Background(), "llm")
	require.NoError(t, err)
	require.Equal(t, 6, health.Ready)
	require.Equal(t, 1, health.Initializing)
	require.Equal(t, 4, health.InQueue)
}

func TestChatCompletionsLeavesBodyOpen(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/llm/openai/v1/chat/completions", r.URL.Path)
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("data: {}\n\ndata: [DONE]\n\n"))
	}))
	defer server.Close()

	client := NewClient(server.URL, "rp-key")
	client.HTTPClient = server.Client()

	resp, err := client.ChatCompletions(context.Background(), "llm", []byte(`{"messages":[]}`))
	require.NoError(t, err)
	defer resp.Body.Close() // nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "[DONE]")
}

func TestChatCompletionsNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewClient(server.URL, "rp-key")
	client.HTTPClient = server.Client()

	_, err := client.ChatCompletions(context.Background(), "llm", []byte(`{}`))
	require.Error(t, err)
	require.Equal(t, backend.ReasonRateLimited, backend.Classify(err))
}

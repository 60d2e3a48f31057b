package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nmtlab/nmtgate/internal/backend"
	"github.com/nmtlab/nmtgate/internal/backend/openrouter"
	"github.com/nmtlab/nmtgate/internal/backend/runpod"
	"github.com/nmtlab/nmtgate/internal/keystore"
)

const chatBody = `{"messages":[{"role":"user","content":"こんにちは"}],"max_tokens":64}`

type chatFixture struct {
	dispatcher *Dispatcher
	token      string
	primary    *httptest.Server
	fallback   *httptest.Server
}

func newChatFixture(t *testing.T, primary, fallback http.HandlerFunc) *chatFixture {
	t.Helper()

	keys, err := keystore.NewFileStore(filepath.Join(t.TempDir(), "api-keys.json"))
	require.NoError(t, err)
	cred, err := keys.Create(context.Background(), "e2e")
	require.NoError(t, err)

	fx := &chatFixture{token: cred.Token}
	fx.primary = httptest.NewServer(primary)
	t.Cleanup(fx.primary.Close)
	fx.fallback = httptest.NewServer(fallback)
	t.Cleanup(fx.fallback.Close)

	rp := runpod.NewClient(fx.primary.URL, "rp-key")
	rp.HTTPClient = fx.primary.Client()
	fb := openrouter.NewClient(fx.fallback.URL, "or-key")
	fb.HTTPClient = fx.fallback.Client()

	fx.dispatcher = &Dispatcher{
		Keys:    keys,
		Limiter: NewRateLimiter(RateLimitConfig{}),
		Router:  NewRouter(zap.NewNop()),
		Logger:  zap.NewNop(),
		ChatAttempts: []Attempt{
			{Candidate: &RunPodChat{Client: rp, EndpointID: "llm"}, Timeout: 20 * time.Second},
			{Candidate: &OpenRouterChat{Client: fb}, Timeout: 30 * time.Second},
		},
	}
	return fx
}

func healthyFallback(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"fallback answer"},"finish_reason":"stop"}]}`))
	}
}

func failingPrimary(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusInternalServerError)
	_, _ = w.Write([]byte(`{"error":"worker crashed"}`))
}

func TestPublicChatRequiresBearerToken(t *testing.T) {
	fx := newChatFixture(t, failingPrimary, healthyFallback(t))

	_, err := fx.dispatcher.PublicChat(context.Background(), "", []byte(chatBody))
	require.ErrorIs(t, err, ErrUnauthenticated)
	require.Contains(t, err.Error(), "Missing API key")
}

func TestPublicChatRejectsUnknownToken(t *testing.T) {
	fx := newChatFixture(t, failingPrimary, healthyFallback(t))

	_, err := fx.dispatcher.PublicChat(context.Background(), "Bearer nmt_notarealkeynotarealkey00", []byte(chatBody))
	require.ErrorIs(t, err, ErrInvalidCredential)
}

func TestPublicChatRateLimitsSixtyFirstRequest(t *testing.T) {
	fx := newChatFixture(t, failingPrimary, healthyFallback(t))
	ctx := context.Background()

	for i := 0; i < 60; i++ {
		_, err := fx.dispatcher.Authorize(ctx, "Bearer "+fx.token)
		require.NoError(t, err, "request %d", i+1)
	}

	_, err := fx.dispatcher.PublicChat(ctx, "Bearer "+fx.token, []byte(chatBody))
	require.ErrorIs(t, err, ErrRateLimited)

	var gerr *Error
	require.ErrorAs(t, err, &gerr)
	require.Equal(t, 60*time.Second, gerr.RetryAfter)
	require.Equal(t, "Rate limit exceeded (60 req/min)", gerr.Message)
}

func TestPublicChatFallsBackWhenPrimaryFails(t *testing.T) {
	fx := newChatFixture(t, failingPrimary, healthyFallback(t))

	resp, err := fx.dispatcher.PublicChat(context.Background(), "bearer "+fx.token, []byte(chatBody))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.Status)
	require.Equal(t, "openrouter", resp.Backend)

	completion, ok := resp.Payload.(*ChatCompletion)
	require.True(t, ok)
	require.Equal(t, DefaultFallbackModelLabel, completion.Model)
	require.Len(t, completion.Choices, 1)
	require.Equal(t, "assistant", completion.Choices[0].Message.Role)
	require.Equal(t, "fallback answer", completion.Choices[0].Message.Content)
	require.Equal(t, "stop", *completion.Choices[0].FinishReason)
}

func TestPublicChatRelaysPrimaryStream(t *testing.T) {
	primary := func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/llm/openai/v1/chat/completions", r.URL.Path)
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.JSONEq(t, `{"messages":[{"role":"user","content":"hi"}],"stream":true}`, string(body))

		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("data: {\"choices\":[]}\n\ndata: [DONE]\n\n"))
	}
	fx := newChatFixture(t, primary, healthyFallback(t))

	resp, err := fx.dispatcher.PublicChat(context.Background(), "Bearer "+fx.token, []byte(`{"messages":[{"role":"user","content":"hi"}],"stream":true}`))
	require.NoError(t, err)
	defer resp.Close() // nolint:errcheck

	require.Equal(t, "runpod", resp.Backend)
	require.Equal(t, "text/event-stream", resp.ContentType)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "[DONE]")
}

func TestPublicChatSynthesizesStreamFromFallback(t *testing.T) {
	fx := newChatFixture(t, failingPrimary, healthyFallback(t))

	resp, err := fx.dispatcher.PublicChat(context.Background(), "Bearer "+fx.token, []byte(`{"messages":[{"role":"user","content":"hi"}],"stream":true}`))
	require.NoError(t, err)
	defer resp.Close() // nolint:errcheck

	require.Equal(t, contentTypeSSE, resp.ContentType)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "fallback answer")
	require.Contains(t, string(body), "data: [DONE]\n\n")
}

func TestPublicChatMalformedBodyNeverReachesBackend(t *testing.T) {
	called := false
	primary := func(w http.ResponseWriter, r *http.Request) { called = true }
	fx := newChatFixture(t, primary, healthyFallback(t))

	_, err := fx.dispatcher.PublicChat(context.Background(), "Bearer "+fx.token, []byte(`{"messages":"nope"}`))
	require.ErrorIs(t, err, ErrMalformedRequest)
	require.Contains(t, err.Error(), "messages")
	require.False(t, called)
}

func TestChatExhaustedWhenBothBackendsFail(t *testing.T) {
	fallback := func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	fx := newChatFixture(t, failingPrimary, fallback)

	_, err := fx.dispatcher.Chat(context.Background(), []byte(chatBody))
	require.ErrorIs(t, err, ErrAllBackendsExhausted)
}

func TestSpeechPassesOutputThrough(t *testing.T) {
	b := &scriptedBackend{name: "cosyvoice", configured: true, polls: []pollStep{completed(`{"audio_base64":"UklG"}`)}}
	d := &Dispatcher{SpeechBackend: b, SpeechPoll: fastPoll}

	resp, err := d.Speech(context.Background(), []byte(`{"text":"hello","mode":"sft"}`))
	require.NoError(t, err)

	encoded, err := json.Marshal(resp.Payload)
	require.NoError(t, err)
	require.JSONEq(t, `{"audio_base64":"UklG"}`, string(encoded))

	input, ok := b.LastInput().(json.RawMessage)
	require.True(t, ok)
	require.JSONEq(t, `{"text":"hello","mode":"sft"}`, string(input))
}

func TestSpeechUnconfiguredIsExhausted(t *testing.T) {
	d := &Dispatcher{SpeechBackend: &scriptedBackend{name: "cosyvoice"}}

	_, err := d.Speech(context.Background(), []byte(`{"text":"hello"}`))
	require.ErrorIs(t, err, ErrAllBackendsExhausted)
	require.ErrorIs(t, err, ErrBackendUnconfigured)
}

func TestTranscribeNormalizesText(t *testing.T) {
	b := &scriptedBackend{
		name:       "whisper",
		configured: true,
		submit:     &backend.Submission{State: backend.JobCompleted, Output: json.RawMessage(`{"transcription":"おはよう"}`)},
	}
	d := &Dispatcher{Transcriber: b, TranscribePoll: fastPoll}

	resp, err := d.Transcribe(context.Background(), []byte{0x1a, 0x45, 0xdf, 0xa3})
	require.NoError(t, err)
	require.Equal(t, Transcription{Text: "おはよう"}, resp.Payload)

	input := b.LastInput().(map[string]any)
	require.Equal(t, "GkXfow==", input["audio_base64"])
	require.Equal(t, "large-v3-turbo", input["model"])
	require.Equal(t, "ja", input["language"])
}

func TestTranscribeRejectsEmptyAudio(t *testing.T) {
	d := &Dispatcher{}
	_, err := d.Transcribe(context.Background(), nil)
	require.ErrorIs(t, err, ErrMalformedRequest)
}

func TestMusicSelectsEndpointAndClampsInput(t *testing.T) {
	b := &scriptedBackend{name: "ace-step", configured: true, polls: []pollStep{pending(), completed(`{"audio_base64":"SUQz"}`)}}

	var selected string
	d := &Dispatcher{
		MusicBackend: func(endpointID string) backend.AsyncBackend {
			selected = endpointID
			return b
		},
		DefaultMusicEndpoint: "default-ep",
		MusicPoll:            fastPoll,
	}

	resp, err := d.Music(context.Background(), "header-ep", []byte(`{"prompt":"lofi","duration":400,"instrumental":false}`))
	require.NoError(t, err)
	require.Equal(t, "header-ep", selected)
	require.Equal(t, MusicClip{AudioBase64: "SUQz", Format: "mp3"}, resp.Payload)

	input := b.LastInput().(map[string]any)
	require.Equal(t, float64(120), input["duration"])
	require.Equal(t, false, input["instrumental"])
	require.Equal(t, "mp3", input["format"])

	_, err = d.Music(context.Background(), "", []byte(`{}`))
	require.NoError(t, err)
	require.Equal(t, "default-ep", selected)
}

func TestMusicWithoutEndpointIsUnconfigured(t *testing.T) {
	d := &Dispatcher{MusicBackend: func(string) backend.AsyncBackend { return nil }}

	_, err := d.Music(context.Background(), "", []byte(`{"prompt":"x"}`))
	require.ErrorIs(t, err, ErrBackendUnconfigured)
}

func TestMusicInputDefaults(t *testing.T) {
	input := MusicInput(map[string]any{"duration": json.Number("2")})
	require.Equal(t, float64(5), input["duration"])
	require.Equal(t, true, input["instrumental"])

	input = MusicInput(map[string]any{"duration": "abc"})
	require.Equal(t, float64(30), input["duration"])

	long := make([]rune, 600)
	for i := range long {
		long[i] = 'a'
	}
	input = MusicInput(map[string]any{"prompt": string(long)})
	require.Len(t, input["prompt"], 500)
}

func TestBearerToken(t *testing.T) {
	require.Equal(t, "nmt_abc", BearerToken("Bearer nmt_abc"))
	require.Equal(t, "nmt_abc", BearerToken("bearer   nmt_abc "))
	require.Equal(t, "", BearerToken("Bearer "))
	require.Equal(t, "", BearerToken(""))
}

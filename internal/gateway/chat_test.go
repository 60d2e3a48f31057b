package gateway

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseChatRequest(t *testing.T) {
	req, err := ParseChatRequest([]byte(`{"model":"x","messages":[{"role":"user","content":"hi"}],"max_tokens":10,"stream":true,"temperature":0.2}`))
	require.NoError(t, err)
	require.Len(t, req.Messages, 1)
	require.Equal(t, 10, req.MaxTokens)
	require.True(t, req.Stream)
	require.Contains(t, string(req.Raw), "temperature")
}

func TestParseChatRequestRejects(t *testing.T) {
	cases := map[string]string{
		"empty":         ``,
		"not json":      `{"messages":`,
		"no messages":   `{}`,
		"empty array":   `{"messages":[]}`,
		"missing role":  `{"messages":[{"content":"hi"}]}`,
		"bad max":       `{"messages":[{"role":"user"}],"max_tokens":0}`,
		"string stream": `{"messages":[{"role":"user"}],"stream":"yes"}`,
	}

	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseChatRequest([]byte(body))
			require.ErrorIs(t, err, ErrMalformedRequest)
		})
	}
}

func TestEventStreamFraming(t *testing.T) {
	completion := NewChatCompletion("m", "hello")
	stream, err := completion.EventStream()
	require.NoError(t, err)

	events := strings.Split(strings.TrimSuffix(string(stream), "\n\n"), "\n\n")
	require.Len(t, events, 3)
	require.Equal(t, "data: [DONE]", events[2])

	var first ChatCompletion
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(events[0], "data: ")), &first))
	require.Equal(t, "chat.completion.chunk", first.Object)
	require.Equal(t, completion.ID, first.ID)
	require.Equal(t, "hello", first.Choices[0].Delta.Content)
	require.Nil(t, first.Choices[0].FinishReason)

	var last ChatCompletion
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(events[1], "data: ")), &last))
	require.Equal(t, "stop", *last.Choices[0].FinishReason)
}

func TestGatewayErrorMatching(t *testing.T) {
	err := &Error{Kind: KindRateLimited, Message: "slow down"}
	require.ErrorIs(t, err, ErrRateLimited)
	require.NotErrorIs(t, err, ErrUnauthenticated)
	require.Equal(t, "slow down", err.Error())
	require.Equal(t, KindRateLimited, KindOf(err))
	require.Equal(t, Kind(""), KindOf(nil))
}

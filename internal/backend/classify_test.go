package backend

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{name: "deadline", err: fmt.Errorf("wrapped: %w", context.DeadlineExceeded), want: ReasonTimeout},
		{name: "canceled", err: context.Canceled, want: ReasonCanceled},
		{name: "auth", err: &ProviderError{Provider: "runpod", StatusCode: 401}, want: ReasonAuth},
		{name: "rate", err: &ProviderError{Provider: "runpod", StatusCode: 429}, want: ReasonRateLimited},
		{name: "5xx", err: &ProviderError{Provider: "runpod", StatusCode: 503}, want: ReasonUnavailable},
		{name: "4xx", err: &ProviderError{Provider: "runpod", StatusCode: 404}, want: ReasonBadRequest},
		{name: "malformed", err: &MalformedResponseError{Provider: "openrouter", Reason: "no choices"}, want: ReasonMalformed},
		{name: "transport", err: errors.New("connection refused"), want: ReasonTransport},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Classify(tc.err))
		})
	}
}

func TestProviderErrorMessage(t *testing.T) {
	err := &ProviderError{Provider: "runpod", StatusCode: 500, Message: "boom"}
	require.Equal(t, "runpod request failed: status 500: boom", err.Error())

	err = &ProviderError{Provider: "runpod", Message: "no job id"}
	require.Equal(t, "runpod request failed: no job id", err.Error())
}

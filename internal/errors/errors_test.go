package errors

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fulmenhq/gofulmen/telemetry"
	telemetrytesting "github.com/fulmenhq/gofulmen/telemetry/testing"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmtlab/nmtgate/internal/gateway"
	"github.com/nmtlab/nmtgate/internal/metrics"
	"github.com/nmtlab/nmtgate/internal/observability"
)

func respond(t *testing.T, err error) (*httptest.ResponseRecorder, HTTPErrorResponse) {
	t.Helper()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	RespondWithError(rec, req, err)

	var body HTTPErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body
}

func TestGatewayKindsMapToStatusAndType(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		typ    string
	}{
		{"unauthenticated", &gateway.Error{Kind: gateway.KindUnauthenticated, Message: "Missing API key"}, http.StatusUnauthorized, TypeAuthentication},
		{"invalid credential", &gateway.Error{Kind: gateway.KindInvalidCredential, Message: "Invalid API key"}, http.StatusUnauthorized, TypeAuthentication},
		{"rate limited", &gateway.Error{Kind: gateway.KindRateLimited, Message: "slow", RetryAfter: time.Minute}, http.StatusTooManyRequests, TypeRateLimit},
		{"malformed", &gateway.Error{Kind: gateway.KindMalformedRequest, Message: "messages: missing"}, http.StatusBadRequest, TypeInvalidRequest},
		{"job failed", &gateway.Error{Kind: gateway.KindBackendJobFailed, Message: "job failed"}, http.StatusBadGateway, TypeServer},
		{"timeout", &gateway.Error{Kind: gateway.KindBackendTimeout, Message: "too slow"}, http.StatusBadGateway, TypeServer},
		{"exhausted", &gateway.Error{Kind: gateway.KindAllBackendsExhausted, Message: "all chat backends failed", Err: errors.New("status 500")}, http.StatusServiceUnavailable, TypeServer},
		{"unconfigured", &gateway.Error{Kind: gateway.KindAllBackendsExhausted, Message: "no chat backend", Err: gateway.ErrBackendUnconfigured}, http.StatusServiceUnavailable, TypeServer},
		{"plain", errors.New("boom"), http.StatusInternalServerError, TypeServer},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, body := respond(t, tc.err)
			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.typ, body.Error.Type)
			assert.NotEmpty(t, body.Error.Message)
			assert.NotEmpty(t, body.Error.RequestID)
		})
	}
}

func TestRateLimitedSetsRetryAfter(t *testing.T) {
	rec, body := respond(t, &gateway.Error{Kind: gateway.KindRateLimited, Message: "Rate limit exceeded (60 req/min)", RetryAfter: 60 * time.Second})

	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, "Rate limit exceeded (60 req/min)", body.Error.Message)
	assert.Equal(t, CodeRateLimited, body.Error.Code)
}

func TestUnconfiguredHidesInternals(t *testing.T) {
	_, body := respond(t, &gateway.Error{Kind: gateway.KindAllBackendsExhausted, Message: "no chat backend is configured", Err: gateway.ErrBackendUnconfigured})
	assert.Equal(t, "Service temporarily unavailable", body.Error.Message)
}

func TestExhaustedKeepsTransportDetail(t *testing.T) {
	_, body := respond(t, &gateway.Error{Kind: gateway.KindAllBackendsExhausted, Message: "all chat backends failed", Err: errors.New("openrouter request failed: status 502")})
	assert.Equal(t, "all chat backends failed", body.Error.Message)
	assert.Equal(t, "openrouter request failed: status 502", body.Error.Details["wrapped_error"])
}

func TestEnsureEnvelopePassesEnvelopesThrough(t *testing.T) {
	env := NewNotFoundError("not found")
	assert.Same(t, env, EnsureEnvelope(context.Background(), env))
	assert.Equal(t, http.StatusNotFound, HTTPStatusFromEnvelope(env))
	assert.Equal(t, http.StatusRequestEntityTooLarge, HTTPStatusFromCode(CodePayloadTooLarge))
}

func TestGatewayKindReportedInDetails(t *testing.T) {
	cases := []struct {
		err  *gateway.Error
		kind gateway.Kind
	}{
		{&gateway.Error{Kind: gateway.KindUnauthenticated, Message: "Missing API key"}, gateway.KindUnauthenticated},
		{&gateway.Error{Kind: gateway.KindInvalidCredential, Message: "Invalid API key"}, gateway.KindInvalidCredential},
		{&gateway.Error{Kind: gateway.KindBackendUnconfigured, Message: "speech backend not configured"}, gateway.KindBackendUnconfigured},
		{&gateway.Error{Kind: gateway.KindAllBackendsExhausted, Message: "all chat backends failed", Err: errors.New("status 500")}, gateway.KindAllBackendsExhausted},
	}

	for _, tc := range cases {
		t.Run(string(tc.kind), func(t *testing.T) {
			_, body := respond(t, tc.err)
			assert.Equal(t, string(tc.kind), body.Error.Details["kind"])
		})
	}

	rec, body := respond(t, &gateway.Error{Kind: gateway.KindRateLimited, Message: "slow", RetryAfter: time.Minute})
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, string(gateway.KindRateLimited), body.Error.Details["kind"])
	assert.EqualValues(t, 60, body.Error.Details["retry_after_seconds"])
}

func TestErrorMetricsUseRoutePatternAndKind(t *testing.T) {
	collector := telemetrytesting.NewFakeCollector()
	sys, err := telemetry.NewSystem(&telemetry.Config{Enabled: true, Emitter: collector})
	require.NoError(t, err)
	original := observability.TelemetrySystem
	observability.TelemetrySystem = sys
	t.Cleanup(func() { observability.TelemetrySystem = original })

	router := chi.NewRouter()
	router.Get("/api/share/{id}", func(w http.ResponseWriter, r *http.Request) {
		RespondWithError(w, r, &gateway.Error{Kind: gateway.KindBackendUnconfigured, Message: "not configured"})
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/share/abc123", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	byEndpoint := collector.GetMetricsByName(metrics.ErrorsByEndpointName)
	require.Len(t, byEndpoint, 1)
	assert.Equal(t, "/api/share/{id}", byEndpoint[0].Tags["endpoint"])

	totals := collector.GetMetricsByName(metrics.ErrorsTotalName)
	require.Len(t, totals, 1)
	assert.Equal(t, string(gateway.KindBackendUnconfigured), totals[0].Tags["kind"])
}

package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serveRequestID(t *testing.T, handler func(http.Handler) http.Handler, header string) (string, string) {
	t.Helper()

	var seen string
	h := handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	if header != "" {
		req.Header.Set(RequestIDHeader, header)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return seen, rec.Header().Get(RequestIDHeader)
}

func TestRequestIDReplacesUnsafeClientIDs(t *testing.T) {
	unsafe := []string{
		"req-1\r\nX-Injected: yes",
		"req id with spaces",
		strings.Repeat("a", maxRequestIDLength+1),
	}

	for _, id := range unsafe {
		seen, echoed := serveRequestID(t, RequestID, id)
		assert.Equal(t, seen, echoed)
		_, err := uuid.Parse(echoed)
		require.NoError(t, err, "expected a generated id for %q", id)
	}
}

func TestRequestIDKeepsSafeClientIDs(t *testing.T) {
	for _, id := range []string{"req-123", "trace:abc/01.2", strings.Repeat("b", maxRequestIDLength)} {
		seen, echoed := serveRequestID(t, RequestID, id)
		assert.Equal(t, id, seen)
		assert.Equal(t, id, echoed)
	}
}

func TestRequestIDPrefersChiID(t *testing.T) {
	chained := func(next http.Handler) http.Handler {
		return chimw.RequestID(RequestID(next))
	}

	seen, echoed := serveRequestID(t, chained, "")
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, echoed)
	assert.Contains(t, seen, "/")
}

package metrics

import (
	"strconv"

	"github.com/nmtlab/nmtgate/internal/observability"
)

// Error metric names
const (
	ErrorsTotalName      = "errors_total"
	PanicsTotalName      = "panics_total"
	ErrorsByEndpointName = "errors_by_endpoint"
)

// KindNone labels errors that did not come from the gateway taxonomy.
const KindNone = "none"

// RecordError counts an error response. kind is the gateway failure kind, or
// empty for plain HTTP errors such as 404s.
func RecordError(errorCode string, httpStatus int, kind string) {
	if kind == "" {
		kind = KindNone
	}
	count(ErrorsTotalName, map[string]string{
		"error_code":  errorCode,
		"http_status": strconv.Itoa(httpStatus),
		"kind":        kind,
	})
}

// RecordPanic counts a recovered handler panic on a route pattern.
func RecordPanic(endpoint string) {
	count(PanicsTotalName, map[string]string{"endpoint": endpoint})
}

// RecordErrorByEndpoint counts an error against a route pattern. Raw paths
// carry share ids and media names, so callers pass the pattern.
func RecordErrorByEndpoint(endpoint string, errorCode string) {
	count(ErrorsByEndpointName, map[string]string{
		"endpoint":   endpoint,
		"error_code": errorCode,
	})
}

func count(name string, labels map[string]string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(name, 1, labels)
	}
}

package metrics

import (
	"strconv"
	"time"

	"github.com/nmtlab/nmtgate/internal/observability"
)

// Gateway metric names
const (
	BackendAttemptsTotal   = "gateway_backend_attempts_total"
	BackendAttemptDuration = "gateway_backend_attempt_duration_ms"
	JobPollsTotal          = "gateway_job_polls_total"
	JobsTotal              = "gateway_jobs_total"
	JobDuration            = "gateway_job_duration_ms"
	RateLimitedTotal       = "gateway_rate_limited_total"
	AuthFailuresTotal      = "gateway_auth_failures_total"
)

// Outcome labels
const (
	OutcomeSuccess  = "success"
	OutcomeFailed   = "failed"
	OutcomeError    = "error"
	OutcomeTimeout  = "timeout"
	OutcomeCanceled = "canceled"
)

// RecordBackendAttempt records one fallback-chain attempt against a backend.
func RecordBackendAttempt(capability, backend, outcome, reason string, duration time.Duration) {
	if observability.TelemetrySystem == nil {
		return
	}

	labels := map[string]string{
		"capability": capability,
		"backend":    backend,
		"outcome":    outcome,
	}
	if reason != "" {
		labels["reason"] = reason
	}
	_ = observability.TelemetrySystem.Counter(BackendAttemptsTotal, 1, labels)
	_ = observability.TelemetrySystem.Histogram(BackendAttemptDuration, duration, map[string]string{
		"capability": capability,
		"backend":    backend,
	})
}

// RecordJobPoll records a single status call for an asynchronous job.
func RecordJobPoll(backend string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(JobPollsTotal, 1, map[string]string{"backend": backend})
	}
}

// RecordJob records the final outcome of an asynchronous job.
func RecordJob(backend, outcome string, polls int, duration time.Duration) {
	if observability.TelemetrySystem == nil {
		return
	}

	_ = observability.TelemetrySystem.Counter(JobsTotal, 1, map[string]string{
		"backend": backend,
		"outcome": outcome,
		"polled":  strconv.FormatBool(polls > 0),
	})
	_ = observability.TelemetrySystem.Histogram(JobDuration, duration, map[string]string{
		"backend": backend,
		"outcome": outcome,
	})
}

// RecordRateLimited records a rejected public API request.
func RecordRateLimited() {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(RateLimitedTotal, 1, nil)
	}
}

// RecordAuthFailure records a rejected credential by kind.
func RecordAuthFailure(kind string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(AuthFailuresTotal, 1, map[string]string{"kind": kind})
	}
}

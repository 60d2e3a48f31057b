package metrics

import (
	"time"

	"github.com/nmtlab/nmtgate/internal/observability"
)

// Process-level metric names
const (
	HealthCheckTotal    = "app_health_check_total"
	HealthCheckDuration = "app_health_check_duration_ms"
	ServerStartTime     = "app_server_start_time_seconds"
	ShareEventsTotal    = "app_share_events_total"
	MediaUploadsTotal   = "app_media_uploads_total"
	KeyEventsTotal      = "app_key_events_total"
)

// RecordHealthCheck records a health check execution
func RecordHealthCheck(checkName string, healthy bool, duration time.Duration) {
	if observability.TelemetrySystem == nil {
		return
	}

	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}
	_ = observability.TelemetrySystem.Counter(HealthCheckTotal, 1, map[string]string{
		"check":  checkName,
		"status": status,
	})
	_ = observability.TelemetrySystem.Histogram(HealthCheckDuration, duration, map[string]string{
		"check": checkName,
	})
}

// SetServerStartTime records the server start time (Unix timestamp)
func SetServerStartTime(timestamp int64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(ServerStartTime, float64(timestamp), nil)
	}
}

// RecordShareEvent counts share creations ("created") and views ("played").
func RecordShareEvent(event string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(ShareEventsTotal, 1, map[string]string{"event": event})
	}
}

// RecordMediaUpload counts accepted and rejected blob uploads.
func RecordMediaUpload(kind string, accepted bool) {
	if observability.TelemetrySystem == nil {
		return
	}
	status := "accepted"
	if !accepted {
		status = "rejected"
	}
	_ = observability.TelemetrySystem.Counter(MediaUploadsTotal, 1, map[string]string{
		"kind":   kind,
		"status": status,
	})
}

// RecordKeyEvent counts API key administration ("created", "revoked").
func RecordKeyEvent(event string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(KeyEventsTotal, 1, map[string]string{"event": event})
	}
}

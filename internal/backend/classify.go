package backend

import (
	"context"
	"errors"
)

// Failure reasons reported for a failed backend attempt.
const (
	ReasonTimeout      = "timeout"
	ReasonCanceled     = "canceled"
	ReasonAuth         = "auth"
	ReasonRateLimited  = "rate_limited"
	ReasonUnavailable  = "unavailable"
	ReasonBadRequest   = "bad_request"
	ReasonStatus       = "status"
	ReasonMalformed    = "malformed_payload"
	ReasonTransport    = "transport"
	ReasonUnconfigured = "unconfigured"
)

// Classify maps an adapter error to a short, low-cardinality reason label.
func Classify(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}
	if errors.Is(err, context.Canceled) {
		return ReasonCanceled
	}

	var malformed *MalformedResponseError
	if errors.As(err, &malformed) {
		return ReasonMalformed
	}

	var perr *ProviderError
	if errors.As(err, &perr) && perr != nil {
		status := perr.StatusCode
		switch {
		case status == 401 || status == 403:
			return ReasonAuth
		case status == 429:
			return ReasonRateLimited
		case status >= 500 && status <= 599:
			return ReasonUnavailable
		case status >= 400 && status <= 499:
			return ReasonBadRequest
		default:
			return ReasonStatus
		}
	}

	return ReasonTransport
}

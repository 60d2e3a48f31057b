package gateway

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies gateway failures. Each kind maps to one stable error type on
// the wire.
type Kind string

const (
	KindUnauthenticated      Kind = "unauthenticated"
	KindInvalidCredential    Kind = "invalid_credential"
	KindRateLimited          Kind = "rate_limited"
	KindBackendUnconfigured  Kind = "backend_unconfigured"
	KindBackendJobFailed     Kind = "backend_job_failed"
	KindBackendTimeout       Kind = "backend_timeout"
	KindAllBackendsExhausted Kind = "all_backends_exhausted"
	KindMalformedRequest     Kind = "malformed_request"
)

// Error is a classified gateway failure.
type Error struct {
	Kind       Kind
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches sentinel errors of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

// Sentinels for errors.Is comparisons.
var (
	ErrUnauthenticated      = &Error{Kind: KindUnauthenticated}
	ErrInvalidCredential    = &Error{Kind: KindInvalidCredential}
	ErrRateLimited          = &Error{Kind: KindRateLimited}
	ErrBackendUnconfigured  = &Error{Kind: KindBackendUnconfigured}
	ErrBackendJobFailed     = &Error{Kind: KindBackendJobFailed}
	ErrBackendTimeout       = &Error{Kind: KindBackendTimeout}
	ErrAllBackendsExhausted = &Error{Kind: KindAllBackendsExhausted}
	ErrMalformedRequest     = &Error{Kind: KindMalformedRequest}
)

// KindOf returns the kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr.Kind
	}
	return ""
}

func malformed(format string, args ...any) *Error {
	return &Error{Kind: KindMalformedRequest, Message: fmt.Sprintf(format, args...)}
}

package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nmtlab/nmtgate/internal/backend"
	"github.com/nmtlab/nmtgate/internal/metrics"
)

// Capability names a logical gateway function.
type Capability string

const (
	CapabilityChat       Capability = "chat"
	CapabilitySpeech     Capability = "tts"
	CapabilityTranscribe Capability = "stt"
	CapabilityMusic      Capability = "music"
)

// Request is the normalized input handed to candidates.
type Request struct {
	Capability Capability
	Chat       *ChatRequest
	// Input is the job payload for asynchronous capabilities.
	Input any
}

// Response is the canonical result of a capability. Exactly one of Body and
// Payload is set: Body is relayed as-is (streams), Payload is encoded as JSON.
type Response struct {
	Status      int
	ContentType string
	Body        io.ReadCloser
	Payload     any
	Backend     string
}

// Close releases the response body, if any.
func (r *Response) Close() error {
	if r == nil || r.Body == nil {
		return nil
	}
	return r.Body.Close()
}

// Candidate is one backend able to serve a capability.
type Candidate interface {
	Name() string
	Configured() bool
	Invoke(ctx context.Context, req *Request) (*Response, error)
}

// Attempt pairs a candidate with its per-attempt timeout. The timeout bounds
// the time until Invoke returns; a streamed body may outlive it.
type Attempt struct {
	Candidate Candidate
	Timeout   time.Duration
}

// Router tries candidates in order until one succeeds.
type Router struct {
	Logger Logger
}

// NewRouter returns a Router that logs through logger.
func NewRouter(logger Logger) *Router {
	return &Router{Logger: loggerOrNop(logger)}
}

// Dispatch attempts each configured candidate in order and returns the first
// success. Unconfigured candidates are skipped without counting as failures.
// When no candidate succeeds the error has KindAllBackendsExhausted and wraps
// the last failure, or ErrBackendUnconfigured if nothing was attempted.
func (r *Router) Dispatch(ctx context.Context, req *Request, attempts []Attempt) (*Response, error) {
	logger := loggerOrNop(r.Logger)
	capability := string(req.Capability)

	var lastErr error
	attempted := 0
	for _, attempt := range attempts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		candidate := attempt.Candidate
		if candidate == nil || !candidate.Configured() {
			if candidate != nil {
				logger.Debug("Skipping unconfigured backend",
					zap.String("capability", capability),
					zap.String("backend", candidate.Name()))
			}
			continue
		}

		attempted++
		start := time.Now()
		resp, err := invoke(ctx, attempt, req)
		elapsed := time.Since(start)
		if err == nil {
			resp.Backend = candidate.Name()
			metrics.RecordBackendAttempt(capability, candidate.Name(), metrics.OutcomeSuccess, "", elapsed)
			logger.Info("Backend attempt succeeded",
				zap.String("capability", capability),
				zap.String("backend", candidate.Name()),
				zap.Int("attempt", attempted),
				zap.Duration("elapsed", elapsed))
			return resp, nil
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		reason := FailureReason(err)
		metrics.RecordBackendAttempt(capability, candidate.Name(), metrics.OutcomeFailed, reason, elapsed)
		logger.Warn("Backend attempt failed",
			zap.String("capability", capability),
			zap.String("backend", candidate.Name()),
			zap.Int("attempt", attempted),
			zap.String("reason", reason),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		lastErr = err
	}

	if attempted == 0 {
		logger.Warn("No backend configured", zap.String("capability", capability))
		return nil, &Error{
			Kind:    KindAllBackendsExhausted,
			Message: fmt.Sprintf("no %s backend is configured", capability),
			Err:     ErrBackendUnconfigured,
		}
	}

	logger.Error("All backends exhausted",
		zap.String("capability", capability),
		zap.Int("attempts", attempted))
	return nil, &Error{
		Kind:    KindAllBackendsExhausted,
		Message: fmt.Sprintf("all %s backends failed", capability),
		Err:     lastErr,
	}
}

// FailureReason returns a short label for a failed attempt.
func FailureReason(err error) string {
	switch KindOf(err) {
	case KindBackendTimeout:
		return backend.ReasonTimeout
	case KindBackendJobFailed:
		return "job_failed"
	case KindBackendUnconfigured:
		return backend.ReasonUnconfigured
	}
	return backend.Classify(err)
}

func invoke(ctx context.Context, attempt Attempt, req *Request) (*Response, error) {
	if attempt.Timeout <= 0 {
		return attempt.Candidate.Invoke(ctx, req)
	}

	attemptCtx, cancel := context.WithCancel(ctx)
	timer := time.AfterFunc(attempt.Timeout, cancel)

	resp, err := attempt.Candidate.Invoke(attemptCtx, req)
	fired := !timer.Stop()
	if err == nil && fired {
		_ = resp.Close()
		err = context.Canceled
	}
	if err != nil {
		cancel()
		if fired && ctx.Err() == nil {
			return nil, &Error{
				Kind:    KindBackendTimeout,
				Message: fmt.Sprintf("%s did not respond within %s", attempt.Candidate.Name(), attempt.Timeout),
				Err:     errors.Join(context.DeadlineExceeded, err),
			}
		}
		return nil, err
	}

	if resp.Body == nil {
		cancel()
		return resp, nil
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// cancelOnClose releases the attempt context once a relayed body is done.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
	once   sync.Once
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.once.Do(c.cancel)
	return err
}

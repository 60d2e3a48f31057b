package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/nmtlab/nmtgate/internal/backend"
)

// scriptedBackend replays a fixed sequence of poll results.
type scriptedBackend struct {
	name       string
	configured bool
	submit     *backend.Submission
	submitErr  error
	polls      []pollStep

	mu        sync.Mutex
	pollCount int
	submits   atomic.Int32
	lastInput any
}

type pollStep struct {
	status *backend.JobStatus
	err    error
}

func pending() pollStep {
	return pollStep{status: &backend.JobStatus{State: backend.JobPending}}
}

func completed(output string) pollStep {
	return pollStep{status: &backend.JobStatus{State: backend.JobCompleted, Output: json.RawMessage(output)}}
}

func failed(payload string) pollStep {
	return pollStep{status: &backend.JobStatus{State: backend.JobFailed, Error: payload}}
}

func transient() pollStep {
	return pollStep{err: errors.New("connection reset")}
}

func (b *scriptedBackend) Name() string     { return b.name }
func (b *scriptedBackend) Configured() bool { return b.configured }

func (b *scriptedBackend) Submit(ctx context.Context, input any) (*backend.Submission, error) {
	b.submits.Add(1)
	b.mu.Lock()
	b.lastInput = input
	b.mu.Unlock()
	if b.submitErr != nil {
		return nil, b.submitErr
	}
	if b.submit != nil {
		return b.submit, nil
	}
	return &backend.Submission{JobID: "job-1", State: backend.JobPending}, nil
}

func (b *scriptedBackend) Poll(ctx context.Context, jobID string) (*backend.JobStatus, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	idx := b.pollCount
	b.pollCount++
	if idx >= len(b.polls) {
		return &backend.JobStatus{State: backend.JobPending}, nil
	}
	step := b.polls[idx]
	return step.status, step.err
}

func (b *scriptedBackend) PollCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pollCount
}

func (b *scriptedBackend) LastInput() any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastInput
}

// fakeCandidate is a chat candidate with a canned outcome.
type fakeCandidate struct {
	name       string
	configured bool
	err        error
	payload    any
	block      bool

	calls atomic.Int32
}

func (c *fakeCandidate) Name() string     { return c.name }
func (c *fakeCandidate) Configured() bool { return c.configured }

func (c *fakeCandidate) Invoke(ctx context.Context, req *Request) (*Response, error) {
	c.calls.Add(1)
	if c.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if c.err != nil {
		return nil, c.err
	}
	return &Response{Status: 200, ContentType: contentTypeJSON, Payload: c.payload}, nil
}

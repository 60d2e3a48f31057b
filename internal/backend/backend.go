package backend

import (
	"context"
	"encoding/json"
)

// JobState is the normalized lifecycle state of an asynchronous backend job.
type JobState string

const (
	JobPending   JobState = "pending"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

// Terminal reports whether the state ends the job.
func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// Submission is the result of starting a job.
//
// A backend that finishes inside the submit call returns a terminal State with
// Output (or Error) populated. Otherwise JobID identifies the job to poll.
type Submission struct {
	JobID  string
	State  JobState
	Output json.RawMessage
	Error  string
}

// JobStatus is a single poll observation.
type JobStatus struct {
	State  JobState
	Output json.RawMessage
	Error  string
}

// AsyncBackend is an inference backend with submit/poll job semantics.
type AsyncBackend interface {
	// Name returns a stable identifier used in logs and metrics.
	Name() string
	// Configured reports whether credentials and endpoint are present.
	Configured() bool
	// Submit starts a job for the given input payload.
	Submit(ctx context.Context, input any) (*Submission, error)
	// Poll returns the current status of a previously submitted job.
	Poll(ctx context.Context, jobID string) (*JobStatus, error)
}

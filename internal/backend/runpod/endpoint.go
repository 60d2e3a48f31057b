package runpod

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/nmtlab/nmtgate/internal/backend"
)

// Endpoint binds a Client to one serverless endpoint and implements
// backend.AsyncBackend.
type Endpoint struct {
	client *Client
	id     string
	label  string
	sync   bool
}

// EndpointOption customizes an Endpoint.
type EndpointOption func(*Endpoint)

// WithLabel sets the name reported in logs and metrics.
func WithLabel(label string) EndpointOption {
	return func(e *Endpoint) {
		e.label = strings.TrimSpace(label)
	}
}

// WithSyncSubmit submits through /runsync, which holds the request open until
// the job finishes or RunPod hands back a job id.
func WithSyncSubmit() EndpointOption {
	return func(e *Endpoint) {
		e.sync = true
	}
}

// Endpoint returns an AsyncBackend for the given endpoint id.
func (c *Client) Endpoint(id string, opts ...EndpointOption) *Endpoint {
	e := &Endpoint{client: c, id: strings.TrimSpace(id)}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ID returns the endpoint id.
func (e *Endpoint) ID() string {
	return e.id
}

// Name implements backend.AsyncBackend.
func (e *Endpoint) Name() string {
	if e.label != "" {
		return e.label
	}
	return providerName
}

// Configured implements backend.AsyncBackend.
func (e *Endpoint) Configured() bool {
	return e != nil && e.client.Configured() && e.id != ""
}

type jobResponse struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  json.RawMessage `json:"error"`
}

// Submit implements backend.AsyncBackend.
func (e *Endpoint) Submit(ctx context.Context, input any) (*backend.Submission, error) {
	path := "run"
	if e.sync {
		path = "runsync"
	}

	var parsed jobResponse
	if err := e.client.doJSON(ctx, http.MethodPost, e.client.endpointURL(e.id, path), map[string]any{"input": input}, &parsed); err != nil {
		return nil, err
	}

	state := mapStatus(parsed.Status)
	if !state.Terminal() && parsed.ID == "" {
		if hasPayload(parsed.Output) {
			state = backend.JobCompleted
		} else {
			return nil, &backend.MalformedResponseError{Provider: providerName, Reason: "no job id"}
		}
	}

	sub := &backend.Submission{JobID: parsed.ID, State: state, Output: parsed.Output}
	if state == backend.JobFailed {
		sub.Error = errorText(parsed.Error, parsed.Output)
	}
	return sub, nil
}

// Poll implements backend.AsyncBackend.
func (e *Endpoint) Poll(ctx context.Context, jobID string) (*backend.JobStatus, error) {
	var parsed jobResponse
	statusURL := e.client.endpointURL(e.id, "status/"+url.PathEscape(jobID))
	if err := e.client.doJSON(ctx, http.MethodGet, statusURL, nil, &parsed); err != nil {
		return nil, err
	}

	status := &backend.JobStatus{State: mapStatus(parsed.Status), Output: parsed.Output}
	if status.State == backend.JobFailed {
		status.Error = errorText(parsed.Error, parsed.Output)
	}
	return status, nil
}

func mapStatus(status string) backend.JobState {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "COMPLETED":
		return backend.JobCompleted
	case "FAILED", "CANCELLED", "TIMED_OUT":
		return backend.JobFailed
	default:
		return backend.JobPending
	}
}

func hasPayload(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return trimmed != "" && trimmed != "null"
}

// errorText renders the job error field, falling back to the output payload
// because some workers report failures there.
func errorText(errRaw, output json.RawMessage) string {
	if hasPayload(errRaw) {
		var text string
		if err := json.Unmarshal(errRaw, &text); err == nil {
			return text
		}
		return strings.TrimSpace(string(errRaw))
	}
	if hasPayload(output) {
		return strings.TrimSpace(string(output))
	}
	return ""
}

package backend

import "fmt"

// ProviderError is returned when a backend responds with a non-2xx status.
//
// Adapters should populate RawResponse with the response body bytes.
// RawResponse must never include API keys.
type ProviderError struct {
	Provider    string
	StatusCode  int
	Message     string
	RawResponse []byte
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "provider error"
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s request failed: status %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s request failed: %s", e.Provider, e.Message)
}

// MalformedResponseError is returned when a backend answers 2xx with a payload
// that cannot be decoded into the expected shape.
type MalformedResponseError struct {
	Provider string
	Reason   string
	Err      error
}

func (e *MalformedResponseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s returned malformed payload: %s: %v", e.Provider, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s returned malformed payload: %s", e.Provider, e.Reason)
}

func (e *MalformedResponseError) Unwrap() error {
	return e.Err
}

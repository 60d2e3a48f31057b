package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nmtlab/nmtgate/internal/backend"
)

var fastPoll = PollConfig{Interval: time.Millisecond, MaxWait: time.Second}

func TestPollerReturnsOutputAfterPolling(t *testing.T) {
	b := &scriptedBackend{
		name:       "tts",
		configured: true,
		polls:      []pollStep{pending(), pending(), completed(`{"audio":"X"}`)},
	}

	out, err := NewPoller(zap.NewNop()).Run(context.Background(), b, map[string]any{"text": "hi"}, fastPoll)
	require.NoError(t, err)
	require.JSONEq(t, `{"audio":"X"}`, string(out))
	require.Equal(t, 3, b.PollCount())
	require.EqualValues(t, 1, b.submits.Load())
}

func TestPollerImmediateResultSkipsPolling(t *testing.T) {
	b := &scriptedBackend{
		name:       "stt",
		configured: true,
		submit:     &backend.Submission{State: backend.JobCompleted, Output: json.RawMessage(`{"text":"ok"}`)},
	}

	out, err := NewPoller(nil).Run(context.Background(), b, nil, fastPoll)
	require.NoError(t, err)
	require.JSONEq(t, `{"text":"ok"}`, string(out))
	require.Zero(t, b.PollCount())
}

func TestPollerTimesOutWhenNeverTerminal(t *testing.T) {
	b := &scriptedBackend{name: "music", configured: true}

	_, err := NewPoller(nil).Run(context.Background(), b, nil, PollConfig{Interval: 2 * time.Millisecond, MaxWait: 30 * time.Millisecond})
	require.ErrorIs(t, err, ErrBackendTimeout)
	require.Equal(t, KindBackendTimeout, KindOf(err))
	require.Positive(t, b.PollCount())
}

func TestPollerJobFailureCarriesPayload(t *testing.T) {
	b := &scriptedBackend{
		name:       "tts",
		configured: true,
		polls:      []pollStep{pending(), failed("CUDA out of memory")},
	}

	_, err := NewPoller(nil).Run(context.Background(), b, nil, fastPoll)
	require.ErrorIs(t, err, ErrBackendJobFailed)
	require.Contains(t, err.Error(), "CUDA out of memory")
	require.Equal(t, 2, b.PollCount())
}

func TestPollerSubmitFailure(t *testing.T) {
	b := &scriptedBackend{
		name:       "tts",
		configured: true,
		submit:     &backend.Submission{JobID: "job-7", State: backend.JobFailed, Error: "bad input"},
	}

	_, err := NewPoller(nil).Run(context.Background(), b, nil, fastPoll)
	require.ErrorIs(t, err, ErrBackendJobFailed)
	require.Contains(t, err.Error(), "bad input")
}

func TestPollerRequiresJobID(t *testing.T) {
	b := &scriptedBackend{
		name:       "tts",
		configured: true,
		submit:     &backend.Submission{State: backend.JobPending},
	}

	_, err := NewPoller(nil).Run(context.Background(), b, nil, fastPoll)
	var malformed *backend.MalformedResponseError
	require.True(t, errors.As(err, &malformed))
}

func TestPollerToleratesTransientPollErrors(t *testing.T) {
	b := &scriptedBackend{
		name:       "tts",
		configured: true,
		polls:      []pollStep{transient(), transient(), pending(), transient(), completed(`{"ok":true}`)},
	}

	out, err := NewPoller(nil).Run(context.Background(), b, nil, fastPoll)
	require.NoError(t, err)
	require.JSONEq(t, `{"ok":true}`, string(out))
	require.Equal(t, 5, b.PollCount())
}

func TestPollerGivesUpAfterConsecutivePollErrors(t *testing.T) {
	b := &scriptedBackend{
		name:       "tts",
		configured: true,
		polls:      []pollStep{transient(), transient(), transient(), completed(`{}`)},
	}

	_, err := NewPoller(nil).Run(context.Background(), b, nil, fastPoll)
	require.Error(t, err)
	require.Contains(t, err.Error(), "connection reset")
	require.Equal(t, 3, b.PollCount())
}

func TestPollerStopsWhenCallerCancels(t *testing.T) {
	b := &scriptedBackend{name: "music", configured: true}

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	start := time.Now()
	_, err := NewPoller(nil).Run(ctx, b, nil, PollConfig{Interval: 5 * time.Millisecond, MaxWait: time.Minute})
	require.ErrorIs(t, err, context.Canceled)
	require.Less(t, time.Since(start), 5*time.Second)
}

func TestPollerRejectsUnconfiguredBackend(t *testing.T) {
	b := &scriptedBackend{name: "tts"}

	_, err := NewPoller(nil).Run(context.Background(), b, nil, fastPoll)
	require.ErrorIs(t, err, ErrBackendUnconfigured)
	require.Zero(t, b.submits.Load())
}

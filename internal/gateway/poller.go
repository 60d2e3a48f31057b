package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nmtlab/nmtgate/internal/backend"
	"github.com/nmtlab/nmtgate/internal/metrics"
)

const defaultMaxPollErrors = 3

// PollConfig bounds one asynchronous job.
type PollConfig struct {
	Interval time.Duration
	MaxWait  time.Duration
	// MaxPollErrors is how many consecutive failed status calls are tolerated
	// before the job is abandoned.
	MaxPollErrors int
}

// BackendJob is one unit of work submitted to an asynchronous backend.
type BackendJob struct {
	ID          string
	SubmittedAt time.Time
	Backend     string
}

// Poller submits jobs to asynchronous backends and waits for a terminal state.
type Poller struct {
	Logger Logger
	Clock  func() time.Time
}

// NewPoller returns a Poller that logs through logger.
func NewPoller(logger Logger) *Poller {
	return &Poller{Logger: loggerOrNop(logger)}
}

// Run submits input to b and returns the job output.
//
// A terminal submit result is returned directly. Otherwise the job is polled
// every cfg.Interval until it completes, fails (KindBackendJobFailed) or
// cfg.MaxWait elapses (KindBackendTimeout). Canceling ctx aborts both the wait
// and any in-flight call.
func (p *Poller) Run(ctx context.Context, b backend.AsyncBackend, input any, cfg PollConfig) (json.RawMessage, error) {
	if b == nil || !b.Configured() {
		return nil, ErrBackendUnconfigured
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive")
	}
	maxPollErrors := cfg.MaxPollErrors
	if maxPollErrors <= 0 {
		maxPollErrors = defaultMaxPollErrors
	}

	logger := loggerOrNop(p.Logger)
	name := b.Name()
	start := p.now()

	runCtx := ctx
	if cfg.MaxWait > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, cfg.MaxWait)
		defer cancel()
	}

	sub, err := b.Submit(runCtx, input)
	if err != nil {
		if timedOut(ctx, runCtx) {
			return nil, p.timeout(name, "", 0, start, cfg)
		}
		metrics.RecordJob(name, metrics.OutcomeError, 0, p.since(start))
		return nil, fmt.Errorf("submit %s job: %w", name, err)
	}

	switch sub.State {
	case backend.JobCompleted:
		logger.Info("Backend job completed on submit", zap.String("backend", name), zap.Duration("elapsed", p.since(start)))
		metrics.RecordJob(name, metrics.OutcomeSuccess, 0, p.since(start))
		return sub.Output, nil
	case backend.JobFailed:
		metrics.RecordJob(name, metrics.OutcomeFailed, 0, p.since(start))
		return nil, jobFailed(name, sub.JobID, sub.Error)
	}

	if sub.JobID == "" {
		metrics.RecordJob(name, metrics.OutcomeError, 0, p.since(start))
		return nil, &backend.MalformedResponseError{Provider: name, Reason: "no job id"}
	}

	job := BackendJob{ID: sub.JobID, SubmittedAt: start, Backend: name}
	logger.Info("Polling backend job", zap.String("backend", name), zap.String("job_id", job.ID))

	polls := 0
	consecutiveErrors := 0
	timer := time.NewTimer(cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-runCtx.Done():
			return nil, p.interrupted(ctx, runCtx, job, polls, cfg)
		case <-timer.C:
		}

		polls++
		metrics.RecordJobPoll(name)
		status, err := b.Poll(runCtx, job.ID)
		if err != nil {
			if runCtx.Err() != nil {
				return nil, p.interrupted(ctx, runCtx, job, polls, cfg)
			}
			consecutiveErrors++
			logger.Warn("Backend job poll failed",
				zap.String("backend", name),
				zap.String("job_id", job.ID),
				zap.Int("poll", polls),
				zap.Int("consecutive_errors", consecutiveErrors),
				zap.Error(err))
			if consecutiveErrors >= maxPollErrors {
				metrics.RecordJob(name, metrics.OutcomeError, polls, p.since(start))
				return nil, fmt.Errorf("poll %s job %s: %w", name, job.ID, err)
			}
			timer.Reset(cfg.Interval)
			continue
		}
		consecutiveErrors = 0

		switch status.State {
		case backend.JobCompleted:
			logger.Info("Backend job completed",
				zap.String("backend", name),
				zap.String("job_id", job.ID),
				zap.Int("polls", polls),
				zap.Duration("elapsed", p.since(start)))
			metrics.RecordJob(name, metrics.OutcomeSuccess, polls, p.since(start))
			return status.Output, nil
		case backend.JobFailed:
			logger.Warn("Backend job failed",
				zap.String("backend", name),
				zap.String("job_id", job.ID),
				zap.Int("polls", polls),
				zap.String("error", status.Error))
			metrics.RecordJob(name, metrics.OutcomeFailed, polls, p.since(start))
			return nil, jobFailed(name, job.ID, status.Error)
		}

		timer.Reset(cfg.Interval)
	}
}

// interrupted reports why runCtx ended: the job's own deadline or the caller
// going away.
func (p *Poller) interrupted(ctx, runCtx context.Context, job BackendJob, polls int, cfg PollConfig) error {
	if timedOut(ctx, runCtx) {
		return p.timeout(job.Backend, job.ID, polls, job.SubmittedAt, cfg)
	}
	metrics.RecordJob(job.Backend, metrics.OutcomeCanceled, polls, p.since(job.SubmittedAt))
	return ctx.Err()
}

func (p *Poller) timeout(name, jobID string, polls int, start time.Time, cfg PollConfig) error {
	loggerOrNop(p.Logger).Warn("Backend job timed out",
		zap.String("backend", name),
		zap.String("job_id", jobID),
		zap.Int("polls", polls),
		zap.Duration("max_wait", cfg.MaxWait))
	metrics.RecordJob(name, metrics.OutcomeTimeout, polls, p.since(start))
	return &Error{
		Kind:    KindBackendTimeout,
		Message: fmt.Sprintf("%s job did not finish within %s", name, cfg.MaxWait),
		Err:     context.DeadlineExceeded,
	}
}

func (p *Poller) now() time.Time {
	if p.Clock != nil {
		return p.Clock()
	}
	return time.Now()
}

func (p *Poller) since(start time.Time) time.Duration {
	return p.now().Sub(start)
}

func jobFailed(name, jobID, payload string) error {
	msg := fmt.Sprintf("%s job failed", name)
	if jobID != "" {
		msg = fmt.Sprintf("%s job %s failed", name, jobID)
	}
	if payload != "" {
		msg += ": " + payload
	}
	return &Error{Kind: KindBackendJobFailed, Message: msg}
}

// timedOut reports whether runCtx hit its own deadline while the parent is
// still live.
func timedOut(parent, runCtx context.Context) bool {
	return parent.Err() == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded)
}

// Package engine drives generation tasks end to end: bounded submission
// retries with busy backoff, a single credential refresh on authorization
// failure, and the bounded polling loop with its early-abort heuristic.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"drawbot/internal/domain"
	"drawbot/internal/infra"
)

const (
	defaultSubmitAttempts   = 3
	defaultBusyBackoff      = 5 * time.Second
	defaultTransientBackoff = 3 * time.Second
	defaultPollAttempts     = 30
	defaultPollInterval     = 10 * time.Second
)

// Service is the slice of the generation client the engine needs.
type Service interface {
	SubmitTask(ctx context.Context, cred domain.Credential, spec domain.TaskSpec) (string, error)
	TaskStatus(ctx context.Context, cred domain.Credential, taskID string) (domain.TaskStatus, error)
}

// CredentialSource supplies credentials and the refresh escalation path.
type CredentialSource interface {
	Get() domain.Credential
	Refresh(ctx context.Context) (domain.Credential, error)
	RefreshIfStale(ctx context.Context) domain.Credential
}

// Options tunes the retry and polling bounds. Zero values take the defaults;
// tests shrink the intervals.
type Options struct {
	Service          Service
	Creds            CredentialSource
	Logger           infra.Logger
	SubmitAttempts   int
	BusyBackoff      time.Duration
	TransientBackoff time.Duration
	PollAttempts     int
	PollInterval     time.Duration
}

type Engine struct {
	service          Service
	creds            CredentialSource
	logger           infra.Logger
	submitAttempts   int
	busyBackoff      time.Duration
	transientBackoff time.Duration
	pollAttempts     int
	pollInterval     time.Duration
}

func New(opts Options) *Engine {
	e := &Engine{
		service:          opts.Service,
		creds:            opts.Creds,
		logger:           opts.Logger,
		submitAttempts:   opts.SubmitAttempts,
		busyBackoff:      opts.BusyBackoff,
		transientBackoff: opts.TransientBackoff,
		pollAttempts:     opts.PollAttempts,
		pollInterval:     opts.PollInterval,
	}
	if e.submitAttempts <= 0 {
		e.submitAttempts = defaultSubmitAttempts
	}
	if e.busyBackoff <= 0 {
		e.busyBackoff = defaultBusyBackoff
	}
	if e.transientBackoff <= 0 {
		e.transientBackoff = defaultTransientBackoff
	}
	if e.pollAttempts <= 0 {
		e.pollAttempts = defaultPollAttempts
	}
	if e.pollInterval <= 0 {
		e.pollInterval = defaultPollInterval
	}
	return e
}

// Submit sends the task with bounded retries. Busy responses back off longer
// than generic transient failures but share the same attempt budget.
// Authorization failures are never retried here; the caller escalates.
func (e *Engine) Submit(ctx context.Context, cred domain.Credential, spec domain.TaskSpec) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= e.submitAttempts; attempt++ {
		taskID, err := e.service.SubmitTask(ctx, cred, spec)
		if err == nil {
			return taskID, nil
		}
		if errors.Is(err, domain.ErrUnauthorized) {
			return "", err
		}
		if errors.Is(err, domain.ErrServiceRejected) {
			return "", err
		}
		lastErr = err
		if attempt == e.submitAttempts {
			break
		}
		backoff := e.transientBackoff
		if errors.Is(err, domain.ErrServiceBusy) {
			backoff = e.busyBackoff
		}
		e.logger.Warn().Err(err).Int("attempt", attempt).Msg("engine: submit failed, retrying")
		if err := wait(ctx, backoff); err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("engine: submit exhausted %d attempts: %w", e.submitAttempts, lastErr)
}

// Poll watches the task until a terminal condition, consuming at most the
// configured attempt budget. Two consecutive zero-progress observations mean
// the service silently dropped the job (content moderation and the like) and
// abort early. Individual transport or parse failures consume an attempt and
// wait like any other poll.
func (e *Engine) Poll(ctx context.Context, cred domain.Credential, taskID string) ([]domain.ResultItem, error) {
	zeroStreak := 0
	for attempt := 1; attempt <= e.pollAttempts; attempt++ {
		status, err := e.service.TaskStatus(ctx, cred, taskID)
		switch {
		case err != nil:
			e.logger.Warn().Err(err).Str("task_id", taskID).Int("attempt", attempt).Msg("engine: poll failed")
		case status.State == domain.TaskStateFailed:
			return nil, fmt.Errorf("engine: task %s: %w", taskID, domain.ErrServiceRejected)
		case status.Progress >= 100 || status.State == domain.TaskStateComplete:
			return status.Items, nil
		case status.Progress == 0:
			zeroStreak++
			if zeroStreak >= 2 {
				return nil, fmt.Errorf("engine: task %s stalled at 0%%: %w", taskID, domain.ErrJobRejected)
			}
		default:
			zeroStreak = 0
			e.logger.Debug().Str("task_id", taskID).Int("progress", status.Progress).Msg("engine: task progress")
		}
		if attempt == e.pollAttempts {
			break
		}
		if err := wait(ctx, e.pollInterval); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("engine: task %s: %w", taskID, domain.ErrPollTimeout)
}

// Run executes one task start to finish: advisory credential refresh, submit
// with a single refresh-and-resubmit on authorization failure, then poll.
// A second authorization failure surfaces ErrUnauthorized so the caller can
// flip the global needs-login flag.
func (e *Engine) Run(ctx context.Context, spec domain.TaskSpec) ([]domain.ResultItem, error) {
	cred := e.creds.RefreshIfStale(ctx)
	if cred.Empty() {
		return nil, domain.ErrLoginRequired
	}

	taskID, err := e.Submit(ctx, cred, spec)
	if errors.Is(err, domain.ErrUnauthorized) {
		refreshed, refreshErr := e.creds.Refresh(ctx)
		if refreshErr != nil {
			return nil, fmt.Errorf("engine: refresh after rejection: %w", domain.ErrUnauthorized)
		}
		cred = refreshed
		taskID, err = e.Submit(ctx, cred, spec)
	}
	if err != nil {
		return nil, err
	}

	e.logger.Info().Str("task_id", taskID).Str("task_type", string(spec.Type)).Msg("engine: task submitted, polling")
	return e.Poll(ctx, cred, taskID)
}

func wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

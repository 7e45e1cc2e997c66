// Package monitor implements the Job Monitor (C9): an independent periodic
// sweeper that requeues or fails stuck jobs and enforces the job SLA.
// Grounded on the teacher's server/poller.go ticker-driven sweep --
// pollAgentStatuses's "list, inspect, act" loop generalized from polling a
// remote agent's status to comparing a job row's updated_at against a
// staleness threshold, plus its janitorSweep's "the poll is primary, this
// is the backup reconciliation path" idea, applied here to Stage H crashes.
package monitor

import (
	"context"
	"errors"
	"time"

	"github.com/sterlingstarai-ai/ai-story-book/internal/clock"
	"github.com/sterlingstarai-ai/ai-story-book/internal/job"
	"github.com/sterlingstarai-ai/ai-story-book/internal/ledger"
	"github.com/sterlingstarai-ai/ai-story-book/internal/store"
)

// Logger is the structured-logging interface the Monitor depends on.
type Logger interface {
	Infow(msg string, kv ...any)
	Warnw(msg string, kv ...any)
	Errorw(msg string, kv ...any)
}

// Dispatcher re-enters a requeued job into the Orchestrator's scheduler.
type Dispatcher interface {
	Dispatch(jobID string)
}

// Monitor is the C9 Job Monitor.
type Monitor struct {
	Jobs       store.JobStore
	Artifacts  store.ArtifactStore
	Ledger     ledger.Ledger
	Dispatch   Dispatcher
	Clock      clock.Clock
	Log        Logger

	Interval     time.Duration
	StuckTimeout time.Duration
	SLA          time.Duration
	MaxRetries   int
}

// Run blocks, sweeping every Interval until ctx is cancelled. Grounded on
// the teacher's scheduler ticker loop in plugin.go's background job
// registration.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

func (m *Monitor) sweep(ctx context.Context) {
	now := m.Clock.Now()

	if err := m.sweepStuck(ctx, now); err != nil {
		m.Log.Errorw("stuck sweep failed", "error", err.Error())
	}
	if err := m.sweepSLA(ctx, now); err != nil {
		m.Log.Errorw("sla sweep failed", "error", err.Error())
	}
	if err := m.janitorSweep(ctx, now); err != nil {
		m.Log.Errorw("janitor sweep failed", "error", err.Error())
	}
}

// sweepStuck implements spec.md §4.6 steps 1-2: requeue a stuck running job
// under its retry budget, or terminally fail it past the budget.
func (m *Monitor) sweepStuck(ctx context.Context, now time.Time) error {
	cutoff := now.Add(-m.StuckTimeout)
	stuck, err := m.Jobs.ListRunningOlderThan(ctx, cutoff)
	if err != nil {
		return err
	}

	for _, j := range stuck {
		expectedUpdatedAt := j.UpdatedAt
		if j.RetryCount < m.MaxRetries {
			applied, err := m.Jobs.CompareAndSwapStatus(ctx, j.JobID, job.StatusRunning, expectedUpdatedAt, func(cur *job.Job) {
				cur.Status = job.StatusQueued
				cur.RetryCount++
				lastRetry := now
				cur.LastRetryAt = &lastRetry
				cur.UpdatedAt = now
			})
			if err != nil {
				m.Log.Errorw("cas requeue failed", "job_id", j.JobID, "error", err.Error())
				continue
			}
			if !applied {
				continue // lost the race; the job progressed since we listed it.
			}
			m.Log.Infow("requeued stuck job", "job_id", j.JobID, "retry_count", j.RetryCount+1)
			m.Dispatch.Dispatch(j.JobID)
			continue
		}

		if err := m.failAndRefund(ctx, j, job.StatusRunning, expectedUpdatedAt, job.ErrStuckTimeout, now); err != nil {
			m.Log.Errorw("cas stuck-fail failed", "job_id", j.JobID, "error", err.Error())
		}
	}
	return nil
}

// sweepSLA implements spec.md §4.6 step 3: fail any job whose total
// wall-clock has exceeded sla_seconds regardless of current stage.
func (m *Monitor) sweepSLA(ctx context.Context, now time.Time) error {
	cutoff := now.Add(-m.SLA)
	breaching, err := m.Jobs.ListSLABreaching(ctx, cutoff)
	if err != nil {
		return err
	}
	for _, j := range breaching {
		if err := m.failAndRefund(ctx, j, j.Status, j.UpdatedAt, job.ErrSLABreach, now); err != nil {
			m.Log.Errorw("cas sla-fail failed", "job_id", j.JobID, "error", err.Error())
		}
	}
	return nil
}

func (m *Monitor) failAndRefund(ctx context.Context, j *job.Job, expectedStatus job.Status, expectedUpdatedAt time.Time, code job.ErrorCode, now time.Time) error {
	applied, err := m.Jobs.CompareAndSwapStatus(ctx, j.JobID, expectedStatus, expectedUpdatedAt, func(cur *job.Job) {
		cur.Status = job.StatusFailed
		cur.ErrorCode = code
		cur.ErrorMessage = string(code)
		cur.UpdatedAt = now
	})
	if err != nil {
		return err
	}
	if !applied {
		return nil // the job completed or changed state before we could fail it.
	}

	const creditAmount = 1
	if _, err := m.Ledger.Refund(ctx, j.UserKey, creditAmount, "job_failed", j.JobID); err != nil {
		m.Log.Errorw("monitor refund failed", "job_id", j.JobID, "error", err.Error())
	}
	m.Log.Warnw("monitor failed job", "job_id", j.JobID, "error_code", string(code))
	return nil
}

// janitorSweep reconciles jobs whose last stage write is ambiguous: a job
// marked running with no book, whose updated_at shows no progress for at
// least one full monitor interval, may have crashed between Stage H's
// image uploads and its Book transaction. The Orchestrator's own writes
// are the primary path; this is the backup path, mirroring the teacher's
// janitorSweep comment that webhooks are primary and polling is the
// fallback.
func (m *Monitor) janitorSweep(ctx context.Context, now time.Time) error {
	cutoff := now.Add(-m.Interval)
	candidates, err := m.Jobs.ListRunningOlderThan(ctx, cutoff)
	if err != nil {
		return err
	}
	for _, j := range candidates {
		if j.Progress < 95 {
			continue // not yet at Stage H; ordinary stuck-sweep handles it.
		}
		if _, _, err := m.Artifacts.GetBookByJobID(ctx, j.JobID); err == nil {
			continue // book exists; nothing to reconcile.
		} else if !errors.Is(err, store.ErrNotFound) {
			m.Log.Errorw("janitor book lookup failed", "job_id", j.JobID, "error", err.Error())
		}
		m.Log.Warnw("job at stage H with no book found by janitor sweep", "job_id", j.JobID, "progress", j.Progress)
	}
	return nil
}

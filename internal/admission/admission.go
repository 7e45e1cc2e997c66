// Package admission implements the Admission Controller (C8): the
// idempotency probe, rate limit check, guardrails, credit debit, and job
// insertion that gate every incoming job request before it is handed to the
// Orchestrator. Grounded on the teacher's server/api.go request-intake
// handlers, which chain the same kind of sequential precondition checks
// before touching the KV store.
package admission

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/sterlingstarai-ai/ai-story-book/internal/clock"
	"github.com/sterlingstarai-ai/ai-story-book/internal/job"
	"github.com/sterlingstarai-ai/ai-story-book/internal/ledger"
	"github.com/sterlingstarai-ai/ai-story-book/internal/ratelimit"
	"github.com/sterlingstarai-ai/ai-story-book/internal/store"
)

// Logger is the structured-logging interface Admission depends on.
type Logger interface {
	Infow(msg string, kv ...any)
	Warnw(msg string, kv ...any)
}

// Dispatcher hands a freshly admitted job id off to the Orchestrator. The
// Admission Controller does not know or care whether dispatch runs the job
// in-process or enqueues it onto a durable task queue (spec.md §9 open
// question (a) -- either dispatch mode satisfies the contract).
type Dispatcher interface {
	Dispatch(jobID string)
}

// Controller is the C8 Admission Controller.
type Controller struct {
	Jobs       store.JobStore
	Ledger     ledger.Ledger
	RateLimit  ratelimit.Limiter
	Dispatch   Dispatcher
	Clock      clock.Clock
	Log        Logger

	DailyJobLimitPerUser int
	MaxPendingJobs       int
}

// Request is the admission request payload.
type Request struct {
	UserKey        string
	Spec           job.Specification
	IdempotencyKey string
}

// AdmissionError wraps a closed ErrorCode for the request-tier to translate
// into a user-facing status.
type AdmissionError struct {
	Code job.ErrorCode
	Err  error
}

func (e *AdmissionError) Error() string { return fmt.Sprintf("%s: %v", e.Code, e.Err) }
func (e *AdmissionError) Unwrap() error { return e.Err }

// Admit runs the full admission sequence and, on success, dispatches the
// job and returns its id.
func (c *Controller) Admit(ctx context.Context, req Request) (string, error) {
	if req.IdempotencyKey != "" {
		existing, err := c.Jobs.FindByIdempotencyKey(ctx, req.UserKey, req.IdempotencyKey)
		if err == nil {
			return existing.JobID, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return "", fmt.Errorf("idempotency probe: %w", err)
		}
	}

	if err := job.ValidateUserKey(req.UserKey); err != nil {
		return "", fmt.Errorf("invalid request: %w", err)
	}
	if err := job.ValidateSpecification(&req.Spec); err != nil {
		return "", fmt.Errorf("invalid request: %w", err)
	}

	decision := c.RateLimit.Check(req.UserKey)
	if !decision.Allow {
		return "", &AdmissionError{Code: job.ErrRateLimited, Err: fmt.Errorf("retry after %s", decision.RetryAfter)}
	}
	if decision.FailedOpen {
		c.Log.Warnw("rate limiter failed open", "user_key", req.UserKey)
	}

	now := c.Clock.Now()
	createdToday, err := c.Jobs.CountCreatedToday(ctx, req.UserKey, now)
	if err != nil {
		return "", fmt.Errorf("count created today: %w", err)
	}
	if createdToday >= c.DailyJobLimitPerUser {
		return "", &AdmissionError{Code: job.ErrDailyLimit, Err: fmt.Errorf("daily limit %d reached", c.DailyJobLimitPerUser)}
	}

	pending, err := c.Jobs.CountByStatus(ctx, job.StatusQueued, job.StatusRunning)
	if err != nil {
		return "", fmt.Errorf("count pending: %w", err)
	}
	if pending >= c.MaxPendingJobs {
		return "", &AdmissionError{Code: job.ErrOverloaded, Err: fmt.Errorf("system-wide pending limit %d reached", c.MaxPendingJobs)}
	}

	jobID := newJobID()
	const creditAmount = 1
	if _, err := c.Ledger.Debit(ctx, req.UserKey, creditAmount, "job_admission", jobID); err != nil {
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			return "", &AdmissionError{Code: job.ErrNoCredits, Err: err}
		}
		return "", fmt.Errorf("debit: %w", err)
	}

	newJob := &job.Job{
		JobID:          jobID,
		UserKey:        req.UserKey,
		IdempotencyKey: req.IdempotencyKey,
		Spec:           req.Spec,
		Status:         job.StatusQueued,
		Progress:       0,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := c.Jobs.Insert(ctx, newJob); err != nil {
		// Insertion failed after the debit succeeded; refund so the user is
		// never charged for a job that was never created (spec.md §4.1 step
		// 5). The refund reason is unique to this jobID so it can never
		// collide with the Orchestrator's own job_failed refund for a job
		// that, by construction, does not exist.
		if _, refundErr := c.Ledger.Refund(ctx, req.UserKey, creditAmount, "admission_insert_failed", jobID); refundErr != nil {
			c.Log.Warnw("refund after failed insert also failed", "job_id", jobID, "error", refundErr.Error())
		}
		if errors.Is(err, store.ErrConflict) {
			existing, findErr := c.Jobs.FindByIdempotencyKey(ctx, req.UserKey, req.IdempotencyKey)
			if findErr == nil {
				return existing.JobID, nil
			}
		}
		return "", fmt.Errorf("insert job: %w", err)
	}

	c.Dispatch.Dispatch(jobID)
	c.Log.Infow("job admitted", "job_id", jobID, "user_key", req.UserKey)
	return jobID, nil
}

func newJobID() string {
	return "job_" + uuid.NewString()
}

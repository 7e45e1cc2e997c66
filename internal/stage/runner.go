// Package stage implements the Stage Runner (C6) and the eight pipeline
// stages (A-H) it executes on the Orchestrator's behalf. Each stage is a
// plain function with its own timeout/retry/backoff budget, run through the
// shared Runner so the retry-with-backoff loop is written exactly once --
// the same generalization the teacher applies by funneling every Cursor API
// call through cursor/client.go's doRequest rather than duplicating retry
// logic at each call site.
package stage

import (
	"context"
	"time"

	"github.com/sterlingstarai-ai/ai-story-book/internal/job"
)

// Budget is one row of the per-stage budget table (spec.md §4.2).
type Budget struct {
	Timeout time.Duration
	Retries int
	Backoff []time.Duration
}

// Classifier maps a raw error from a stage's work function to a closed
// ErrorCode, and reports whether it is worth retrying again within this
// stage's budget.
type Classifier func(err error) (code job.ErrorCode, retryable bool)

// AttemptRecorder is the counters dependency Runner reports each attempt
// to. Structurally matches metrics.Registry so stage doesn't need to
// import it directly.
type AttemptRecorder interface {
	RecordStageAttempt(stageName string, success bool)
}

// Runner executes stage work functions under a shared retry/backoff policy.
// It is the single place a stage's attempts, successes, and backoff delays
// are observed, so stuck-job forensics has one log stream to inspect
// instead of one per capability client.
type Runner struct {
	sleep   func(ctx context.Context, d time.Duration) error
	log     Logger
	metrics AttemptRecorder
}

// NewRunner returns a Runner using real time.Sleep-equivalent waits,
// logging attempts to log and reporting them to metrics. Either may be nil.
func NewRunner(log Logger, metrics AttemptRecorder) *Runner {
	return &Runner{sleep: contextSleep, log: log, metrics: metrics}
}

func contextSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run executes fn at most budget.Retries+1 times, sleeping budget.Backoff[i]
// between attempt i and i+1, classifying each failure with classify. It
// returns the last raw error if every attempt is exhausted, along with the
// ErrorCode the Orchestrator should record. stageName identifies the
// calling stage in attempt logs and metrics; it carries no other meaning
// to Run itself.
func (r *Runner) Run(ctx context.Context, stageName string, budget Budget, classify Classifier, fn func(ctx context.Context) error) (job.ErrorCode, error) {
	var lastErr error
	var lastCode job.ErrorCode

	for attempt := 0; attempt <= budget.Retries; attempt++ {
		attemptCtx := ctx
		var cancel context.CancelFunc
		if budget.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, budget.Timeout)
		}
		err := fn(attemptCtx)
		if cancel != nil {
			cancel()
		}
		r.recordAttempt(stageName, err == nil)
		if err == nil {
			return "", nil
		}

		code, retryable := classify(err)
		lastErr = err
		lastCode = code

		if !retryable || attempt == budget.Retries {
			if r.log != nil {
				r.log.Warnw("stage attempt exhausted", "stage", stageName, "attempt", attempt, "error", err.Error(), "retryable", retryable)
			}
			return code, lastErr
		}

		var delay time.Duration
		if attempt < len(budget.Backoff) {
			delay = budget.Backoff[attempt]
		}
		if r.log != nil {
			r.log.Warnw("stage attempt failed, retrying", "stage", stageName, "attempt", attempt, "error", err.Error(), "backoff", delay.String())
		}
		if delay > 0 {
			if sleepErr := r.sleep(ctx, delay); sleepErr != nil {
				return code, sleepErr
			}
		}
	}
	return lastCode, lastErr
}

func (r *Runner) recordAttempt(stageName string, success bool) {
	if r.metrics != nil {
		r.metrics.RecordStageAttempt(stageName, success)
	}
}

// Package orchestrator implements the Orchestrator (C7): it drives a job
// through stages A-H in order, persisting each stage's progress checkpoint,
// and on terminal failure writes the job's error state and issues a credit
// refund. This is the teacher's poller.go state machine generalized from
// "poll a Cursor background agent until it finishes" to "run a fixed
// sequence of local stages," keeping the same persist-before-advance
// discipline.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/sterlingstarai-ai/ai-story-book/internal/clock"
	"github.com/sterlingstarai-ai/ai-story-book/internal/job"
	"github.com/sterlingstarai-ai/ai-story-book/internal/ledger"
	"github.com/sterlingstarai-ai/ai-story-book/internal/stage"
	"github.com/sterlingstarai-ai/ai-story-book/internal/store"
)

// Logger is the structured-logging interface the Orchestrator depends on.
type Logger interface {
	Infow(msg string, kv ...any)
	Warnw(msg string, kv ...any)
	Errorw(msg string, kv ...any)
}

// Orchestrator composes the Stage Runner's stages into the full A-H
// pipeline for one job at a time. A process runs many Orchestrator.Run
// calls concurrently, one goroutine per in-flight job.
type Orchestrator struct {
	Jobs      store.JobStore
	Ledger    ledger.Ledger
	StageDeps stage.Deps
	Clock     clock.Clock
	Log       Logger
	SLA       time.Duration
}

// Run drives jobID through the full pipeline. It loads the job, executes
// stages A-H in order, and on any terminal failure marks the job failed and
// refunds its debited credit. It returns only on terminal success, terminal
// failure, or ctx cancellation (e.g. process shutdown). A non-nil error is
// returned for a failure to load the job and for every terminal failure,
// including a pipeline stage failure; a terminal failure is also recorded on
// the job itself (status failed, error code and message).
func (o *Orchestrator) Run(ctx context.Context, jobID string) error {
	j, err := o.Jobs.Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}

	started := o.Clock.Now()
	slaCtx, cancel := context.WithTimeout(ctx, o.SLA)
	defer cancel()

	if err := o.runStages(slaCtx, j); err != nil {
		code := j.ErrorCode
		if code == "" {
			code = job.ErrDBWriteFailed
		}
		if slaCtx.Err() != nil && ctx.Err() == nil {
			code = job.ErrSLABreach
		}
		return o.fail(ctx, j, code, err)
	}

	o.Log.Infow("job completed", "job_id", j.JobID, "elapsed", o.Clock.Now().Sub(started).String())
	return nil
}

func (o *Orchestrator) runStages(ctx context.Context, j *job.Job) error {
	if err := o.checkpoint(ctx, j, job.StatusRunning, stage.ProgressStageA, "A"); err != nil {
		return err
	}
	if code, err := stage.RunNormalize(ctx, j, o.StageDeps); err != nil {
		j.ErrorCode = code
		return fmt.Errorf("stage A: %w", err)
	}

	if err := o.checkpoint(ctx, j, job.StatusRunning, stage.ProgressStageB, "B"); err != nil {
		return err
	}
	if code, err := stage.RunModerateInput(ctx, j, o.StageDeps); err != nil {
		j.ErrorCode = code
		_ = o.Jobs.Update(ctx, j)
		return fmt.Errorf("stage B: %w", err)
	}

	if err := o.checkpoint(ctx, j, job.StatusRunning, stage.ProgressStageC, "C"); err != nil {
		return err
	}
	code, err := stage.RunStory(ctx, j, o.StageDeps)
	if err != nil {
		j.ErrorCode = code
		return fmt.Errorf("stage C: %w", err)
	}
	draft, err := o.StageDeps.Artifacts.GetDraft(ctx, j.JobID)
	if err != nil {
		return fmt.Errorf("reload draft: %w", err)
	}

	if err := o.checkpoint(ctx, j, job.StatusRunning, stage.ProgressStageD, "D"); err != nil {
		return err
	}
	code, sheet, err := stage.RunCharacter(ctx, j, o.StageDeps)
	if err != nil {
		j.ErrorCode = code
		return fmt.Errorf("stage D: %w", err)
	}

	if err := o.checkpoint(ctx, j, job.StatusRunning, stage.ProgressStageE, "E"); err != nil {
		return err
	}
	code, err = stage.RunPrompts(ctx, j, draft, &sheet, o.StageDeps)
	if err != nil {
		j.ErrorCode = code
		return fmt.Errorf("stage E: %w", err)
	}
	prompts, err := o.StageDeps.Artifacts.GetPrompts(ctx, j.JobID)
	if err != nil {
		return fmt.Errorf("reload prompts: %w", err)
	}

	if err := o.checkpoint(ctx, j, job.StatusRunning, stage.ProgressStageF, "F"); err != nil {
		return err
	}
	code, images, err := stage.RunImages(ctx, j, prompts, o.StageDeps)
	if err != nil {
		j.ErrorCode = code
		return fmt.Errorf("stage F: %w", err)
	}

	if err := o.checkpoint(ctx, j, job.StatusRunning, stage.ProgressStageG, "G"); err != nil {
		return err
	}
	if code, err := stage.RunModerateOutput(ctx, j, draft, &images, o.StageDeps); err != nil {
		j.ErrorCode = code
		_ = o.Jobs.Update(ctx, j)
		return fmt.Errorf("stage G: %w", err)
	}

	if err := o.checkpoint(ctx, j, job.StatusRunning, stage.ProgressStageH, "H"); err != nil {
		return err
	}
	if code, err := stage.RunPackage(ctx, j, draft, &images, o.StageDeps); err != nil {
		j.ErrorCode = code
		return fmt.Errorf("stage H: %w", err)
	}

	return nil
}

// checkpoint advances progress and persists the job row before the stage's
// work starts, so the stored status, step and progress show which stage is
// running. Run always starts again at Stage A; it does not resume a job from
// its last checkpoint.
func (o *Orchestrator) checkpoint(ctx context.Context, j *job.Job, status job.Status, progress int, step string) error {
	j.Status = status
	j.Progress = progress
	j.CurrentStep = step
	j.UpdatedAt = o.Clock.Now()
	return o.Jobs.Update(ctx, j)
}

// fail writes the job's terminal failure state and refunds its credit. The
// refund is tagged reason=job_failed and keyed by job_id so a racing
// Monitor-driven SLA failure cannot double-refund (spec.md §9 refund
// idempotence).
func (o *Orchestrator) fail(ctx context.Context, j *job.Job, code job.ErrorCode, cause error) error {
	j.Status = job.StatusFailed
	j.ErrorCode = code
	j.ErrorMessage = cause.Error()
	j.UpdatedAt = o.Clock.Now()
	if err := o.Jobs.Update(ctx, j); err != nil {
		o.Log.Errorw("failed to persist job failure", "job_id", j.JobID, "error", err.Error())
	}

	const creditAmount = 1
	if _, err := o.Ledger.Refund(ctx, j.UserKey, creditAmount, "job_failed", j.JobID); err != nil {
		o.Log.Errorw("refund failed", "job_id", j.JobID, "user_key", j.UserKey, "error", err.Error())
	}

	o.Log.Warnw("job failed", "job_id", j.JobID, "error_code", string(code), "error", cause.Error())
	return cause
}

package stage

import (
	"context"
	"strings"

	"github.com/sterlingstarai-ai/ai-story-book/internal/job"
)

// RunModerateInput is Stage B: classify the topic and forbidden_elements for
// safety before any LLM spend. Zero retries -- a moderation call failing
// outright is treated the same as any other provider error, not retried,
// since spec.md §4.2 configures no retry budget for this row.
func RunModerateInput(ctx context.Context, j *job.Job, deps Deps) (job.ErrorCode, error) {
	var verdict job.ModerationVerdict

	code, err := deps.Runner.Run(ctx, "B", Budgets.ModerateInput, func(error) (job.ErrorCode, bool) {
		return job.ErrSafetyInput, false
	}, func(ctx context.Context) error {
		text := j.Spec.Topic + "\n" + strings.Join(j.Spec.ForbiddenElements, ", ")
		v, err := deps.Moderation.ClassifyText(ctx, text)
		if err != nil {
			return err
		}
		verdict = job.ModerationVerdict{Safe: v.Safe, Reason: v.Reason}
		return nil
	})
	if err != nil {
		return code, err
	}

	j.ModerationInput = &verdict
	if !verdict.Safe {
		return job.ErrSafetyInput, errSafety(verdict.Reason)
	}
	return "", nil
}

type safetyError string

func (e safetyError) Error() string { return "safety violation: " + string(e) }

func errSafety(reason string) error { return safetyError(reason) }

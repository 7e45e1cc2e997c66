package stage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sterlingstarai-ai/ai-story-book/internal/capability"
	"github.com/sterlingstarai-ai/ai-story-book/internal/job"
)

const rewriteSchema = `{"type": "object", "required": ["text"], "properties": {"text": {"type": "string"}}}`

type rewriteLLMOutput struct {
	Text string `json:"text"`
}

// RunModerateOutput is Stage G: re-check generated text (and images, when
// available) against safety rules. A violation triggers an in-place
// rewrite of the offending page, retried up to SafetyOutputMaxRewrites
// cycles before failing terminally (spec.md §4.2 Stage G contract).
func RunModerateOutput(ctx context.Context, j *job.Job, draft *job.StoryDraft, images *GeneratedImages, deps Deps) (job.ErrorCode, error) {
	var verdict job.ModerationVerdict

	for cycle := 0; cycle <= SafetyOutputMaxRewrites; cycle++ {
		violatingPage, reason, err := findOutputViolation(ctx, draft, images, j.Spec.ForbiddenElements, deps)
		if err != nil {
			return job.ErrDBWriteFailed, err
		}
		if violatingPage == 0 {
			verdict = job.ModerationVerdict{Safe: true}
			j.ModerationOutput = &verdict
			return "", nil
		}

		if cycle == SafetyOutputMaxRewrites {
			verdict = job.ModerationVerdict{Safe: false, Reason: reason}
			j.ModerationOutput = &verdict
			return job.ErrSafetyOutput, fmt.Errorf("safety violation on page %d after %d rewrites: %s", violatingPage, cycle, reason)
		}

		if err := rewritePage(ctx, j, draft, violatingPage, deps); err != nil {
			return job.ErrSafetyOutput, err
		}
	}
	return "", nil
}

// findOutputViolation returns the 1-indexed page number of the first
// violating page, or 0 if none. Page texts are checked first, then the page
// images in images.Pages; the cover image is not checked.
func findOutputViolation(ctx context.Context, draft *job.StoryDraft, images *GeneratedImages, forbidden []string, deps Deps) (int, string, error) {
	for _, p := range draft.Pages {
		if elem, bad := containsForbidden(p.Text, forbidden); bad {
			return p.Number, "forbidden element: " + elem, nil
		}
		v, err := deps.Moderation.ClassifyText(ctx, p.Text)
		if err != nil {
			return 0, "", err
		}
		if !v.Safe {
			return p.Number, v.Reason, nil
		}
	}
	if images != nil {
		for number, data := range images.Pages {
			v, err := deps.Moderation.ClassifyImage(ctx, data)
			if err != nil {
				return 0, "", err
			}
			if !v.Safe {
				return number, v.Reason, nil
			}
		}
	}
	return 0, "", nil
}

func rewritePage(ctx context.Context, j *job.Job, draft *job.StoryDraft, pageNumber int, deps Deps) error {
	deadline, _ := ctx.Deadline()
	if deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, Budgets.ModerateOutput.Timeout)
		defer cancel()
		deadline, _ = ctx.Deadline()
	}

	rule := job.LengthRuleFor(j.Spec.TargetAge)
	prompt := fmt.Sprintf("Rewrite this children's story page to remove any unsafe or forbidden content, keeping the same scene, at most %d sentences: %q", rule.MaxSentences, pageText(draft, pageNumber))

	raw, err := deps.LLM.Complete(ctx, prompt, []byte(rewriteSchema), deadline)
	if err != nil {
		return err
	}
	var out rewriteLLMOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return &capability.LLMError{Kind: capability.LLMInvalidJSON, Err: err}
	}

	for i := range draft.Pages {
		if draft.Pages[i].Number == pageNumber {
			draft.Pages[i].Text = out.Text
		}
	}
	return deps.Artifacts.SaveDraft(ctx, draft)
}

func pageText(draft *job.StoryDraft, number int) string {
	for _, p := range draft.Pages {
		if p.Number == number {
			return p.Text
		}
	}
	return ""
}

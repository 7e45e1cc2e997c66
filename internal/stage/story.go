package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sterlingstarai-ai/ai-story-book/internal/capability"
	"github.com/sterlingstarai-ai/ai-story-book/internal/job"
)

const storySchema = `{
  "type": "object",
  "required": ["title", "pages"],
  "properties": {
    "title": {"type": "string"},
    "pages": {"type": "array", "items": {"type": "object", "required": ["number", "text"]}}
  }
}`

type storyLLMOutput struct {
	Title string `json:"title"`
	Pages []struct {
		Number int    `json:"number"`
		Text   string `json:"text"`
	} `json:"pages"`
}

// violationError wraps a Stage C/G forbidden-lexicon or length-rule
// violation so it flows through the same retry/classify loop as a raw LLM
// error.
type violationError struct{ msg string }

func (e violationError) Error() string { return e.msg }

// RunStory is Stage C: produce {title, pages[1..N]} satisfying the age
// band's sentence/word-count rule and the forbidden-elements list, 2
// retries with (2s, 5s) backoff (spec.md §4.2).
func RunStory(ctx context.Context, j *job.Job, deps Deps) (job.ErrorCode, error) {
	var draft job.StoryDraft

	code, err := deps.Runner.Run(ctx, "C", Budgets.Story, classifyStoryError, func(ctx context.Context) error {
		deadline, _ := ctx.Deadline()
		prompt := buildStoryPrompt(j.Spec)
		raw, err := deps.LLM.Complete(ctx, prompt, []byte(storySchema), deadline)
		if err != nil {
			return err
		}

		var out storyLLMOutput
		if err := json.Unmarshal(raw, &out); err != nil {
			return &capability.LLMError{Kind: capability.LLMInvalidJSON, Err: err}
		}
		if out.Title == "" || len(out.Pages) != j.Spec.PageCount {
			return &capability.LLMError{Kind: capability.LLMInvalidJSON, Err: fmt.Errorf("expected %d pages, got %d", j.Spec.PageCount, len(out.Pages))}
		}

		rule := job.LengthRuleFor(j.Spec.TargetAge)
		pages := make([]job.StoryPage, len(out.Pages))
		for i, p := range out.Pages {
			if elem, bad := containsForbidden(p.Text, j.Spec.ForbiddenElements); bad {
				return violationError{msg: fmt.Sprintf("page %d contains forbidden element %q", p.Number, elem)}
			}
			if violation := rule.Violation(p.Text); violation != "" {
				return violationError{msg: fmt.Sprintf("page %d: %s", p.Number, violation)}
			}
			pages[i] = job.StoryPage{Number: p.Number, Text: p.Text}
		}

		draft = job.StoryDraft{JobID: j.JobID, Title: out.Title, Pages: pages}
		return deps.Artifacts.SaveDraft(ctx, &draft)
	})
	return code, err
}

func classifyStoryError(err error) (job.ErrorCode, bool) {
	var llmErr *capability.LLMError
	if asLLMError(err, &llmErr) {
		switch llmErr.Kind {
		case capability.LLMTimeout:
			return job.ErrLLMTimeout, true
		case capability.LLMInvalidJSON:
			return job.ErrLLMJSONInvalid, true
		default:
			return job.ErrLLMJSONInvalid, true
		}
	}
	if _, ok := err.(violationError); ok {
		return job.ErrSafetyOutput, true
	}
	return job.ErrDBWriteFailed, false
}

func asLLMError(err error, target **capability.LLMError) bool {
	if e, ok := err.(*capability.LLMError); ok {
		*target = e
		return true
	}
	return false
}

func buildStoryPrompt(spec job.Specification) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write a %d-page children's story for ages %s about: %s.\n", spec.PageCount, spec.TargetAge, spec.Topic)
	if spec.Theme != "" {
		fmt.Fprintf(&b, "Theme: %s.\n", spec.Theme)
	}
	if len(spec.ForbiddenElements) > 0 {
		fmt.Fprintf(&b, "Do not include: %s.\n", strings.Join(spec.ForbiddenElements, ", "))
	}
	fmt.Fprintf(&b, "Write in %s.\n", spec.Language)
	return b.String()
}

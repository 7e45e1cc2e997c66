// Package regenerate implements regenerate_page (spec.md §6): re-running a
// single page's text and/or image sub-stage for an already-completed job,
// without re-running the whole pipeline. Each sub-stage is a single LLM or
// image call under the Stage Runner's budget timeout; it is not retried, and
// a failure is returned as a wrapped error, not as an ErrorCode.
package regenerate

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sterlingstarai-ai/ai-story-book/internal/job"
	"github.com/sterlingstarai-ai/ai-story-book/internal/stage"
	"github.com/sterlingstarai-ai/ai-story-book/internal/store"
)

// Target selects which sub-stage(s) regenerate_page re-runs.
type Target string

const (
	TargetText  Target = "text"
	TargetImage Target = "image"
	TargetBoth  Target = "both"
)

// Logger is the structured-logging interface Controller depends on.
type Logger interface {
	Infow(msg string, kv ...any)
	Errorw(msg string, kv ...any)
}

// Controller regenerates one page of an already-packaged book.
type Controller struct {
	Jobs       store.JobStore
	Artifacts  store.ArtifactStore
	Characters store.CharacterStore
	StageDeps  stage.Deps
	Log        Logger
}

// RegeneratePage re-runs the text and/or image sub-stage for one page of a
// done job, then updates the Page row in place. The job itself is left
// untouched (status, progress, book_id are unaffected); only the page's
// content changes.
func (c *Controller) RegeneratePage(ctx context.Context, jobID string, pageNumber int, target Target) error {
	j, err := c.Jobs.Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}
	if j.Status != job.StatusDone {
		return fmt.Errorf("job %s is not done, cannot regenerate a page", jobID)
	}

	book, pages, err := c.Artifacts.GetBookByJobID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load book: %w", err)
	}
	var current *job.Page
	for i := range pages {
		if pages[i].PageNumber == pageNumber {
			current = &pages[i]
			break
		}
	}
	if current == nil {
		return fmt.Errorf("page %d not found on job %s", pageNumber, jobID)
	}

	updated := *current

	if target == TargetText || target == TargetBoth {
		text, err := c.regenerateText(ctx, j, pageNumber, current.Text)
		if err != nil {
			return fmt.Errorf("regenerate text: %w", err)
		}
		updated.Text = text
	}

	if target == TargetImage || target == TargetBoth {
		prompts, err := c.Artifacts.GetPrompts(ctx, jobID)
		if err != nil {
			return fmt.Errorf("load prompts: %w", err)
		}
		prompt := prompts.PagePrompts[pageNumber]
		deadline := c.StageDeps.Clock.Now().Add(stage.Budgets.Image.Timeout)
		data, err := c.StageDeps.Image.Generate(ctx, prompt, prompts.NegativePrompt, prompts.StyleToken, deadline)
		if err != nil {
			return fmt.Errorf("generate image: %w", err)
		}
		url, err := c.StageDeps.Objects.Put(ctx, fmt.Sprintf("books/%s/pages/%d.png", book.BookID, pageNumber), data)
		if err != nil {
			return fmt.Errorf("upload image: %w", err)
		}
		updated.ImageURL = url
	}

	if err := c.Artifacts.UpdatePage(ctx, book.BookID, updated); err != nil {
		return fmt.Errorf("persist regenerated page: %w", err)
	}
	c.Log.Infow("page regenerated", "job_id", jobID, "page", pageNumber, "target", string(target))
	return nil
}

func (c *Controller) regenerateText(ctx context.Context, j *job.Job, pageNumber int, currentText string) (string, error) {
	rule := job.LengthRuleFor(j.Spec.TargetAge)
	prompt := fmt.Sprintf("Rewrite this children's story page with fresh wording, keeping the same scene, at most %d sentences: %q", rule.MaxSentences, currentText)

	deadline := c.StageDeps.Clock.Now().Add(stage.Budgets.Story.Timeout)
	raw, err := c.StageDeps.LLM.Complete(ctx, prompt, []byte(`{"type":"object","required":["text"],"properties":{"text":{"type":"string"}}}`), deadline)
	if err != nil {
		return "", err
	}
	var out struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("unmarshal rewrite response: %w", err)
	}
	if violation := rule.Violation(out.Text); violation != "" {
		return "", fmt.Errorf("rewritten text violates length rule: %s", violation)
	}
	return out.Text, nil
}

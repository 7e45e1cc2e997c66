package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sterlingstarai-ai/ai-story-book/internal/capability"
	"github.com/sterlingstarai-ai/ai-story-book/internal/job"
)

const promptsSchema = `{
  "type": "object",
  "required": ["cover_prompt", "page_prompts"],
  "properties": {
    "cover_prompt": {"type": "string"},
    "page_prompts": {"type": "object"}
  }
}`

type promptsLLMOutput struct {
	CoverPrompt  string            `json:"cover_prompt"`
	PagePrompts  map[string]string `json:"page_prompts"`
}

// RunPrompts is Stage E: produce a cover prompt and one prompt per page,
// each textually embedding the character's master description and the
// style token, plus a shared negative prompt (spec.md §4.2 Stage E
// contract).
func RunPrompts(ctx context.Context, j *job.Job, draft *job.StoryDraft, sheet *job.CharacterSheet, deps Deps) (job.ErrorCode, error) {
	var prompts job.ImagePrompts

	code, err := deps.Runner.Run(ctx, "E", Budgets.Prompts, classifyLLMError, func(ctx context.Context) error {
		deadline, _ := ctx.Deadline()
		raw, err := deps.LLM.Complete(ctx, buildPromptsPrompt(j.Spec, draft, sheet), []byte(promptsSchema), deadline)
		if err != nil {
			return err
		}

		var out promptsLLMOutput
		if err := json.Unmarshal(raw, &out); err != nil {
			return &capability.LLMError{Kind: capability.LLMInvalidJSON, Err: err}
		}
		if len(out.PagePrompts) != len(draft.Pages) {
			return &capability.LLMError{Kind: capability.LLMInvalidJSON, Err: fmt.Errorf("expected %d page prompts, got %d", len(draft.Pages), len(out.PagePrompts))}
		}

		styleToken := StyleToken(j.Spec.Style)
		pagePrompts := make(map[int]string, len(draft.Pages))
		for _, p := range draft.Pages {
			key := fmt.Sprintf("%d", p.Number)
			prompt := ensureAnchored(out.PagePrompts[key], sheet.MasterDescription, styleToken)
			pagePrompts[p.Number] = prompt
		}
		coverPrompt := ensureAnchored(out.CoverPrompt, sheet.MasterDescription, styleToken)

		prompts = job.ImagePrompts{
			JobID:          j.JobID,
			CoverPrompt:    coverPrompt,
			NegativePrompt: negativePromptClause,
			PagePrompts:    pagePrompts,
			StyleToken:     styleToken,
		}
		return deps.Artifacts.SavePrompts(ctx, &prompts)
	})
	return code, err
}

// ensureAnchored guarantees the character's master description and the
// style token both appear verbatim in the final prompt, even if the LLM
// dropped one, since spec.md §8 property-tests for their literal presence.
func ensureAnchored(prompt, masterDescription, styleToken string) string {
	out := prompt
	if masterDescription != "" && !strings.Contains(out, masterDescription) {
		out = out + ". " + masterDescription
	}
	if styleToken != "" && !strings.Contains(out, styleToken) {
		out = out + ". Style: " + styleToken
	}
	return out
}

func buildPromptsPrompt(spec job.Specification, draft *job.StoryDraft, sheet *job.CharacterSheet) string {
	return fmt.Sprintf(
		"Write an image generation prompt for the cover and each of the following %d story pages, "+
			"every prompt must describe this character: %q. Style: %s. Pages: %v",
		len(draft.Pages), sheet.MasterDescription, string(spec.Style), draft.Pages,
	)
}

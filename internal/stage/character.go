package stage

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/sterlingstarai-ai/ai-story-book/internal/capability"
	"github.com/sterlingstarai-ai/ai-story-book/internal/job"
	"github.com/sterlingstarai-ai/ai-story-book/internal/store"
)

const characterSchema = `{
  "type": "object",
  "required": ["master_description"],
  "properties": {
    "master_description": {"type": "string"},
    "appearance": {"type": "object"},
    "clothing": {"type": "object"},
    "personality_traits": {"type": "array", "items": {"type": "string"}}
  }
}`

type characterLLMOutput struct {
	MasterDescription string          `json:"master_description"`
	Appearance        job.Appearance  `json:"appearance"`
	Clothing          job.Clothing    `json:"clothing"`
	PersonalityTraits []string        `json:"personality_traits"`
}

// RunCharacter is Stage D: load the first referenced character sheet if one
// exists, otherwise generate and persist a new one. The CharacterSheet's
// master_description becomes the visual anchor embedded in every Stage E
// prompt (spec.md §4.2 Stage D contract).
func RunCharacter(ctx context.Context, j *job.Job, deps Deps) (job.ErrorCode, job.CharacterSheet, error) {
	ids := j.Spec.CharacterIDs
	if len(ids) > 0 {
		sheet, err := deps.Characters.Get(ctx, ids[0])
		if err == nil {
			return "", *sheet, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return job.ErrDBWriteFailed, job.CharacterSheet{}, err
		}
	}

	var sheet job.CharacterSheet
	code, err := deps.Runner.Run(ctx, "D", Budgets.Character, classifyLLMError, func(ctx context.Context) error {
		deadline, _ := ctx.Deadline()
		raw, err := deps.LLM.Complete(ctx, buildCharacterPrompt(j.Spec), []byte(characterSchema), deadline)
		if err != nil {
			return err
		}
		var out characterLLMOutput
		if err := json.Unmarshal(raw, &out); err != nil {
			return &capability.LLMError{Kind: capability.LLMInvalidJSON, Err: err}
		}
		if out.MasterDescription == "" {
			return &capability.LLMError{Kind: capability.LLMInvalidJSON, Err: errEmptyMasterDescription}
		}

		characterID := ""
		if len(ids) > 0 {
			characterID = ids[0]
		} else {
			characterID = newID("char")
		}
		sheet = job.CharacterSheet{
			CharacterID:       characterID,
			MasterDescription: out.MasterDescription,
			Appearance:        out.Appearance,
			Clothing:          out.Clothing,
			PersonalityTraits: out.PersonalityTraits,
			CreatedAt:         deps.Clock.Now(),
		}
		return deps.Characters.Insert(ctx, &sheet)
	})
	if err != nil {
		return code, job.CharacterSheet{}, err
	}
	if len(ids) == 0 {
		j.Spec.CharacterIDs = []string{sheet.CharacterID}
	}
	return "", sheet, nil
}

var errEmptyMasterDescription = plainStageError("llm returned empty master_description")

type plainStageError string

func (e plainStageError) Error() string { return string(e) }

func classifyLLMError(err error) (job.ErrorCode, bool) {
	var llmErr *capability.LLMError
	if asLLMError(err, &llmErr) {
		switch llmErr.Kind {
		case capability.LLMTimeout:
			return job.ErrLLMTimeout, true
		default:
			return job.ErrLLMJSONInvalid, true
		}
	}
	return job.ErrDBWriteFailed, false
}

func buildCharacterPrompt(spec job.Specification) string {
	return "Create a detailed visual character sheet for the main character of a children's story about: " + spec.Topic
}

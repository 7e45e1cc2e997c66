package stage

import (
	"github.com/google/uuid"

	"github.com/sterlingstarai-ai/ai-story-book/internal/capability"
	"github.com/sterlingstarai-ai/ai-story-book/internal/clock"
	"github.com/sterlingstarai-ai/ai-story-book/internal/store"
)

// Logger is the minimal structured-logging interface stages depend on.
type Logger interface {
	Infow(msg string, kv ...any)
	Warnw(msg string, kv ...any)
	Errorw(msg string, kv ...any)
}

// Deps bundles every capability port and store a stage may need. Stages
// take this by value; it is a handful of interfaces, cheap to copy, and
// keeps each stage function's signature focused on the job it operates on.
type Deps struct {
	LLM        capability.LLMCompletion
	Image      capability.ImageGeneration
	Moderation capability.ContentModeration
	Objects    capability.ObjectStore

	Jobs       store.JobStore
	Characters store.CharacterStore
	Artifacts  store.ArtifactStore

	Runner *Runner
	Clock  clock.Clock
	Log    Logger

	ImageMaxConcurrent int
}

func newID(prefix string) string {
	return prefix + "_" + uuid.NewString()
}

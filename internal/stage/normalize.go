package stage

import (
	"context"

	"github.com/sterlingstarai-ai/ai-story-book/internal/job"
)

// RunNormalize is Stage A: canonicalize the specification in place
// (defaulting, resolving character references) and validate it. It is
// CPU-only -- no timeout, no retries (spec.md §4.2 Stage A row).
func RunNormalize(ctx context.Context, j *job.Job, deps Deps) (job.ErrorCode, error) {
	_, err := deps.Runner.Run(ctx, "A", Budgets.Normalize, func(error) (job.ErrorCode, bool) {
		return job.ErrDBWriteFailed, false
	}, func(context.Context) error {
		if err := job.ValidateSpecification(&j.Spec); err != nil {
			return err
		}
		j.Spec.CharacterIDs = j.Spec.ResolvedCharacterIDs()
		j.Spec.CharacterID = ""
		return nil
	})
	if err != nil {
		// Admission already validated the specification; reaching here means
		// an invariant was violated between admission and dispatch. There is
		// no dedicated error code for that, so it surfaces as the closest
		// terminal internal-failure code.
		return job.ErrDBWriteFailed, err
	}
	return "", nil
}

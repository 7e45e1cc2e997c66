package stage

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/sterlingstarai-ai/ai-story-book/internal/capability"
	"github.com/sterlingstarai-ai/ai-story-book/internal/job"
)

// GeneratedImages is Stage F's output: the cover plus one image per page
// number, held in memory for Stage H to upload. Nothing here is persisted
// until Stage H commits a full book (spec.md §4.2 "no partial book is
// published").
type GeneratedImages struct {
	Cover []byte
	Pages map[int][]byte
}

// RunImages is Stage F: the critical concurrent section. It launches N+1
// sibling image requests bounded by deps.ImageMaxConcurrent, using
// errgroup so any single exhausted retry budget cancels the remaining
// siblings (spec.md §4.2 Stage F contract, grounded on the teacher's
// bounded-fan-out pattern generalized from a single-provider call to an
// arbitrary-N image batch).
func RunImages(ctx context.Context, j *job.Job, prompts *job.ImagePrompts, deps Deps) (job.ErrorCode, GeneratedImages, error) {
	sem := make(chan struct{}, deps.ImageMaxConcurrent)
	g, gctx := errgroup.WithContext(ctx)

	total := len(prompts.PagePrompts) + 1
	var completed int64
	var mu sync.Mutex
	result := GeneratedImages{Pages: make(map[int][]byte, len(prompts.PagePrompts))}

	var firstCode atomic.Value // job.ErrorCode

	render := func(prompt string, assign func([]byte)) error {
		sem <- struct{}{}
		defer func() { <-sem }()

		code, err := deps.Runner.Run(gctx, "F", Budgets.Image, classifyImageError, func(ctx context.Context) error {
			deadline, _ := ctx.Deadline()
			data, err := deps.Image.Generate(ctx, prompt, prompts.NegativePrompt, prompts.StyleToken, deadline)
			if err != nil {
				return err
			}
			mu.Lock()
			assign(data)
			mu.Unlock()
			return nil
		})
		if err != nil {
			firstCode.Store(code)
			return fmt.Errorf("image generation failed: %w", err)
		}

		n := atomic.AddInt64(&completed, 1)
		progress := ProgressStageE + int(n)*(ProgressStageF-ProgressStageE)/total
		if advErr := deps.Jobs.AdvanceProgress(gctx, j.JobID, progress, "F"); advErr != nil {
			deps.Log.Warnw("advance progress failed", "job_id", j.JobID, "error", advErr.Error())
		}
		return nil
	}

	g.Go(func() error {
		return render(prompts.CoverPrompt, func(data []byte) { result.Cover = data })
	})
	for number, prompt := range prompts.PagePrompts {
		number, prompt := number, prompt
		g.Go(func() error {
			return render(prompt, func(data []byte) { result.Pages[number] = data })
		})
	}

	if err := g.Wait(); err != nil {
		code, _ := firstCode.Load().(job.ErrorCode)
		if code == "" {
			code = job.ErrImageFailed
		}
		return code, GeneratedImages{}, err
	}
	return "", result, nil
}

func classifyImageError(err error) (job.ErrorCode, bool) {
	var imgErr *capability.ImageError
	if e, ok := err.(*capability.ImageError); ok {
		imgErr = e
	}
	if imgErr != nil {
		switch imgErr.Kind {
		case capability.ImageTimeout:
			return job.ErrImageTimeout, true
		case capability.ImageRateLimit:
			return job.ErrImageRateLimit, true
		default:
			return job.ErrImageFailed, true
		}
	}
	return job.ErrImageFailed, true
}

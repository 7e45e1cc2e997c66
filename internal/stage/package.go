package stage

import (
	"context"
	"errors"
	"fmt"

	"github.com/sterlingstarai-ai/ai-story-book/internal/capability"
	"github.com/sterlingstarai-ai/ai-story-book/internal/job"
)

// RunPackage is Stage H: upload every image to object storage, then in a
// single transaction insert the Book row, its Page rows, and mark the job
// done (spec.md §4.2 Stage H contract). Storage failures retry once;
// a failure writing the transaction itself is terminal.
func RunPackage(ctx context.Context, j *job.Job, draft *job.StoryDraft, images *GeneratedImages, deps Deps) (job.ErrorCode, error) {
	bookID := newID("book")

	coverURL, err := uploadWithRetry(ctx, deps, fmt.Sprintf("books/%s/cover.png", bookID), images.Cover)
	if err != nil {
		return job.ErrStorageUploadFailed, err
	}

	pages := make([]job.Page, 0, len(draft.Pages))
	prompts, promptErr := deps.Artifacts.GetPrompts(ctx, j.JobID)
	for _, p := range draft.Pages {
		data, ok := images.Pages[p.Number]
		if !ok {
			return job.ErrStorageUploadFailed, fmt.Errorf("missing rendered image for page %d", p.Number)
		}
		url, err := uploadWithRetry(ctx, deps, fmt.Sprintf("books/%s/pages/%d.png", bookID, p.Number), data)
		if err != nil {
			return job.ErrStorageUploadFailed, err
		}
		pagePrompt := ""
		if promptErr == nil && prompts != nil {
			pagePrompt = prompts.PagePrompts[p.Number]
		}
		pages = append(pages, job.Page{
			BookID:      bookID,
			PageNumber:  p.Number,
			Text:        p.Text,
			ImageURL:    url,
			ImagePrompt: pagePrompt,
		})
	}

	book := job.Book{
		BookID:        bookID,
		JobID:         j.JobID,
		Title:         draft.Title,
		Language:      j.Spec.Language,
		TargetAge:     j.Spec.TargetAge,
		Style:         j.Spec.Style,
		Theme:         j.Spec.Theme,
		CharacterIDs:  j.Spec.CharacterIDs,
		CoverImageURL: coverURL,
		UserKey:       j.UserKey,
		CreatedAt:     deps.Clock.Now(),
	}

	if err := deps.Artifacts.PublishBook(ctx, &book, pages); err != nil {
		return job.ErrDBWriteFailed, err
	}
	j.BookID = bookID
	j.Status = job.StatusDone
	j.Progress = ProgressStageH
	return "", nil
}

func uploadWithRetry(ctx context.Context, deps Deps, key string, data []byte) (string, error) {
	var url string
	_, err := deps.Runner.Run(ctx, "H", Budgets.Package, classifyStorageError, func(ctx context.Context) error {
		u, err := deps.Objects.Put(ctx, key, data)
		if err != nil {
			return err
		}
		url = u
		return nil
	})
	if err != nil {
		return "", err
	}
	return url, nil
}

func classifyStorageError(err error) (job.ErrorCode, bool) {
	if errors.Is(err, capability.ErrStorageUnavailable) {
		return job.ErrStorageUploadFailed, true
	}
	return job.ErrStorageUploadFailed, true
}

package regenerate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sterlingstarai-ai/ai-story-book/internal/capability"
	"github.com/sterlingstarai-ai/ai-story-book/internal/clock"
	"github.com/sterlingstarai-ai/ai-story-book/internal/job"
	"github.com/sterlingstarai-ai/ai-story-book/internal/stage"
	"github.com/sterlingstarai-ai/ai-story-book/internal/store"
)

type fakeJobStore struct {
	store.JobStore
	job *job.Job
}

func (f *fakeJobStore) Get(ctx context.Context, jobID string) (*job.Job, error) {
	if f.job == nil || f.job.JobID != jobID {
		return nil, store.ErrNotFound
	}
	return f.job, nil
}

type fakeArtifactStore struct {
	store.ArtifactStore
	book    *job.Book
	pages   []job.Page
	prompts *job.ImagePrompts
	updated *job.Page
}

func (f *fakeArtifactStore) GetBookByJobID(ctx context.Context, jobID string) (*job.Book, []job.Page, error) {
	return f.book, f.pages, nil
}

func (f *fakeArtifactStore) GetPrompts(ctx context.Context, jobID string) (*job.ImagePrompts, error) {
	return f.prompts, nil
}

func (f *fakeArtifactStore) UpdatePage(ctx context.Context, bookID string, page job.Page) error {
	f.updated = &page
	return nil
}

type fakeLLM struct {
	response string
}

func (f *fakeLLM) Complete(ctx context.Context, prompt string, schema []byte, deadline time.Time) ([]byte, error) {
	return []byte(f.response), nil
}

type fakeImage struct {
	data []byte
}

func (f *fakeImage) Generate(ctx context.Context, prompt, negativePrompt, styleToken string, deadline time.Time) ([]byte, error) {
	return f.data, nil
}

type fakeObjectStore struct {
	capability.ObjectStore
	url string
}

func (f *fakeObjectStore) Put(ctx context.Context, key string, data []byte) (string, error) {
	return f.url, nil
}

type noopLog struct{}

func (noopLog) Infow(msg string, kv ...any)  {}
func (noopLog) Errorw(msg string, kv ...any) {}

func newTestController(t *testing.T) (*Controller, *fakeJobStore, *fakeArtifactStore) {
	t.Helper()
	j := &job.Job{
		JobID:  "job_1",
		Status: job.StatusDone,
		Spec:   job.Specification{TargetAge: job.Age3to5},
	}
	jobs := &fakeJobStore{job: j}
	artifacts := &fakeArtifactStore{
		book:  &job.Book{BookID: "book_1", JobID: "job_1"},
		pages: []job.Page{{BookID: "book_1", PageNumber: 2, Text: "Old text.", ImageURL: "https://old"}},
		prompts: &job.ImagePrompts{
			JobID:          "job_1",
			PagePrompts:    map[int]string{2: "a cat in a garden"},
			NegativePrompt: "no text",
			StyleToken:     "watercolor, soft edges",
		},
	}

	ctrl := &Controller{
		Jobs:      jobs,
		Artifacts: artifacts,
		StageDeps: stage.Deps{
			LLM:   &fakeLLM{response: `{"text":"New cheerful text here."}`},
			Image: &fakeImage{data: []byte("png-bytes")},
			Objects: &fakeObjectStore{url: "https://cdn.example.com/books/book_1/pages/2.png"},
			Clock: clock.NewFake(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)),
		},
		Log: noopLog{},
	}
	return ctrl, jobs, artifacts
}

func TestRegeneratePage_TextOnly(t *testing.T) {
	ctrl, _, artifacts := newTestController(t)

	err := ctrl.RegeneratePage(context.Background(), "job_1", 2, TargetText)
	require.NoError(t, err)

	require.NotNil(t, artifacts.updated)
	assert.Equal(t, "New cheerful text here.", artifacts.updated.Text)
	assert.Equal(t, "https://old", artifacts.updated.ImageURL)
}

func TestRegeneratePage_ImageOnly(t *testing.T) {
	ctrl, _, artifacts := newTestController(t)

	err := ctrl.RegeneratePage(context.Background(), "job_1", 2, TargetImage)
	require.NoError(t, err)

	require.NotNil(t, artifacts.updated)
	assert.Equal(t, "Old text.", artifacts.updated.Text)
	assert.Equal(t, "https://cdn.example.com/books/book_1/pages/2.png", artifacts.updated.ImageURL)
}

func TestRegeneratePage_Both(t *testing.T) {
	ctrl, _, artifacts := newTestController(t)

	err := ctrl.RegeneratePage(context.Background(), "job_1", 2, TargetBoth)
	require.NoError(t, err)

	assert.Equal(t, "New cheerful text here.", artifacts.updated.Text)
	assert.Equal(t, "https://cdn.example.com/books/book_1/pages/2.png", artifacts.updated.ImageURL)
}

func TestRegeneratePage_RejectsNonDoneJob(t *testing.T) {
	ctrl, jobs, _ := newTestController(t)
	jobs.job.Status = job.StatusRunning

	err := ctrl.RegeneratePage(context.Background(), "job_1", 2, TargetText)
	assert.Error(t, err)
}

func TestRegeneratePage_UnknownPage(t *testing.T) {
	ctrl, _, _ := newTestController(t)

	err := ctrl.RegeneratePage(context.Background(), "job_1", 99, TargetText)
	assert.Error(t, err)
}

func TestRegeneratePage_RejectsOverlongRewrite(t *testing.T) {
	ctrl, _, _ := newTestController(t)
	ctrl.StageDeps.LLM = &fakeLLM{response: `{"text":"One. Two. Three. Four. Five. Six. Seven."}`}

	err := ctrl.RegeneratePage(context.Background(), "job_1", 2, TargetText)
	assert.Error(t, err)
}

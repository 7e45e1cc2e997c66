// Package store implements the Job Store (C2): the durable record of every
// job, its progress and moderation verdicts, plus the Character, Book and
// Page tables that pipeline stages write to. It is backed by Postgres via
// database/sql and github.com/lib/pq, following the teacher's kvstore
// package in spirit (one store type, narrow per-entity methods, explicit
// index-shaped queries) but with real SQL uniqueness and index guarantees
// instead of hand-maintained KV index keys.
package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/sterlingstarai-ai/ai-story-book/internal/job"
)

// ErrNotFound is returned when a lookup finds no matching row.
var ErrNotFound = errors.New("store: not found")

// JobStore is the C2 capability port consumed by Admission, the
// Orchestrator, and the Monitor.
type JobStore interface {
	// Insert creates a new job row. Returns ErrConflict if
	// (user_key, idempotency_key) already exists.
	Insert(ctx context.Context, j *job.Job) error

	// Get loads a job by id.
	Get(ctx context.Context, jobID string) (*job.Job, error)

	// FindByIdempotencyKey implements the admission idempotency probe.
	FindByIdempotencyKey(ctx context.Context, userKey, idempotencyKey string) (*job.Job, error)

	// Update persists a full job record. Callers must have just read the
	// row (directly or via a CAS variant) within the same logical
	// operation; Update does not itself serialize concurrent writers.
	Update(ctx context.Context, j *job.Job) error

	// CompareAndSwapStatus performs the Monitor's conditional transition:
	// it only applies mutate to the job if the stored status still equals
	// expectedStatus and the stored updated_at still equals
	// expectedUpdatedAt, so a stage that has just made progress is never
	// clobbered by a racing sweep.
	CompareAndSwapStatus(ctx context.Context, jobID string, expectedStatus job.Status, expectedUpdatedAt time.Time, mutate func(j *job.Job)) (bool, error)

	// AdvanceProgress applies a monotone `progress = greatest(progress,
	// proposed)` update, serializing Stage F's racing image completions on
	// the job row.
	AdvanceProgress(ctx context.Context, jobID string, proposed int, currentStep string) error

	// CountByStatus counts jobs in the given statuses (the overload
	// guardrail).
	CountByStatus(ctx context.Context, statuses ...job.Status) (int, error)

	// CountCreatedToday counts a user's jobs created since UTC midnight
	// (the daily cap guardrail).
	CountCreatedToday(ctx context.Context, userKey string, now time.Time) (int, error)

	// CountByStatusSince counts jobs in the given status whose updated_at
	// is at or after since (the detailed_health windowed counts).
	CountByStatusSince(ctx context.Context, status job.Status, since time.Time) (int, error)

	// ListRunningOlderThan returns jobs with status=running whose
	// updated_at predates the cutoff (stuck detection).
	ListRunningOlderThan(ctx context.Context, cutoff time.Time) ([]*job.Job, error)

	// ListSLABreaching returns queued/running jobs created before the
	// cutoff (SLA enforcement), regardless of which stage is active.
	ListSLABreaching(ctx context.Context, cutoff time.Time) ([]*job.Job, error)
}

// CharacterStore persists CharacterSheets, which outlive jobs.
type CharacterStore interface {
	Insert(ctx context.Context, c *job.CharacterSheet) error
	Get(ctx context.Context, characterID string) (*job.CharacterSheet, error)
}

// ArtifactStore persists the write-once intermediate artifacts (StoryDraft,
// ImagePrompts) and the terminal Book/Page rows.
type ArtifactStore interface {
	SaveDraft(ctx context.Context, d *job.StoryDraft) error
	GetDraft(ctx context.Context, jobID string) (*job.StoryDraft, error)

	SavePrompts(ctx context.Context, p *job.ImagePrompts) error
	GetPrompts(ctx context.Context, jobID string) (*job.ImagePrompts, error)

	// PublishBook inserts the Book and its Pages and marks the job done in
	// a single transaction (Stage H). Returns ErrConflict if a Book already
	// exists for job.JobID, making the publish idempotent under races
	// between the Orchestrator and a Monitor-driven SLA failure.
	PublishBook(ctx context.Context, b *job.Book, pages []job.Page) error

	GetBook(ctx context.Context, bookID string) (*job.Book, []job.Page, error)
	GetBookByJobID(ctx context.Context, jobID string) (*job.Book, []job.Page, error)

	// UpdatePage overwrites one page's text/image fields in place, for
	// regenerate_page. It does not touch the job row.
	UpdatePage(ctx context.Context, bookID string, page job.Page) error
}

// DB is the shared connection pool handed to each sub-store constructor.
type DB struct {
	*sql.DB
}

// Open opens a Postgres connection pool and applies the schema.
func Open(ctx context.Context, dsn string, maxOpen, maxIdle int) (*DB, error) {
	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, err
	}
	if _, err := sqlDB.ExecContext(ctx, Schema); err != nil {
		return nil, err
	}
	return &DB{sqlDB}, nil
}

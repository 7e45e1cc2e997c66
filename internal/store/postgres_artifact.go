package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	pkgerrors "github.com/pkg/errors"

	"github.com/sterlingstarai-ai/ai-story-book/internal/job"
)

type pgArtifactStore struct {
	db *DB
}

// NewArtifactStore returns a Postgres-backed ArtifactStore.
func NewArtifactStore(db *DB) ArtifactStore { return &pgArtifactStore{db: db} }

func (s *pgArtifactStore) SaveDraft(ctx context.Context, d *job.StoryDraft) error {
	pages, err := json.Marshal(d.Pages)
	if err != nil {
		return pkgerrors.Wrap(err, "marshal pages")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO story_drafts (job_id, title, pages) VALUES ($1, $2, $3)
		ON CONFLICT (job_id) DO UPDATE SET title = EXCLUDED.title, pages = EXCLUDED.pages
	`, d.JobID, d.Title, pages)
	return pkgerrors.Wrap(err, "save draft")
}

func (s *pgArtifactStore) GetDraft(ctx context.Context, jobID string) (*job.StoryDraft, error) {
	var d job.StoryDraft
	d.JobID = jobID
	var pages []byte
	err := s.db.QueryRowContext(ctx, `SELECT title, pages FROM story_drafts WHERE job_id = $1`, jobID).Scan(&d.Title, &pages)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, pkgerrors.Wrap(err, "get draft")
	}
	if err := json.Unmarshal(pages, &d.Pages); err != nil {
		return nil, pkgerrors.Wrap(err, "unmarshal pages")
	}
	return &d, nil
}

func (s *pgArtifactStore) SavePrompts(ctx context.Context, p *job.ImagePrompts) error {
	pagePrompts, err := json.Marshal(p.PagePrompts)
	if err != nil {
		return pkgerrors.Wrap(err, "marshal page prompts")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO image_prompts (job_id, cover_prompt, negative_prompt, page_prompts, style_token)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (job_id) DO UPDATE SET cover_prompt = EXCLUDED.cover_prompt,
			negative_prompt = EXCLUDED.negative_prompt, page_prompts = EXCLUDED.page_prompts, style_token = EXCLUDED.style_token
	`, p.JobID, p.CoverPrompt, p.NegativePrompt, pagePrompts, p.StyleToken)
	return pkgerrors.Wrap(err, "save prompts")
}

func (s *pgArtifactStore) GetPrompts(ctx context.Context, jobID string) (*job.ImagePrompts, error) {
	var p job.ImagePrompts
	p.JobID = jobID
	var pagePrompts []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT cover_prompt, negative_prompt, page_prompts, style_token FROM image_prompts WHERE job_id = $1
	`, jobID).Scan(&p.CoverPrompt, &p.NegativePrompt, &pagePrompts, &p.StyleToken)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, pkgerrors.Wrap(err, "get prompts")
	}
	if err := json.Unmarshal(pagePrompts, &p.PagePrompts); err != nil {
		return nil, pkgerrors.Wrap(err, "unmarshal page prompts")
	}
	return &p, nil
}

// PublishBook inserts the Book and its Pages and marks the job done, all in
// one transaction, so a crash between the two never leaves a Book with no
// job or a job marked done with no Book (spec.md §8: "a Book with matching
// job_id and exactly spec.page_count pages exists").
func (s *pgArtifactStore) PublishBook(ctx context.Context, b *job.Book, pages []job.Page) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return pkgerrors.Wrap(err, "begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	characterIDsJSON, err := json.Marshal(b.CharacterIDs)
	if err != nil {
		return pkgerrors.Wrap(err, "marshal character ids")
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO books (book_id, job_id, title, language, target_age, style, theme, character_ids, cover_image_url, user_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, b.BookID, b.JobID, b.Title, b.Language, string(b.TargetAge), string(b.Style), b.Theme, characterIDsJSON, b.CoverImageURL, b.UserKey, b.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return pkgerrors.Wrap(err, "insert book")
	}

	for _, p := range pages {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO pages (book_id, page_number, text, image_url, image_prompt) VALUES ($1, $2, $3, $4, $5)
		`, b.BookID, p.PageNumber, p.Text, p.ImageURL, p.ImagePrompt)
		if err != nil {
			return pkgerrors.Wrap(err, "insert page")
		}
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE jobs SET status = $2, progress = 100, book_id = $3, updated_at = now() WHERE job_id = $1
	`, b.JobID, job.StatusDone, b.BookID)
	if err != nil {
		return pkgerrors.Wrap(err, "mark job done")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return pkgerrors.Wrap(err, "commit publish")
	}
	return nil
}

func (s *pgArtifactStore) GetBook(ctx context.Context, bookID string) (*job.Book, []job.Page, error) {
	var b job.Book
	var targetAge, style string
	var characterIDs []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT book_id, job_id, title, language, target_age, style, theme, character_ids, cover_image_url, user_key, created_at
		FROM books WHERE book_id = $1
	`, bookID).Scan(&b.BookID, &b.JobID, &b.Title, &b.Language, &targetAge, &style, &b.Theme, &characterIDs, &b.CoverImageURL, &b.UserKey, &b.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, pkgerrors.Wrap(err, "get book")
	}
	b.TargetAge = job.AgeBand(targetAge)
	b.Style = job.Style(style)
	_ = json.Unmarshal(characterIDs, &b.CharacterIDs)

	pages, err := s.listPages(ctx, bookID)
	if err != nil {
		return nil, nil, err
	}
	return &b, pages, nil
}

func (s *pgArtifactStore) GetBookByJobID(ctx context.Context, jobID string) (*job.Book, []job.Page, error) {
	var bookID string
	err := s.db.QueryRowContext(ctx, `SELECT book_id FROM books WHERE job_id = $1`, jobID).Scan(&bookID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, pkgerrors.Wrap(err, "get book by job id")
	}
	return s.GetBook(ctx, bookID)
}

func (s *pgArtifactStore) UpdatePage(ctx context.Context, bookID string, page job.Page) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE pages SET text = $3, image_url = $4, image_prompt = $5 WHERE book_id = $1 AND page_number = $2
	`, bookID, page.PageNumber, page.Text, page.ImageURL, page.ImagePrompt)
	if err != nil {
		return pkgerrors.Wrap(err, "update page")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *pgArtifactStore) listPages(ctx context.Context, bookID string) ([]job.Page, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT book_id, page_number, text, image_url, image_prompt FROM pages WHERE book_id = $1 ORDER BY page_number
	`, bookID)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "list pages")
	}
	defer rows.Close()

	var out []job.Page
	for rows.Next() {
		var p job.Page
		if err := rows.Scan(&p.BookID, &p.PageNumber, &p.Text, &p.ImageURL, &p.ImagePrompt); err != nil {
			return nil, pkgerrors.Wrap(err, "scan page")
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

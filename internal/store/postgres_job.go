package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/lib/pq"
	pkgerrors "github.com/pkg/errors"

	"github.com/sterlingstarai-ai/ai-story-book/internal/job"
)

// ErrConflict is returned when a unique-constraint violation indicates a
// duplicate admission or a double-publish.
var ErrConflict = errors.New("store: conflict")

type pgJobStore struct {
	db *DB
}

// NewJobStore returns a Postgres-backed JobStore.
func NewJobStore(db *DB) JobStore { return &pgJobStore{db: db} }

func (s *pgJobStore) Insert(ctx context.Context, j *job.Job) error {
	specJSON, err := json.Marshal(j.Spec)
	if err != nil {
		return pkgerrors.Wrap(err, "marshal spec")
	}
	idem := sql.NullString{String: j.IdempotencyKey, Valid: j.IdempotencyKey != ""}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (job_id, user_key, idempotency_key, spec, status, progress, current_step, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, j.JobID, j.UserKey, idem, specJSON, j.Status, j.Progress, j.CurrentStep, j.CreatedAt, j.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return pkgerrors.Wrap(err, "insert job")
	}
	return nil
}

func (s *pgJobStore) Get(ctx context.Context, jobID string) (*job.Job, error) {
	row := s.db.QueryRowContext(ctx, jobSelectCols+` FROM jobs WHERE job_id = $1`, jobID)
	return scanJob(row)
}

func (s *pgJobStore) FindByIdempotencyKey(ctx context.Context, userKey, idempotencyKey string) (*job.Job, error) {
	if idempotencyKey == "" {
		return nil, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, jobSelectCols+` FROM jobs WHERE user_key = $1 AND idempotency_key = $2`, userKey, idempotencyKey)
	return scanJob(row)
}

func (s *pgJobStore) Update(ctx context.Context, j *job.Job) error {
	specJSON, err := json.Marshal(j.Spec)
	if err != nil {
		return pkgerrors.Wrap(err, "marshal spec")
	}
	modIn, err := marshalNullable(j.ModerationInput)
	if err != nil {
		return err
	}
	modOut, err := marshalNullable(j.ModerationOutput)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET spec=$2, status=$3, progress=$4, current_step=$5,
			moderation_input=$6, moderation_output=$7, error_code=$8, error_message=$9,
			retry_count=$10, last_retry_at=$11, book_id=$12, updated_at=$13
		WHERE job_id = $1
	`, j.JobID, specJSON, j.Status, j.Progress, j.CurrentStep, modIn, modOut,
		string(j.ErrorCode), j.ErrorMessage, j.RetryCount, j.LastRetryAt, j.BookID, j.UpdatedAt)
	if err != nil {
		return pkgerrors.Wrap(err, "update job")
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CompareAndSwapStatus is the Monitor's conditional-update primitive: it
// rereads the row inside a transaction, checks the compare-and-set
// predicate, applies `mutate`, and writes back only if the predicate still
// holds, so it never clobbers a stage that has just made progress.
func (s *pgJobStore) CompareAndSwapStatus(ctx context.Context, jobID string, expectedStatus job.Status, expectedUpdatedAt time.Time, mutate func(j *job.Job)) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, pkgerrors.Wrap(err, "begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	row := tx.QueryRowContext(ctx, jobSelectCols+` FROM jobs WHERE job_id = $1 FOR UPDATE`, jobID)
	current, err := scanJob(row)
	if err != nil {
		return false, err
	}
	if current.Status != expectedStatus || !current.UpdatedAt.Equal(expectedUpdatedAt) {
		return false, nil // lost the race; caller should skip this job this sweep.
	}

	mutate(current)

	specJSON, err := json.Marshal(current.Spec)
	if err != nil {
		return false, pkgerrors.Wrap(err, "marshal spec")
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE jobs SET spec=$2, status=$3, progress=$4, current_step=$5,
			error_code=$6, error_message=$7, retry_count=$8, last_retry_at=$9, book_id=$10, updated_at=$11
		WHERE job_id = $1
	`, current.JobID, specJSON, current.Status, current.Progress, current.CurrentStep,
		string(current.ErrorCode), current.ErrorMessage, current.RetryCount, current.LastRetryAt, current.BookID, current.UpdatedAt)
	if err != nil {
		return false, pkgerrors.Wrap(err, "write cas update")
	}
	if err := tx.Commit(); err != nil {
		return false, pkgerrors.Wrap(err, "commit cas")
	}
	return true, nil
}

// AdvanceProgress applies progress = greatest(progress, proposed) inside the
// database so concurrent Stage F goroutines never regress the stored value,
// even though their local view of progress races.
func (s *pgJobStore) AdvanceProgress(ctx context.Context, jobID string, proposed int, currentStep string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET progress = GREATEST(progress, $2), current_step = $3, updated_at = now()
		WHERE job_id = $1
	`, jobID, proposed, currentStep)
	return pkgerrors.Wrap(err, "advance progress")
}

func (s *pgJobStore) CountByStatus(ctx context.Context, statuses ...job.Status) (int, error) {
	ss := make([]string, len(statuses))
	for i, st := range statuses {
		ss[i] = string(st)
	}
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM jobs WHERE status = ANY($1)`, pq.Array(ss)).Scan(&count)
	return count, pkgerrors.Wrap(err, "count by status")
}

func (s *pgJobStore) CountCreatedToday(ctx context.Context, userKey string, now time.Time) (int, error) {
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM jobs WHERE user_key = $1 AND created_at >= $2`, userKey, startOfDay).Scan(&count)
	return count, pkgerrors.Wrap(err, "count created today")
}

func (s *pgJobStore) CountByStatusSince(ctx context.Context, status job.Status, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM jobs WHERE status = $1 AND updated_at >= $2`, string(status), since).Scan(&count)
	return count, pkgerrors.Wrap(err, "count by status since")
}

func (s *pgJobStore) ListRunningOlderThan(ctx context.Context, cutoff time.Time) ([]*job.Job, error) {
	rows, err := s.db.QueryContext(ctx, jobSelectCols+` FROM jobs WHERE status = $1 AND updated_at < $2`, job.StatusRunning, cutoff)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "list running older than")
	}
	return scanJobs(rows)
}

func (s *pgJobStore) ListSLABreaching(ctx context.Context, cutoff time.Time) ([]*job.Job, error) {
	rows, err := s.db.QueryContext(ctx, jobSelectCols+` FROM jobs WHERE status = ANY($1) AND created_at < $2`,
		pq.Array([]string{string(job.StatusQueued), string(job.StatusRunning)}), cutoff)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "list sla breaching")
	}
	return scanJobs(rows)
}

const jobSelectCols = `SELECT job_id, user_key, coalesce(idempotency_key, ''), spec, status, progress, current_step,
	moderation_input, moderation_output, error_code, error_message, retry_count, last_retry_at, book_id, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*job.Job, error) {
	var j job.Job
	var specJSON []byte
	var modIn, modOut []byte
	var errCode, errMsg string

	err := row.Scan(&j.JobID, &j.UserKey, &j.IdempotencyKey, &specJSON, &j.Status, &j.Progress, &j.CurrentStep,
		&modIn, &modOut, &errCode, &errMsg, &j.RetryCount, &j.LastRetryAt, &j.BookID, &j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, pkgerrors.Wrap(err, "scan job")
	}
	j.ErrorCode = job.ErrorCode(errCode)
	j.ErrorMessage = errMsg
	if err := json.Unmarshal(specJSON, &j.Spec); err != nil {
		return nil, pkgerrors.Wrap(err, "unmarshal spec")
	}
	if len(modIn) > 0 {
		j.ModerationInput = &job.ModerationVerdict{}
		if err := json.Unmarshal(modIn, j.ModerationInput); err != nil {
			return nil, pkgerrors.Wrap(err, "unmarshal moderation_input")
		}
	}
	if len(modOut) > 0 {
		j.ModerationOutput = &job.ModerationVerdict{}
		if err := json.Unmarshal(modOut, j.ModerationOutput); err != nil {
			return nil, pkgerrors.Wrap(err, "unmarshal moderation_output")
		}
	}
	return &j, nil
}

func scanJobs(rows *sql.Rows) ([]*job.Job, error) {
	defer rows.Close()
	var out []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func marshalNullable(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "marshal nullable")
	}
	return b, nil
}

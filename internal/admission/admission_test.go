package admission

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sterlingstarai-ai/ai-story-book/internal/clock"
	"github.com/sterlingstarai-ai/ai-story-book/internal/job"
	"github.com/sterlingstarai-ai/ai-story-book/internal/ledger"
	"github.com/sterlingstarai-ai/ai-story-book/internal/ratelimit"
	"github.com/sterlingstarai-ai/ai-story-book/internal/store"
)

type fakeJobs struct {
	store.JobStore
	byIdempotency map[string]*job.Job
	inserted      []*job.Job
	insertErr     error
	pending       int
	createdToday  int
}

func (f *fakeJobs) FindByIdempotencyKey(ctx context.Context, userKey, idempotencyKey string) (*job.Job, error) {
	if j, ok := f.byIdempotency[userKey+"/"+idempotencyKey]; ok {
		return j, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeJobs) CountCreatedToday(ctx context.Context, userKey string, now time.Time) (int, error) {
	return f.createdToday, nil
}

func (f *fakeJobs) CountByStatus(ctx context.Context, statuses ...job.Status) (int, error) {
	return f.pending, nil
}

func (f *fakeJobs) Insert(ctx context.Context, j *job.Job) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.inserted = append(f.inserted, j)
	return nil
}

type fakeLedger struct {
	ledger.Ledger
	debitErr   error
	debited    []string
	refunded   []string
}

func (f *fakeLedger) Debit(ctx context.Context, userKey string, amount int64, reason, jobID string) (int64, error) {
	if f.debitErr != nil {
		return 0, f.debitErr
	}
	f.debited = append(f.debited, jobID)
	return 9, nil
}

func (f *fakeLedger) Refund(ctx context.Context, userKey string, amount int64, reason, jobID string) (int64, error) {
	f.refunded = append(f.refunded, jobID)
	return 10, nil
}

type allowAllLimiter struct{ decision ratelimit.Decision }

func (l allowAllLimiter) Check(userKey string) ratelimit.Decision { return l.decision }

type fakeDispatcher struct{ dispatched []string }

func (d *fakeDispatcher) Dispatch(jobID string) { d.dispatched = append(d.dispatched, jobID) }

type noopLog struct{}

func (noopLog) Infow(msg string, kv ...any) {}
func (noopLog) Warnw(msg string, kv ...any) {}

func newTestController() (*Controller, *fakeJobs, *fakeLedger, *fakeDispatcher) {
	jobs := &fakeJobs{byIdempotency: map[string]*job.Job{}}
	led := &fakeLedger{}
	dispatch := &fakeDispatcher{}
	ctrl := &Controller{
		Jobs:                 jobs,
		Ledger:               led,
		RateLimit:            allowAllLimiter{decision: ratelimit.Decision{Allow: true}},
		Dispatch:             dispatch,
		Clock:                clock.NewFake(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)),
		Log:                  noopLog{},
		DailyJobLimitPerUser: 20,
		MaxPendingJobs:       100,
	}
	return ctrl, jobs, led, dispatch
}

func validSpec() job.Specification {
	return job.Specification{
		Topic:     "a brave little fox",
		Language:  "en",
		TargetAge: job.Age5to7,
		Style:     job.StyleWatercolor,
		PageCount: job.DefaultPageCount,
	}
}

func TestAdmit_HappyPath(t *testing.T) {
	ctrl, jobs, led, dispatch := newTestController()

	jobID, err := ctrl.Admit(context.Background(), Request{UserKey: "user-0123456789", Spec: validSpec()})
	require.NoError(t, err)
	assert.NotEmpty(t, jobID)
	assert.Len(t, jobs.inserted, 1)
	assert.Equal(t, []string{jobID}, led.debited)
	assert.Equal(t, []string{jobID}, dispatch.dispatched)
}

func TestAdmit_IdempotentReplay(t *testing.T) {
	ctrl, jobs, _, dispatch := newTestController()
	jobs.byIdempotency["user-0123456789/abc"] = &job.Job{JobID: "job_existing"}

	jobID, err := ctrl.Admit(context.Background(), Request{UserKey: "user-0123456789", Spec: validSpec(), IdempotencyKey: "abc"})
	require.NoError(t, err)
	assert.Equal(t, "job_existing", jobID)
	assert.Empty(t, dispatch.dispatched, "idempotent replay must not dispatch again")
}

func TestAdmit_RejectsInvalidSpec(t *testing.T) {
	ctrl, _, _, _ := newTestController()
	badSpec := validSpec()
	badSpec.Style = "unknown"

	_, err := ctrl.Admit(context.Background(), Request{UserKey: "user-0123456789", Spec: badSpec})
	assert.Error(t, err)
}

func TestAdmit_RateLimited(t *testing.T) {
	ctrl, _, _, dispatch := newTestController()
	ctrl.RateLimit = allowAllLimiter{decision: ratelimit.Decision{Allow: false, RetryAfter: time.Second}}

	_, err := ctrl.Admit(context.Background(), Request{UserKey: "user-0123456789", Spec: validSpec()})
	require.Error(t, err)
	var admErr *AdmissionError
	require.ErrorAs(t, err, &admErr)
	assert.Equal(t, job.ErrRateLimited, admErr.Code)
	assert.Empty(t, dispatch.dispatched)
}

func TestAdmit_DailyLimitReached(t *testing.T) {
	ctrl, jobs, _, _ := newTestController()
	jobs.createdToday = ctrl.DailyJobLimitPerUser

	_, err := ctrl.Admit(context.Background(), Request{UserKey: "user-0123456789", Spec: validSpec()})
	var admErr *AdmissionError
	require.ErrorAs(t, err, &admErr)
	assert.Equal(t, job.ErrDailyLimit, admErr.Code)
}

func TestAdmit_Overloaded(t *testing.T) {
	ctrl, jobs, _, _ := newTestController()
	jobs.pending = ctrl.MaxPendingJobs

	_, err := ctrl.Admit(context.Background(), Request{UserKey: "user-0123456789", Spec: validSpec()})
	var admErr *AdmissionError
	require.ErrorAs(t, err, &admErr)
	assert.Equal(t, job.ErrOverloaded, admErr.Code)
}

func TestAdmit_NoCredits(t *testing.T) {
	ctrl, _, led, _ := newTestController()
	led.debitErr = ledger.ErrInsufficientFunds

	_, err := ctrl.Admit(context.Background(), Request{UserKey: "user-0123456789", Spec: validSpec()})
	var admErr *AdmissionError
	require.ErrorAs(t, err, &admErr)
	assert.Equal(t, job.ErrNoCredits, admErr.Code)
}

func TestAdmit_RefundsOnInsertFailure(t *testing.T) {
	ctrl, jobs, led, dispatch := newTestController()
	jobs.insertErr = assertAnError{}

	_, err := ctrl.Admit(context.Background(), Request{UserKey: "user-0123456789", Spec: validSpec()})
	assert.Error(t, err)
	assert.Len(t, led.refunded, 1)
	assert.Empty(t, dispatch.dispatched)
}

type assertAnError struct{}

func (assertAnError) Error() string { return "insert failed" }

package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sterlingstarai-ai/ai-story-book/internal/clock"
	"github.com/sterlingstarai-ai/ai-story-book/internal/job"
	"github.com/sterlingstarai-ai/ai-story-book/internal/ledger"
	"github.com/sterlingstarai-ai/ai-story-book/internal/store"
)

type fakeJobs struct {
	store.JobStore
	running       []*job.Job
	slaBreaching  []*job.Job
	casCalls      []casCall
	casApplyFalse bool
}

type casCall struct {
	JobID          string
	ExpectedStatus job.Status
	Mutated        *job.Job
}

func (f *fakeJobs) ListRunningOlderThan(ctx context.Context, cutoff time.Time) ([]*job.Job, error) {
	return f.running, nil
}

func (f *fakeJobs) ListSLABreaching(ctx context.Context, cutoff time.Time) ([]*job.Job, error) {
	return f.slaBreaching, nil
}

func (f *fakeJobs) CompareAndSwapStatus(ctx context.Context, jobID string, expectedStatus job.Status, expectedUpdatedAt time.Time, mutate func(j *job.Job)) (bool, error) {
	var cur *job.Job
	for _, j := range f.running {
		if j.JobID == jobID {
			cur = j
		}
	}
	for _, j := range f.slaBreaching {
		if j.JobID == jobID {
			cur = j
		}
	}
	if cur == nil {
		cur = &job.Job{JobID: jobID}
	}
	clone := *cur
	mutate(&clone)
	f.casCalls = append(f.casCalls, casCall{JobID: jobID, ExpectedStatus: expectedStatus, Mutated: &clone})
	if f.casApplyFalse {
		return false, nil
	}
	return true, nil
}

type fakeArtifacts struct {
	store.ArtifactStore
	bookExists map[string]bool
}

func (f *fakeArtifacts) GetBookByJobID(ctx context.Context, jobID string) (*job.Book, []job.Page, error) {
	if f.bookExists[jobID] {
		return &job.Book{JobID: jobID}, nil, nil
	}
	return nil, nil, store.ErrNotFound
}

type refundCall struct {
	UserKey string
	Reason  string
	JobID   string
}

type fakeLedger struct {
	ledger.Ledger
	refunded []refundCall
}

func (f *fakeLedger) Refund(ctx context.Context, userKey string, amount int64, reason, jobID string) (int64, error) {
	f.refunded = append(f.refunded, refundCall{userKey, reason, jobID})
	return 0, nil
}

type fakeDispatcher struct{ dispatched []string }

func (d *fakeDispatcher) Dispatch(jobID string) { d.dispatched = append(d.dispatched, jobID) }

type noopLog struct{}

func (noopLog) Infow(msg string, kv ...any)  {}
func (noopLog) Warnw(msg string, kv ...any)  {}
func (noopLog) Errorw(msg string, kv ...any) {}

func newTestMonitor() (*Monitor, *fakeJobs, *fakeArtifacts, *fakeLedger, *fakeDispatcher) {
	jobs := &fakeJobs{}
	artifacts := &fakeArtifacts{bookExists: map[string]bool{}}
	led := &fakeLedger{}
	dispatch := &fakeDispatcher{}
	m := &Monitor{
		Jobs:         jobs,
		Artifacts:    artifacts,
		Ledger:       led,
		Dispatch:     dispatch,
		Clock:        clock.NewFake(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)),
		Log:          noopLog{},
		Interval:     30 * time.Second,
		StuckTimeout: 2 * time.Minute,
		SLA:          10 * time.Minute,
		MaxRetries:   3,
	}
	return m, jobs, artifacts, led, dispatch
}

func TestSweepStuck_RequeuesUnderRetryBudget(t *testing.T) {
	m, jobs, _, led, dispatch := newTestMonitor()
	now := m.Clock.Now()
	stuckJob := &job.Job{JobID: "job_1", UserKey: "user_1", Status: job.StatusRunning, RetryCount: 1, UpdatedAt: now.Add(-5 * time.Minute)}
	jobs.running = []*job.Job{stuckJob}

	require.NoError(t, m.sweepStuck(context.Background(), now))

	require.Len(t, jobs.casCalls, 1)
	assert.Equal(t, job.StatusQueued, jobs.casCalls[0].Mutated.Status)
	assert.Equal(t, 2, jobs.casCalls[0].Mutated.RetryCount)
	assert.Equal(t, []string{"job_1"}, dispatch.dispatched)
	assert.Empty(t, led.refunded, "a requeue is not a terminal failure")
}

func TestSweepStuck_FailsAndRefundsPastMaxRetries(t *testing.T) {
	m, jobs, _, led, dispatch := newTestMonitor()
	now := m.Clock.Now()
	stuckJob := &job.Job{JobID: "job_1", UserKey: "user_1", Status: job.StatusRunning, RetryCount: 3, UpdatedAt: now.Add(-5 * time.Minute)}
	jobs.running = []*job.Job{stuckJob}

	require.NoError(t, m.sweepStuck(context.Background(), now))

	require.Len(t, jobs.casCalls, 1)
	assert.Equal(t, job.StatusFailed, jobs.casCalls[0].Mutated.Status)
	assert.Equal(t, job.ErrStuckTimeout, jobs.casCalls[0].Mutated.ErrorCode)
	assert.Empty(t, dispatch.dispatched)
	require.Len(t, led.refunded, 1)
	assert.Equal(t, "job_failed", led.refunded[0].Reason)
	assert.Equal(t, "job_1", led.refunded[0].JobID)
}

func TestSweepStuck_SkipsJobThatWonTheRace(t *testing.T) {
	m, jobs, _, led, dispatch := newTestMonitor()
	now := m.Clock.Now()
	jobs.casApplyFalse = true
	jobs.running = []*job.Job{{JobID: "job_1", UserKey: "user_1", Status: job.StatusRunning, RetryCount: 0, UpdatedAt: now.Add(-5 * time.Minute)}}

	require.NoError(t, m.sweepStuck(context.Background(), now))

	assert.Empty(t, dispatch.dispatched, "a lost CAS race must not dispatch a job that already progressed")
	assert.Empty(t, led.refunded)
}

func TestSweepSLA_FailsBreachingJobAndRefunds(t *testing.T) {
	m, jobs, _, led, _ := newTestMonitor()
	now := m.Clock.Now()
	breaching := &job.Job{JobID: "job_2", UserKey: "user_2", Status: job.StatusRunning, UpdatedAt: now.Add(-11 * time.Minute)}
	jobs.slaBreaching = []*job.Job{breaching}

	require.NoError(t, m.sweepSLA(context.Background(), now))

	require.Len(t, jobs.casCalls, 1)
	assert.Equal(t, job.StatusFailed, jobs.casCalls[0].Mutated.Status)
	assert.Equal(t, job.ErrSLABreach, jobs.casCalls[0].Mutated.ErrorCode)
	require.Len(t, led.refunded, 1)
	assert.Equal(t, "job_2", led.refunded[0].JobID)
}

func TestJanitorSweep_IgnoresJobsBelowStageHProgress(t *testing.T) {
	m, jobs, artifacts, _, _ := newTestMonitor()
	now := m.Clock.Now()
	jobs.running = []*job.Job{{JobID: "job_3", Status: job.StatusRunning, Progress: 55, UpdatedAt: now.Add(-time.Minute)}}

	require.NoError(t, m.janitorSweep(context.Background(), now))
	assert.Empty(t, artifacts.bookExists)
}

func TestJanitorSweep_NoopsWhenBookAlreadyExists(t *testing.T) {
	m, jobs, artifacts, _, _ := newTestMonitor()
	now := m.Clock.Now()
	jobs.running = []*job.Job{{JobID: "job_4", Status: job.StatusRunning, Progress: 100, UpdatedAt: now.Add(-time.Minute)}}
	artifacts.bookExists["job_4"] = true

	require.NoError(t, m.janitorSweep(context.Background(), now))
}

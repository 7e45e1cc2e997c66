package stage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sterlingstarai-ai/ai-story-book/internal/job"
)

func classifyAlwaysRetryable(err error) (job.ErrorCode, bool) {
	return job.ErrLLMTimeout, true
}

func classifyNeverRetryable(err error) (job.ErrorCode, bool) {
	return job.ErrSafetyInput, false
}

func TestRunner_SucceedsOnFirstAttempt(t *testing.T) {
	r := &Runner{sleep: func(ctx context.Context, d time.Duration) error { return nil }}
	calls := 0

	code, err := r.Run(context.Background(), "C", Budget{Retries: 2, Backoff: []time.Duration{time.Millisecond}}, classifyAlwaysRetryable, func(ctx context.Context) error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, job.ErrorCode(""), code)
	assert.Equal(t, 1, calls)
}

func TestRunner_RetriesUpToBudgetThenFails(t *testing.T) {
	r := &Runner{sleep: func(ctx context.Context, d time.Duration) error { return nil }}
	calls := 0
	failing := errors.New("boom")

	code, err := r.Run(context.Background(), "C", Budget{Retries: 2, Backoff: []time.Duration{time.Millisecond, time.Millisecond}}, classifyAlwaysRetryable, func(ctx context.Context) error {
		calls++
		return failing
	})

	assert.Equal(t, 3, calls) // initial attempt + 2 retries
	assert.Equal(t, job.ErrLLMTimeout, code)
	assert.ErrorIs(t, err, failing)
}

func TestRunner_StopsImmediatelyWhenNotRetryable(t *testing.T) {
	r := &Runner{sleep: func(ctx context.Context, d time.Duration) error { return nil }}
	calls := 0

	code, err := r.Run(context.Background(), "C", Budget{Retries: 3}, classifyNeverRetryable, func(ctx context.Context) error {
		calls++
		return errors.New("unsafe")
	})

	assert.Equal(t, 1, calls)
	assert.Equal(t, job.ErrSafetyInput, code)
	assert.Error(t, err)
}

func TestRunner_SucceedsAfterTransientFailure(t *testing.T) {
	r := &Runner{sleep: func(ctx context.Context, d time.Duration) error { return nil }}
	calls := 0

	code, err := r.Run(context.Background(), "C", Budget{Retries: 2, Backoff: []time.Duration{time.Millisecond}}, classifyAlwaysRetryable, func(ctx context.Context) error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, job.ErrorCode(""), code)
	assert.Equal(t, 2, calls)
}

func TestRunner_PropagatesCancellationDuringBackoff(t *testing.T) {
	r := NewRunner(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Run(ctx, "C", Budget{Retries: 1, Backoff: []time.Duration{time.Second}}, classifyAlwaysRetryable, func(ctx context.Context) error {
		return errors.New("fail")
	})

	assert.Error(t, err)
}

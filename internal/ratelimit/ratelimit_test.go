package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sterlingstarai-ai/ai-story-book/internal/clock"
)

func TestInMemory_AllowsUpToLimit(t *testing.T) {
	fake := clock.NewFake(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	l := New(3, time.Minute, fake)

	for i := 0; i < 3; i++ {
		d := l.Check("user-1")
		assert.True(t, d.Allow)
	}
	d := l.Check("user-1")
	assert.False(t, d.Allow)
	assert.Greater(t, d.RetryAfter, time.Duration(0))
}

func TestInMemory_SlidesWindowForward(t *testing.T) {
	fake := clock.NewFake(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	l := New(1, time.Minute, fake)

	assert.True(t, l.Check("user-1").Allow)
	assert.False(t, l.Check("user-1").Allow)

	fake.Advance(time.Minute + time.Second)
	assert.True(t, l.Check("user-1").Allow, "old hit should have aged out of the window")
}

func TestInMemory_TracksUsersIndependently(t *testing.T) {
	fake := clock.NewFake(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	l := New(1, time.Minute, fake)

	assert.True(t, l.Check("user-1").Allow)
	assert.True(t, l.Check("user-2").Allow)
}

func TestInMemory_FailsOpenWhenUnhealthy(t *testing.T) {
	fake := clock.NewFake(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	l := New(1, time.Minute, fake)
	l.SetHealthCheck(func() bool { return false })
	_ = l.Check("user-1")

	d := l.Check("user-1")
	assert.True(t, d.Allow)
	assert.True(t, d.FailedOpen)
}

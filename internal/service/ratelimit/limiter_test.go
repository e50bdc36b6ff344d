package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiter_AllowRefills(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	l := NewWithClock(func() time.Time { return now })

	assert.True(t, l.Allow("hook", 2, 1))
	assert.True(t, l.Allow("hook", 2, 1))
	assert.False(t, l.Allow("hook", 2, 1))
	assert.True(t, l.Allow("other", 2, 1), "keys have separate buckets")

	now = now.Add(time.Second)
	assert.True(t, l.Allow("hook", 2, 1))
	assert.False(t, l.Allow("hook", 2, 1))
}

func TestLimiter_WaitHonoursContext(t *testing.T) {
	l := New()
	assert.True(t, l.Allow("k", 1, 0.001))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, l.Wait(ctx, "k", 1, 0.001), context.DeadlineExceeded)
}

package repository

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"AlertGate/internal/domain/models"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var dbSeq atomic.Int64

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", t.Name(), dbSeq.Add(1))
	db, err := OpenSQLite(dsn)
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func newTestDedup(t *testing.T, policy models.DedupPolicy) (*DedupStore, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 6, 1, 10, 15, 0, 0, time.UTC)}
	return NewDedupStore(openTestDB(t), policy, WithDedupClock(clock.Now)), clock
}

func cand(strategy string, tier models.Tier, conf int) models.Candidate {
	return models.Candidate{
		ID:         fmt.Sprintf("%s-%d", strategy, conf),
		Strategy:   strategy,
		Tier:       tier,
		Confidence: conf,
		Direction:  models.Long,
	}
}

func noCooldown() models.DedupPolicy {
	p := models.DefaultDedupPolicy()
	p.Cooldowns = map[models.Tier]time.Duration{
		models.TierCritical:   0,
		models.TierHigh:       0,
		models.TierBackground: 0,
	}
	return p
}

func TestDedup_NewSetupThenCooldown(t *testing.T) {
	s, clock := newTestDedup(t, models.DefaultDedupPolicy())
	ctx := context.Background()

	d, err := s.Acquire(ctx, cand("Momentum Breakout", models.TierCritical, 80))
	require.NoError(t, err)
	assert.True(t, d.Allow)
	assert.Equal(t, models.ReasonNew, d.Reason)

	rec, err := s.Get(ctx, "Momentum Breakout")
	require.NoError(t, err)
	assert.Equal(t, 80, rec.LastConfidence)
	assert.True(t, clock.Now().Add(2*time.Hour).Equal(rec.CooldownUntil))
	assert.Equal(t, 1, rec.DailyCount)
	assert.Equal(t, 1, rec.HourlyCount)

	clock.Advance(30 * time.Minute)
	d, err = s.Acquire(ctx, cand("Momentum Breakout", models.TierCritical, 30))
	require.NoError(t, err)
	assert.False(t, d.Allow)
	assert.Equal(t, models.ReasonCooldown, d.Reason)
	assert.Contains(t, d.Detail, "1.5h remaining")
}

func TestDedup_ShouldAlertIsReadOnly(t *testing.T) {
	s, _ := newTestDedup(t, models.DefaultDedupPolicy())
	ctx := context.Background()
	c := cand("Range Trading", models.TierBackground, 60)

	for i := 0; i < 3; i++ {
		d, err := s.ShouldAlert(ctx, c)
		require.NoError(t, err)
		assert.True(t, d.Allow)
		assert.Equal(t, models.ReasonNew, d.Reason)
	}
	_, err := s.Get(ctx, c.Strategy)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestDedup_ConfidenceDelta(t *testing.T) {
	s, clock := newTestDedup(t, models.DefaultDedupPolicy())
	ctx := context.Background()

	_, err := s.Acquire(ctx, cand("Contrarian Play", models.TierHigh, 60))
	require.NoError(t, err)
	clock.Advance(5 * time.Hour)

	d, err := s.Acquire(ctx, cand("Contrarian Play", models.TierHigh, 70))
	require.NoError(t, err)
	assert.False(t, d.Allow)
	assert.Equal(t, models.ReasonDelta, d.Reason)

	d, err = s.Acquire(ctx, cand("Contrarian Play", models.TierHigh, 85))
	require.NoError(t, err)
	assert.True(t, d.Allow)
	assert.Equal(t, models.ReasonAccepted, d.Reason)
}

func TestDedup_DailyCapAndRollover(t *testing.T) {
	s, clock := newTestDedup(t, noCooldown())
	ctx := context.Background()

	for i, conf := range []int{50, 80, 50} {
		d, err := s.Acquire(ctx, cand("Scalping", models.TierBackground, conf))
		require.NoError(t, err)
		assert.True(t, d.Allow, "alert %d", i)
	}
	d, err := s.Acquire(ctx, cand("Scalping", models.TierBackground, 80))
	require.NoError(t, err)
	assert.False(t, d.Allow)
	assert.Equal(t, models.ReasonDailyCap, d.Reason)

	clock.Advance(24 * time.Hour)
	d, err = s.Acquire(ctx, cand("Scalping", models.TierBackground, 80))
	require.NoError(t, err)
	assert.True(t, d.Allow)
}

func TestDedup_GlobalHourlyCap(t *testing.T) {
	p := noCooldown()
	p.MaxPerHour = 2
	s, clock := newTestDedup(t, p)
	ctx := context.Background()

	for _, name := range []string{"a", "b"} {
		d, err := s.Acquire(ctx, cand(name, models.TierBackground, 60))
		require.NoError(t, err)
		require.True(t, d.Allow)
	}
	d, err := s.Acquire(ctx, cand("a", models.TierBackground, 90))
	require.NoError(t, err)
	assert.False(t, d.Allow)
	assert.Equal(t, models.ReasonHourlyCap, d.Reason)

	clock.Advance(time.Hour)
	d, err = s.Acquire(ctx, cand("a", models.TierBackground, 90))
	require.NoError(t, err)
	assert.True(t, d.Allow)
	assert.Equal(t, models.ReasonAccepted, d.Reason)
}

func TestDedup_NewSetupIgnoresHourlyCap(t *testing.T) {
	p := noCooldown()
	p.MaxPerHour = 10
	s, _ := newTestDedup(t, p)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		d, err := s.Acquire(ctx, cand(fmt.Sprintf("strategy-%d", i), models.TierHigh, 70))
		require.NoError(t, err)
		require.True(t, d.Allow)
	}

	d, err := s.ShouldAlert(ctx, cand("Never Seen", models.TierHigh, 70))
	require.NoError(t, err)
	assert.True(t, d.Allow)
	assert.Equal(t, models.ReasonNew, d.Reason)

	d, err = s.Acquire(ctx, cand("Never Seen", models.TierHigh, 70))
	require.NoError(t, err)
	assert.True(t, d.Allow)

	d, err = s.Acquire(ctx, cand("strategy-0", models.TierHigh, 95))
	require.NoError(t, err)
	assert.False(t, d.Allow)
	assert.Equal(t, models.ReasonHourlyCap, d.Reason)
}

func TestDedup_ConcurrentAcquireAdmitsOne(t *testing.T) {
	s, _ := newTestDedup(t, models.DefaultDedupPolicy())
	ctx := context.Background()

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := s.Acquire(ctx, cand("Liquidation Cascade Risk", models.TierCritical, 90))
			if assert.NoError(t, err) && d.Allow {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), allowed.Load())
}

func TestDedup_Reset(t *testing.T) {
	s, _ := newTestDedup(t, models.DefaultDedupPolicy())
	ctx := context.Background()

	_, err := s.Acquire(ctx, cand("Trend Following", models.TierHigh, 70))
	require.NoError(t, err)
	require.NoError(t, s.Reset(ctx, "Trend Following"))

	d, err := s.Acquire(ctx, cand("Trend Following", models.TierHigh, 70))
	require.NoError(t, err)
	assert.True(t, d.Allow)
	assert.Equal(t, models.ReasonNew, d.Reason)

	assert.ErrorIs(t, s.Reset(ctx, "unknown"), models.ErrNotFound)
}

func TestDedup_ReleaseNewSetup(t *testing.T) {
	s, _ := newTestDedup(t, models.DefaultDedupPolicy())
	ctx := context.Background()
	c := cand("Liquidation Cascade Risk", models.TierCritical, 90)

	d, err := s.Acquire(ctx, c)
	require.NoError(t, err)
	require.True(t, d.Allow)
	require.NoError(t, s.Release(ctx, c))

	_, err = s.Get(ctx, c.Strategy)
	assert.ErrorIs(t, err, models.ErrNotFound)
	counts, err := s.RecentCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, counts.LastHour)
	assert.Equal(t, 0, counts.LastDay)
	stats, err := s.DailyStats(ctx, 1)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, 0, stats[0].Total)
	assert.Equal(t, 0, stats[0].Tier1)

	d, err = s.Acquire(ctx, c)
	require.NoError(t, err)
	assert.True(t, d.Allow)
	assert.Equal(t, models.ReasonNew, d.Reason)
}

func TestDedup_ReleaseRestoresPriorState(t *testing.T) {
	s, clock := newTestDedup(t, noCooldown())
	ctx := context.Background()

	first := cand("Trend Following", models.TierHigh, 60)
	_, err := s.Acquire(ctx, first)
	require.NoError(t, err)
	clock.Advance(time.Minute)

	second := cand("Trend Following", models.TierHigh, 80)
	d, err := s.Acquire(ctx, second)
	require.NoError(t, err)
	require.True(t, d.Allow)
	require.NoError(t, s.Release(ctx, second))

	rec, err := s.Get(ctx, "Trend Following")
	require.NoError(t, err)
	assert.Equal(t, 60, rec.LastConfidence)
	assert.Equal(t, 1, rec.DailyCount)
	assert.Equal(t, 1, rec.HourlyCount)

	// only the latest grant can be undone
	assert.ErrorIs(t, s.Release(ctx, second), models.ErrNotFound)
	assert.ErrorIs(t, s.Release(ctx, first), models.ErrNotFound)
}

func TestDedup_StatsAndCounts(t *testing.T) {
	s, clock := newTestDedup(t, models.DefaultDedupPolicy())
	ctx := context.Background()

	_, err := s.Acquire(ctx, cand("Liquidation Cascade Risk", models.TierCritical, 90))
	require.NoError(t, err)
	_, err = s.Acquire(ctx, cand("Breakout Trading", models.TierHigh, 70))
	require.NoError(t, err)
	require.NoError(t, s.RecordSuppression(ctx, "Breakout Trading", models.ReasonCooldown))

	clock.Advance(24 * time.Hour)
	_, err = s.Acquire(ctx, cand("Scalping", models.TierBackground, 55))
	require.NoError(t, err)

	stats, err := s.DailyStats(ctx, 7)
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, "2024-06-02", stats[0].Date)
	assert.Equal(t, 1, stats[0].Tier3)
	assert.Equal(t, "2024-06-01", stats[1].Date)
	assert.Equal(t, 2, stats[1].Total)
	assert.Equal(t, 1, stats[1].Tier1)
	assert.Equal(t, 1, stats[1].Tier2)
	assert.Equal(t, 1, stats[1].Suppressed)

	counts, err := s.RecentCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.LastHour)
	assert.Equal(t, 1, counts.LastDay)
}

func TestDedup_Cleanup(t *testing.T) {
	s, clock := newTestDedup(t, noCooldown())
	ctx := context.Background()

	_, err := s.Acquire(ctx, cand("a", models.TierBackground, 60))
	require.NoError(t, err)
	clock.Advance(10 * 24 * time.Hour)
	_, err = s.Acquire(ctx, cand("b", models.TierBackground, 60))
	require.NoError(t, err)

	removed, err := s.Cleanup(ctx, 7*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed) // one alert log row and one hourly bucket

	stats, err := s.DailyStats(ctx, 30)
	require.NoError(t, err)
	assert.Len(t, stats, 2)
}

func TestDedup_InvalidRecordIsCorruption(t *testing.T) {
	db := openTestDB(t)
	now := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, db.Create(&StrategyState{
		Strategy:       "Scalping",
		LastAlertTime:  now,
		LastConfidence: 60,
		Tier:           9,
		CooldownUntil:  now.Add(time.Hour),
	}).Error)

	s := NewDedupStore(db, models.DefaultDedupPolicy(), WithDedupClock(func() time.Time { return now }))
	_, err := s.Acquire(context.Background(), cand("Scalping", models.TierBackground, 90))
	assert.ErrorIs(t, err, models.ErrStoreCorruption)
}

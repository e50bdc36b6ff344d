package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AlertGate/internal/domain/models"
	drepo "AlertGate/internal/domain/repository"
	"AlertGate/internal/repository"
	"AlertGate/internal/service/cache"
	"AlertGate/internal/service/collector"
	"AlertGate/internal/service/smoother"
	"AlertGate/internal/services/bundler"
	"AlertGate/internal/services/detectors"
	"AlertGate/internal/services/scoring"
)

type staticSource struct {
	name string
	snap models.Snapshot
	err  error
}

func (s staticSource) Name() string { return s.name }

func (s staticSource) Fetch(context.Context) (models.Snapshot, error) {
	if s.err != nil {
		return models.Snapshot{}, s.err
	}
	return s.snap, nil
}

var pipelineDB atomic.Int64

type pipelineFixture struct {
	pipeline *Pipeline
	queue    *DeliveryQueue
	dedup    drepo.DedupStore
	history  *repository.MemoryHistory
	clock    *testClock
}

func newPipelineFixture(t *testing.T, dedup drepo.DedupStore, sources ...drepo.Source) *pipelineFixture {
	t.Helper()
	return newPipelineFixtureWithStore(t, repository.NewMemoryQueueStore(), dedup, sources...)
}

func newPipelineFixtureWithStore(t *testing.T, store drepo.QueueStore, dedup drepo.DedupStore, sources ...drepo.Source) *pipelineFixture {
	t.Helper()
	clock := newTestClock()
	if dedup == nil {
		db, err := repository.OpenSQLite(fmt.Sprintf("file:pipeline_%d?mode=memory&cache=shared", pipelineDB.Add(1)))
		require.NoError(t, err)
		t.Cleanup(func() {
			if sqlDB, err := db.DB(); err == nil {
				_ = sqlDB.Close()
			}
		})
		dedup = repository.NewDedupStore(db, models.DefaultDedupPolicy(), repository.WithDedupClock(clock.Now))
	}

	ds, err := detectors.Select([]string{models.StrategyLiquidationCascade}, detectors.DefaultFloor)
	require.NoError(t, err)

	q := NewDeliveryQueue(store, WithQueueClock(clock.Now))
	history := repository.NewMemoryHistory(100)
	p := NewPipeline(PipelineDeps{
		Collector: collector.New(sources, collector.WithTimeout(time.Second)),
		Cache:     cache.NewViewCache(time.Minute),
		Analyzer:  detectors.NewAnalyzer(smoother.New(), nil, 1),
		Registry:  detectors.NewRegistry(nil, ds...),
		Scorer:    scoring.New(scoring.DefaultConfig(), nil),
		Bundler:   bundler.New(3),
		Dedup:     dedup,
		History:   history,
		Queue:     q,
	}, WithPipelineClock(clock.Now))
	return &pipelineFixture{pipeline: p, queue: q, dedup: dedup, history: history, clock: clock}
}

func fundingSource(name string, rate float64) staticSource {
	return staticSource{name: name, snap: models.Snapshot{FundingRate: models.Float(rate), Volume24h: 5e9}}
}

// The fixture registry holds only the cascade detector so the round yields exactly one
// candidate. TestPipeline_CascadeWithFullCatalogue covers the same market with every detector.
func TestPipeline_CascadeEndToEnd(t *testing.T) {
	f := newPipelineFixture(t, nil, fundingSource("binance", 0.0025))
	ctx := context.Background()

	rep, err := f.pipeline.RunRound(ctx)
	require.NoError(t, err)
	require.Len(t, rep.Candidates, 1)
	c := rep.Candidates[0]
	assert.Equal(t, models.StrategyLiquidationCascade, c.Strategy)
	assert.Equal(t, models.TierCritical, c.Tier)
	assert.Equal(t, models.Short, c.Direction)
	assert.Equal(t, []string{models.StrategyLiquidationCascade}, rep.Accepted)
	assert.Equal(t, 1, rep.Enqueued)

	counts, err := f.queue.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Pending)

	f.clock.Advance(f.queue.Backoff(0))
	entries, err := f.queue.Dequeue(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, c.ID, entries[0].Unit.Candidate.ID)

	recs, err := f.history.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestPipeline_CascadeWithFullCatalogue(t *testing.T) {
	f := newPipelineFixture(t, nil, fundingSource("binance", 0.0025))
	f.pipeline.registry = detectors.NewRegistry(nil, detectors.All(detectors.DefaultFloor)...)
	ctx := context.Background()

	rep, err := f.pipeline.RunRound(ctx)
	require.NoError(t, err)

	var cascades []models.ScoredCandidate
	for _, c := range rep.Candidates {
		if c.Strategy == models.StrategyLiquidationCascade {
			cascades = append(cascades, c)
		}
	}
	require.Len(t, cascades, 1)
	assert.Equal(t, models.TierCritical, cascades[0].Tier)
	assert.Equal(t, models.Short, cascades[0].Direction)
	assert.Contains(t, rep.Accepted, models.StrategyLiquidationCascade)
	// other detectors may fire on the same funding spike, at most one candidate each
	assert.Greater(t, len(rep.Candidates), 1)
	assert.Equal(t, len(rep.Candidates), len(lo.UniqBy(rep.Candidates, func(c models.ScoredCandidate) string { return c.Strategy })))
}

func TestPipeline_SecondRoundSuppressedByCooldown(t *testing.T) {
	f := newPipelineFixture(t, nil, fundingSource("binance", 0.0025))
	ctx := context.Background()

	_, err := f.pipeline.RunRound(ctx)
	require.NoError(t, err)

	f.clock.Advance(10 * time.Minute)
	rep, err := f.pipeline.RunRound(ctx)
	require.NoError(t, err)
	assert.True(t, rep.CacheHit)
	assert.Empty(t, rep.Accepted)
	assert.Equal(t, models.ReasonCooldown, rep.Suppressed[models.StrategyLiquidationCascade])

	counts, err := f.queue.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Depth())
}

func TestPipeline_CacheHitReusesAnalysis(t *testing.T) {
	f := newPipelineFixture(t, nil)
	snap := func(at time.Time, oi float64) models.MarketView {
		return models.NewMarketView(at, models.Snapshot{
			Source: "binance", FundingRate: models.Float(0.0001), OpenInterest: models.Float(oi), Volume24h: 1e9,
		})
	}
	t0 := f.clock.Now()

	first := f.pipeline.analyze(snap(t0, 100), false)
	again := f.pipeline.analyze(snap(t0, 100), true)
	assert.Same(t, first, again)
	assert.Nil(t, again.OIChangePct)
	assert.Nil(t, again.VolumeRatio)

	next := f.pipeline.analyze(snap(t0.Add(time.Minute), 120), false)
	require.NotNil(t, next.OIChangePct)
	assert.InDelta(t, 20.0, *next.OIChangePct, 1e-9)
}

func TestPipeline_InsufficientDataIsNotAnError(t *testing.T) {
	f := newPipelineFixture(t, nil,
		staticSource{name: "a", err: errors.New("down")},
		staticSource{name: "b", err: errors.New("down")})

	rep, err := f.pipeline.RunRound(context.Background())
	require.NoError(t, err)
	assert.True(t, rep.Insufficient)
	assert.Len(t, rep.SourceErrors, 2)
	assert.Empty(t, rep.Candidates)
}

func TestPipeline_StreamInjectionSharesDedup(t *testing.T) {
	f := newPipelineFixture(t, nil, fundingSource("binance", 0.0025))
	ctx := context.Background()

	_, err := f.pipeline.RunRound(ctx)
	require.NoError(t, err)

	require.NoError(t, f.pipeline.Inject(ctx, models.Candidate{
		ID:         "stream-1",
		Strategy:   models.StrategyLiquidationCascade,
		Confidence: 90,
		Direction:  models.Short,
		Tier:       models.TierCritical,
		Origin:     models.OriginStream,
		DetectedAt: f.clock.Now(),
	}))

	counts, err := f.queue.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Pending)
}

func TestPipeline_InjectAloneEnqueues(t *testing.T) {
	f := newPipelineFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.pipeline.Inject(ctx, models.Candidate{
		ID:         "stream-1",
		Strategy:   models.StrategyLiquidationCascade,
		Confidence: 80,
		Direction:  models.Long,
		Tier:       models.TierCritical,
	}))
	counts, err := f.queue.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Pending)
}

type corruptDedup struct {
	drepo.DedupStore
}

func (corruptDedup) RecentCounts(context.Context) (models.AlertCounts, error) {
	return models.AlertCounts{}, nil
}

func (corruptDedup) Acquire(context.Context, models.Candidate) (models.Decision, error) {
	return models.Decision{}, fmt.Errorf("load state: %w", models.ErrStoreCorruption)
}

func TestPipeline_CorruptionHaltsEmission(t *testing.T) {
	f := newPipelineFixture(t, corruptDedup{}, fundingSource("binance", 0.0025))
	ctx := context.Background()

	_, err := f.pipeline.RunRound(ctx)
	require.ErrorIs(t, err, models.ErrStoreCorruption)
	halted, reason := f.pipeline.Halted()
	assert.True(t, halted)
	assert.NotEmpty(t, reason)

	_, err = f.pipeline.RunRound(ctx)
	assert.ErrorIs(t, err, models.ErrStoreCorruption)
	assert.ErrorIs(t, f.pipeline.Inject(ctx, models.Candidate{Strategy: "x", Tier: models.TierHigh}), models.ErrStoreCorruption)

	counts, err := f.queue.Counts(ctx)
	require.NoError(t, err)
	assert.Zero(t, counts.Depth())

	f.pipeline.Resume()
	halted, _ = f.pipeline.Halted()
	assert.False(t, halted)
}

type rejectingQueueStore struct {
	drepo.QueueStore
	strategy string
}

func (s rejectingQueueStore) Insert(ctx context.Context, e models.QueueEntry) error {
	if e.Unit.Strategy() == s.strategy {
		return errors.New("disk full")
	}
	return s.QueueStore.Insert(ctx, e)
}

func TestPipeline_EnqueueFailureReleasesDedupSlot(t *testing.T) {
	store := rejectingQueueStore{QueueStore: repository.NewMemoryQueueStore(), strategy: models.StrategyTrendFollowing}
	f := newPipelineFixtureWithStore(t, store, nil)
	ctx := context.Background()
	now := f.clock.Now()

	rep := models.RoundReport{Suppressed: map[string]string{}}
	err := f.pipeline.process(ctx, []models.Candidate{
		{ID: "cascade-1", Strategy: models.StrategyLiquidationCascade, Tier: models.TierCritical,
			Confidence: 90, Direction: models.Short, DetectedAt: now},
		{ID: "trend-1", Strategy: models.StrategyTrendFollowing, Tier: models.TierCritical,
			Confidence: 80, Direction: models.Long, DetectedAt: now},
	}, &rep)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	// the other unit still reached the queue
	assert.Equal(t, 1, rep.Enqueued)
	assert.Equal(t, []string{models.StrategyLiquidationCascade}, rep.Accepted)
	counts, err := f.queue.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Pending)

	// the rejected setup is not burned in the dedup store
	_, err = f.dedup.Get(ctx, models.StrategyTrendFollowing)
	assert.ErrorIs(t, err, models.ErrNotFound)
	d, err := f.dedup.ShouldAlert(ctx, models.Candidate{Strategy: models.StrategyTrendFollowing, Tier: models.TierCritical, Confidence: 80})
	require.NoError(t, err)
	assert.True(t, d.Allow)
	assert.Equal(t, models.ReasonNew, d.Reason)

	d, err = f.dedup.ShouldAlert(ctx, models.Candidate{Strategy: models.StrategyLiquidationCascade, Tier: models.TierCritical, Confidence: 90})
	require.NoError(t, err)
	assert.False(t, d.Allow)
}

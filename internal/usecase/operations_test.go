package usecase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AlertGate/internal/domain/models"
	"AlertGate/internal/services/scoring"
)

type staticStreams []models.StreamStatus

func (s staticStreams) Status() []models.StreamStatus { return s }

func newOps(t *testing.T, f *pipelineFixture) *Operations {
	t.Helper()
	ops := NewOperations(f.pipeline, f.queue, f.dedup, scoring.New(scoring.DefaultConfig(), nil), f.history,
		staticStreams{{Exchange: "binance", Connected: true, Healthy: true}}, nil)
	ops.SetClock(f.clock.Now)
	return ops
}

func TestOperations_StatsAfterRound(t *testing.T) {
	f := newPipelineFixture(t, nil, fundingSource("binance", 0.0025))
	ops := newOps(t, f)
	ctx := context.Background()

	rep, err := ops.TriggerRound(ctx)
	require.NoError(t, err)
	require.Len(t, rep.Accepted, 1)

	st, err := ops.Stats(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Queue.Pending)
	assert.Equal(t, 1, st.Recent.LastHour)
	require.NotEmpty(t, st.Daily)
	assert.Equal(t, 1, st.Daily[0].Tier1)
	assert.False(t, st.Halted)
	assert.Len(t, st.Streams, 1)
	assert.Nil(t, st.Effectiveness)
}

func TestOperations_ResetAllowsRealert(t *testing.T) {
	f := newPipelineFixture(t, nil, fundingSource("binance", 0.0025))
	ops := newOps(t, f)
	ctx := context.Background()

	_, err := ops.TriggerRound(ctx)
	require.NoError(t, err)
	require.NoError(t, ops.ResetStrategy(ctx, models.StrategyLiquidationCascade))
	assert.ErrorIs(t, ops.ResetStrategy(ctx, models.StrategyLiquidationCascade), models.ErrNotFound)

	rep, err := ops.TriggerRound(ctx)
	require.NoError(t, err)
	assert.Len(t, rep.Accepted, 1)
}

func TestOperations_Effectiveness(t *testing.T) {
	f := newPipelineFixture(t, nil, fundingSource("binance", 0.0025))
	ops := newOps(t, f)
	ctx := context.Background()

	rep, err := ops.TriggerRound(ctx)
	require.NoError(t, err)
	require.Len(t, rep.Candidates, 1)

	require.NoError(t, ops.RecordOutcome(ctx, rep.Candidates[0].ID, true))
	assert.ErrorIs(t, ops.RecordOutcome(ctx, "missing", false), models.ErrNotFound)

	eff, err := ops.Effectiveness(ctx, 7)
	require.NoError(t, err)
	require.NotNil(t, eff)
	assert.Equal(t, 1, eff.Total)
	assert.InDelta(t, 1.0, eff.ActionableRate, 1e-9)
	assert.InDelta(t, 1.0, eff.ByTier["tier_1"], 1e-9)
}

package bundler

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AlertGate/internal/domain/models"
)

var t0 = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

func sc(strategy string, tier models.Tier, dir models.Direction, conf int, offset time.Duration) models.ScoredCandidate {
	return models.ScoredCandidate{
		Candidate: models.Candidate{
			ID:         fmt.Sprintf("%s-%s", strategy, offset),
			Strategy:   strategy,
			Tier:       tier,
			Direction:  dir,
			Confidence: conf,
			Reasoning:  "reason " + offset.String(),
			DetectedAt: t0.Add(offset),
		},
		Score: 50,
	}
}

func TestBundle_GroupsAtThreshold(t *testing.T) {
	b := New(3)
	units := b.Bundle([]models.ScoredCandidate{
		sc("Range Trading", 3, models.Long, 60, 0),
		sc("Scalping", 3, models.Neutral, 80, 0),
		sc("Range Trading", 3, models.Short, 65, 10*time.Minute),
		sc("Range Trading", 3, models.Long, 50, 25*time.Minute),
	})

	require.Len(t, units, 2)
	digest := units[0]
	assert.Equal(t, models.UnitDigest, digest.Kind)
	require.NotNil(t, digest.Bundle)
	assert.Equal(t, "Range Trading", digest.Bundle.Strategy)
	assert.Len(t, digest.Bundle.Members, 3)
	assert.Equal(t, t0, digest.Bundle.Start)
	assert.Equal(t, t0.Add(25*time.Minute), digest.Bundle.End)

	assert.Equal(t, models.UnitSingle, units[1].Kind)
	assert.Equal(t, "Scalping", units[1].Strategy())
}

func TestBundle_SmallGroupsPassThrough(t *testing.T) {
	units := New(3).Bundle([]models.ScoredCandidate{
		sc("Range Trading", 3, models.Long, 60, 0),
		sc("Range Trading", 2, models.Long, 60, 0),
		sc("Range Trading", 3, models.Long, 60, time.Minute),
	})
	require.Len(t, units, 3)
	for _, u := range units {
		assert.Equal(t, models.UnitSingle, u.Kind)
	}
}

func TestBundle_CriticalNeverBundled(t *testing.T) {
	var cs []models.ScoredCandidate
	for i := 0; i < 4; i++ {
		cs = append(cs, sc(models.StrategyLiquidationCascade, models.TierCritical, models.Short, 90, time.Duration(i)*time.Minute))
	}
	units := New(3).Bundle(cs)
	assert.Len(t, units, 4)
}

func TestBundle_WindowSplitsGroups(t *testing.T) {
	b := New(3, WithWindow(time.Hour))
	units := b.Bundle([]models.ScoredCandidate{
		sc("Mean Reversion", 3, models.Short, 60, 0),
		sc("Mean Reversion", 3, models.Short, 60, 20*time.Minute),
		sc("Mean Reversion", 3, models.Short, 60, 40*time.Minute),
		sc("Mean Reversion", 3, models.Short, 60, 3*time.Hour),
	})
	require.Len(t, units, 2)
	assert.Equal(t, models.UnitDigest, units[0].Kind)
	assert.Len(t, units[0].Bundle.Members, 3)
	assert.Equal(t, models.UnitSingle, units[1].Kind)
}

func TestBundle_EligibilityVeto(t *testing.T) {
	b := New(3, WithEligibility(func([]models.ScoredCandidate) bool { return false }))
	units := b.Bundle([]models.ScoredCandidate{
		sc("a", 3, models.Long, 60, 0), sc("a", 3, models.Long, 60, 0), sc("a", 3, models.Long, 60, 0),
	})
	assert.Len(t, units, 3)
}

func TestSummarize_Deterministic(t *testing.T) {
	members := []models.ScoredCandidate{
		sc("Range Trading", 3, models.Long, 60, 0),
		sc("Range Trading", 3, models.Short, 65, 10*time.Minute),
		sc("Range Trading", 3, models.Long, 50, 25*time.Minute),
	}
	want := "Range Trading Digest (3 alerts)\n" +
		"Direction: BULLISH (2 long / 1 short)\n" +
		"Avg Confidence: 58%\n" +
		"Time span: 25 minutes"
	assert.Equal(t, want, Summarize("Range Trading", members))
	assert.Equal(t, Summarize("Range Trading", members), Summarize("Range Trading", members))
}

func TestBias(t *testing.T) {
	label, _, _ := Bias([]models.ScoredCandidate{sc("a", 3, models.Short, 1, 0), sc("a", 3, models.Short, 1, 0), sc("a", 3, models.Long, 1, 0)})
	assert.Equal(t, "BEARISH", label)
	label, _, _ = Bias([]models.ScoredCandidate{sc("a", 3, models.Neutral, 1, 0), sc("a", 3, models.Neutral, 1, 0)})
	assert.Equal(t, "MIXED", label)
}

func TestSummarize_HoursSpan(t *testing.T) {
	s := Summarize("x", []models.ScoredCandidate{sc("x", 3, models.Long, 70, 0), sc("x", 3, models.Long, 70, 90*time.Minute)})
	assert.True(t, strings.HasSuffix(s, "Time span: 1.5 hours"))
}

func TestFormatDigest_TruncatesMembers(t *testing.T) {
	var members []models.ScoredCandidate
	for i := 0; i < 7; i++ {
		members = append(members, sc("Range Trading", 3, models.Long, 60, time.Duration(i)*time.Minute))
	}
	units := New(3).Bundle(members)
	require.Len(t, units, 1)

	text := Format(units[0])
	assert.Contains(t, text, "[INFO] Range Trading Digest (7 alerts)")
	assert.Contains(t, text, "5. LONG 60% - reason 4m0s")
	assert.NotContains(t, text, "6. LONG")
	assert.True(t, strings.HasSuffix(text, "...and 2 more"))
}

func TestFormatSingle(t *testing.T) {
	c := sc(models.StrategyLiquidationCascade, models.TierCritical, models.Short, 100, 0)
	c.Score = 91.6
	c.Metrics = map[string]float64{models.MetricFundingPct: 0.25, models.MetricSpreadBps: 7.55}
	c.Sources = []string{"binance", "okx"}

	text := Format(models.SingleUnit(c))
	lines := strings.Split(text, "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "[CRITICAL] Liquidation Cascade Risk: SHORT (confidence 100%, score 92)", lines[0])
	assert.Equal(t, "reason 0s", lines[1])
	assert.Equal(t, "funding 0.250% | spread 7.6 bps", lines[2])
	assert.Equal(t, "Sources: binance, okx", lines[3])
}

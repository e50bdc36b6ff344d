package detectors

import (
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AlertGate/internal/domain/models"
	"AlertGate/internal/service/smoother"
)

var at = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

func view(rates map[string]float64, volume float64) models.MarketView {
	var snaps []models.Snapshot
	for src, r := range rates {
		snaps = append(snaps, models.Snapshot{Source: src, FundingRate: models.Float(r), Volume24h: volume, FetchedAt: at})
	}
	return models.NewMarketView(at, snaps...)
}

func analyze(rates map[string]float64, volume float64) *models.Analysis {
	return NewAnalyzer(nil, nil, 1).Analyze(view(rates, volume))
}

func byStrategy(cs []models.Candidate, name string) []models.Candidate {
	return lo.Filter(cs, func(c models.Candidate, _ int) bool { return c.Strategy == name })
}

func TestAnalyzer_DerivesSentiment(t *testing.T) {
	a := analyze(map[string]float64{"binance": 0.0003, "bybit": 0.0001, "okx": -0.0002}, 1e9)

	assert.InDelta(t, 0.00667, a.AvgFundingPct, 1e-4)
	assert.InDelta(t, 6.667, a.SentimentScore, 1e-2)
	assert.Equal(t, 1, a.Bullish)
	assert.Equal(t, 1, a.Bearish)
	assert.Equal(t, 1, a.Neutral)
	assert.InDelta(t, 2.0/3.0, a.Agreement, 1e-9)
	assert.Equal(t, 3e9, a.TotalVolume)
	require.NotEmpty(t, a.Arbitrage)
	assert.Equal(t, "okx", a.Arbitrage[0].LongSource)
	assert.Equal(t, "binance", a.Arbitrage[0].ShortSource)
}

func TestAnalyzer_OIChangeNeedsPreviousRound(t *testing.T) {
	z := NewAnalyzer(nil, nil, 1)
	snap := func(oi float64) models.MarketView {
		return models.NewMarketView(at, models.Snapshot{Source: "binance", FundingRate: models.Float(0.0001), OpenInterest: models.Float(oi), Volume24h: 1e9})
	}

	first := z.Analyze(snap(100))
	assert.Nil(t, first.OIChangePct)
	assert.Nil(t, first.VolumeRatio)

	second := z.Analyze(snap(120))
	require.NotNil(t, second.OIChangePct)
	assert.InDelta(t, 20.0, *second.OIChangePct, 1e-9)
	require.NotNil(t, second.VolumeRatio)
	assert.InDelta(t, 1.0, *second.VolumeRatio, 1e-9)
}

func TestAnalyzer_StaleSourceRestartsFromFirstSample(t *testing.T) {
	now := at
	s := smoother.New(smoother.WithClock(func() time.Time { return now }), smoother.WithStaleAfter(10*time.Minute))
	z := NewAnalyzer(s, nil, 1)
	snap := func(rate, oi float64) models.MarketView {
		return models.NewMarketView(now, models.Snapshot{Source: "binance", FundingRate: models.Float(rate), OpenInterest: models.Float(oi), Volume24h: 1e9})
	}

	z.Analyze(snap(0.001, 100))
	now = now.Add(5 * time.Minute)
	fresh := z.Analyze(snap(0.003, 110))
	assert.Less(t, fresh.Funding["binance"], 0.003)
	require.NotNil(t, fresh.OIChangePct)

	now = now.Add(time.Hour)
	back := z.Analyze(snap(0.005, 300))
	assert.Equal(t, 0.005, back.Funding["binance"])
	assert.Nil(t, back.OIChangePct)
}

func TestRegistry_CascadeOnExtremeFunding(t *testing.T) {
	a := analyze(map[string]float64{"binance": 0.0025}, 1e9)
	cs := NewRegistry(nil, All(DefaultFloor)...).Detect(a)

	cascade := byStrategy(cs, models.StrategyLiquidationCascade)
	require.Len(t, cascade, 1)
	c := cascade[0]
	assert.Equal(t, models.TierCritical, c.Tier)
	assert.Equal(t, models.Short, c.Direction)
	assert.InDelta(t, 100, c.Confidence, 1)
	assert.Equal(t, []string{"binance"}, c.Sources)
	assert.Equal(t, models.OriginRound, c.Origin)
	assert.Equal(t, at, c.DetectedAt)
	assert.NotEmpty(t, c.ID)

	fp, ok := c.Metric(models.MetricFundingPct)
	require.True(t, ok)
	assert.InDelta(t, 0.25, fp, 1e-9)
}

func TestRegistry_NegativeFundingFadesShorts(t *testing.T) {
	a := analyze(map[string]float64{"binance": -0.003}, 1e9)
	cs := byStrategy(NewRegistry(nil, All(DefaultFloor)...).Detect(a), models.StrategyLiquidationCascade)
	require.Len(t, cs, 1)
	assert.Equal(t, models.Long, cs[0].Direction)
}

func TestRegistry_InsufficientDataNoOps(t *testing.T) {
	empty := NewAnalyzer(nil, nil, 1).Analyze(models.NewMarketView(at))
	assert.Empty(t, NewRegistry(nil, All(DefaultFloor)...).Detect(empty))

	// volume only, no funding
	noFunding := NewAnalyzer(nil, nil, 1).Analyze(models.NewMarketView(at, models.Snapshot{Source: "x", Volume24h: 1e12}))
	assert.Empty(t, NewRegistry(nil, All(DefaultFloor)...).Detect(noFunding))

	tooFew := NewAnalyzer(nil, nil, 3).Analyze(view(map[string]float64{"a": 0.003, "b": 0.003}, 1))
	assert.Empty(t, NewRegistry(nil, All(DefaultFloor)...).Detect(tooFew))
}

func TestDetectors_Catalogue(t *testing.T) {
	tests := []struct {
		name     string
		rates    map[string]float64
		volume   float64
		strategy string
		conf     int
		dir      models.Direction
	}{
		{"contrarian", map[string]float64{"a": 0.00185}, 1, models.StrategyContrarian, 77, models.Short},
		{"trend", map[string]float64{"a": 0.000755}, 1, models.StrategyTrendFollowing, 75, models.Long},
		{"volatility", map[string]float64{"a": -0.000905}, 1, models.StrategyVolatility, 72, models.Short},
		{"mean reversion", map[string]float64{"a": 0.00121}, 1, models.StrategyMeanReversion, 60, models.Short},
		{"range", map[string]float64{"a": 0.0001}, 1, models.StrategyRangeTrading, 70, models.Neutral},
		{"scalping", map[string]float64{"a": 0.00005}, 20e9, models.StrategyScalping, 80, models.Neutral},
		{"breakout", map[string]float64{"a": 0.000555}, 1, models.StrategyBreakout, 55, models.Long},
		{"momentum", map[string]float64{"a": -0.000855}, 1, models.StrategyMomentumBreakout, 85, models.Short},
		{"arbitrage", map[string]float64{"a": 0.0001, "b": 0.000855}, 1, models.StrategyFundingArbitrage, 75, models.Neutral},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cs := byStrategy(NewRegistry(nil, All(DefaultFloor)...).Detect(analyze(tc.rates, tc.volume)), tc.strategy)
			require.Len(t, cs, 1)
			assert.Equal(t, tc.conf, cs[0].Confidence)
			assert.Equal(t, tc.dir, cs[0].Direction)
			assert.Equal(t, models.TierFor(tc.strategy), cs[0].Tier)
		})
	}
}

func TestDetectors_ScalpingNeedsLiquidity(t *testing.T) {
	cs := NewRegistry(nil, All(DefaultFloor)...).Detect(analyze(map[string]float64{"a": 0.00005}, 1e9))
	assert.Empty(t, byStrategy(cs, models.StrategyScalping))
}

func TestDetectors_FloorAndAgreementBonus(t *testing.T) {
	neutral := map[string]float64{"a": 0.00005, "b": 0.00005, "c": 0.00005}

	cs := byStrategy(NewRegistry(nil, All(DefaultFloor)...).Detect(analyze(neutral, 1)), models.StrategyRangeTrading)
	require.Len(t, cs, 1)
	assert.Equal(t, 75, cs[0].Confidence)

	strict := byStrategy(NewRegistry(nil, All(80)...).Detect(analyze(neutral, 1)), models.StrategyRangeTrading)
	assert.Empty(t, strict)
}

type panicky struct{}

func (panicky) Name() string { return "panicky" }
func (panicky) Detect(*models.Analysis) []models.Candidate { panic("boom") }

func TestRegistry_PanicIsolated(t *testing.T) {
	r := NewRegistry(nil, panicky{}, LiquidationCascade{})
	cs := r.Detect(analyze(map[string]float64{"a": 0.003}, 1))
	require.Len(t, cs, 1)
	assert.Equal(t, models.StrategyLiquidationCascade, cs[0].Strategy)
}

func TestSelect(t *testing.T) {
	ds, err := Select([]string{models.StrategyScalping, models.StrategyLiquidationCascade}, DefaultFloor)
	require.NoError(t, err)
	names := NewRegistry(nil, ds...).Names()
	assert.Equal(t, []string{models.StrategyLiquidationCascade, models.StrategyScalping}, names)

	_, err = Select([]string{"Nope"}, DefaultFloor)
	assert.Error(t, err)

	all, err := Select(nil, DefaultFloor)
	require.NoError(t, err)
	assert.Len(t, all, 10)
}

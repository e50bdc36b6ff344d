package detectors

import (
	"fmt"
	"math"

	"AlertGate/internal/domain/models"
)

// Funding thresholds are in percent (0.20 == 0.20% per funding interval).
const (
	cascadeFundingPct    = 0.20
	contrarianFundingPct = 0.15
	volatilityBase       = 0.06
	trendFundingPct      = 0.05
	rangeFundingPct      = 0.02
	scalpFundingPct      = 0.01
	scalpMinVolumeUSD    = 10e9
	meanRevLowPct        = 0.08
	meanRevHighPct       = 0.15
	momentumScore        = 70
	breakoutScore        = 40
	arbMinBps            = 5
)

// fade bets against the crowded side: positive funding means longs pay, so go short.
func fade(fundingPct float64) models.Direction {
	switch {
	case fundingPct > 0:
		return models.Short
	case fundingPct < 0:
		return models.Long
	}
	return models.Neutral
}

func follow(v float64) models.Direction { return fade(v).Opposite() }

type LiquidationCascade struct{ base }

func (LiquidationCascade) Name() string { return models.StrategyLiquidationCascade }

func (d LiquidationCascade) Detect(a *models.Analysis) []models.Candidate {
	fp := a.AvgFundingPct
	if math.Abs(fp) <= cascadeFundingPct {
		return nil
	}
	conf := min(100, int(math.Abs(fp)*400))
	return d.emit(a, d.Name(), conf, fade(fp),
		fmt.Sprintf("CRITICAL: cascade risk, %.3f%% funding indicates overcrowded positioning", fp), nil)
}

type MomentumBreakout struct{ base }

func (MomentumBreakout) Name() string { return models.StrategyMomentumBreakout }

func (d MomentumBreakout) Detect(a *models.Analysis) []models.Candidate {
	s := a.SentimentScore
	if math.Abs(s) <= momentumScore {
		return nil
	}
	dir := follow(s)
	return d.emit(a, d.Name(), min(100, int(math.Abs(s))), dir,
		fmt.Sprintf("CRITICAL: extreme %s momentum with %.1f sentiment score", dir, math.Abs(s)), nil)
}

type Contrarian struct{ base }

func (Contrarian) Name() string { return models.StrategyContrarian }

func (d Contrarian) Detect(a *models.Analysis) []models.Candidate {
	fp := a.AvgFundingPct
	if math.Abs(fp) <= contrarianFundingPct {
		return nil
	}
	conf := min(100, int((math.Abs(fp)-contrarianFundingPct)*500)+60)
	return d.emit(a, d.Name(), conf, fade(fp),
		fmt.Sprintf("Funding extended %.3f%%, expecting reversion", fp), nil)
}

type Breakout struct{ base }

func (Breakout) Name() string { return models.StrategyBreakout }

func (d Breakout) Detect(a *models.Analysis) []models.Candidate {
	s := a.SentimentScore
	if math.Abs(s) <= breakoutScore {
		return nil
	}
	dir := follow(s)
	return d.emit(a, d.Name(), min(100, int(math.Abs(s))), dir,
		fmt.Sprintf("Breakout detected: %s momentum with %.1f sentiment score", dir, math.Abs(s)), nil)
}

// VolatilityExpansion uses the adaptive funding threshold so calm regimes alert earlier
// and choppy ones later.
type VolatilityExpansion struct{ base }

func (VolatilityExpansion) Name() string { return models.StrategyVolatility }

func (d VolatilityExpansion) Detect(a *models.Analysis) []models.Candidate {
	fp := a.AvgFundingPct
	threshold := a.Threshold(ThresholdVolatility, volatilityBase)
	if math.Abs(fp) <= threshold {
		return nil
	}
	return d.emit(a, d.Name(), min(100, int(math.Abs(fp)*800)), follow(fp),
		fmt.Sprintf("Volatility expanding: %.3f%% funding above %.3f%% threshold, expect continuation", fp, threshold), nil)
}

type TrendFollowing struct{ base }

func (TrendFollowing) Name() string { return models.StrategyTrendFollowing }

func (d TrendFollowing) Detect(a *models.Analysis) []models.Candidate {
	fp := a.AvgFundingPct
	if math.Abs(fp) <= trendFundingPct {
		return nil
	}
	side := "bullish"
	if fp < 0 {
		side = "bearish"
	}
	return d.emit(a, d.Name(), min(100, int(math.Abs(fp)*1000)), follow(fp),
		fmt.Sprintf("Strong %s momentum with %.3f%% funding rate", side, fp), nil)
}

type RangeTrading struct{ base }

func (RangeTrading) Name() string { return models.StrategyRangeTrading }

func (d RangeTrading) Detect(a *models.Analysis) []models.Candidate {
	fp := a.AvgFundingPct
	if math.Abs(fp) >= rangeFundingPct {
		return nil
	}
	return d.emit(a, d.Name(), 70, models.Neutral,
		fmt.Sprintf("Market ranging: %.4f%% funding rate (neutral)", fp), nil)
}

type Scalping struct{ base }

func (Scalping) Name() string { return models.StrategyScalping }

func (d Scalping) Detect(a *models.Analysis) []models.Candidate {
	fp := a.AvgFundingPct
	if math.Abs(fp) >= scalpFundingPct || a.TotalVolume <= scalpMinVolumeUSD {
		return nil
	}
	return d.emit(a, d.Name(), 80, models.Neutral,
		fmt.Sprintf("Optimal scalping: %.4f%% funding, $%.1fB liquidity", fp, a.TotalVolume/1e9), nil)
}

type MeanReversion struct{ base }

func (MeanReversion) Name() string { return models.StrategyMeanReversion }

func (d MeanReversion) Detect(a *models.Analysis) []models.Candidate {
	fp := a.AvgFundingPct
	abs := math.Abs(fp)
	if abs <= meanRevLowPct || abs >= meanRevHighPct {
		return nil
	}
	return d.emit(a, d.Name(), min(100, int(abs*500)), fade(fp),
		fmt.Sprintf("Funding stretched to %.3f%%, reversion toward neutral likely", fp), nil)
}

type FundingArbitrage struct{ base }

func (FundingArbitrage) Name() string { return models.StrategyFundingArbitrage }

func (d FundingArbitrage) Detect(a *models.Analysis) []models.Candidate {
	if len(a.Arbitrage) == 0 {
		return nil
	}
	best := a.Arbitrage[0]
	bps := best.SpreadPct * 100
	if bps < arbMinBps {
		return nil
	}
	return d.emit(a, d.Name(), min(100, int(bps*10)), models.Neutral,
		fmt.Sprintf("Funding arbitrage: long %s / short %s (%.1f bps)", best.LongSource, best.ShortSource, bps),
		map[string]float64{models.MetricSpreadBps: bps})
}

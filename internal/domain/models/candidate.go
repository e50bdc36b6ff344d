package models

import (
	"strings"
	"time"
)

type Direction string

const (
	Long    Direction = "LONG"
	Short   Direction = "SHORT"
	Neutral Direction = "NEUTRAL"
)

// Opposite flips LONG/SHORT; NEUTRAL stays NEUTRAL.
func (d Direction) Opposite() Direction {
	switch d {
	case Long:
		return Short
	case Short:
		return Long
	}
	return Neutral
}

// Tier is the urgency class, 1 critical through 3 background.
type Tier int

const (
	TierCritical   Tier = 1
	TierHigh       Tier = 2
	TierBackground Tier = 3
)

func (t Tier) Valid() bool { return t >= TierCritical && t <= TierBackground }

func (t Tier) String() string {
	switch t {
	case TierCritical:
		return "critical"
	case TierHigh:
		return "high"
	case TierBackground:
		return "background"
	}
	return "unknown"
}

// Strategy names.
const (
	StrategyLiquidationCascade = "Liquidation Cascade Risk"
	StrategyMomentumBreakout   = "Momentum Breakout"
	StrategyContrarian         = "Contrarian Play"
	StrategyBreakout           = "Breakout Trading"
	StrategyVolatility         = "Volatility Expansion"
	StrategyTrendFollowing     = "Trend Following"
	StrategyRangeTrading       = "Range Trading"
	StrategyScalping           = "Scalping"
	StrategyMeanReversion      = "Mean Reversion"
	StrategyFundingArbitrage   = "Funding Rate Arbitrage"
)

var strategyTiers = map[string]Tier{
	StrategyLiquidationCascade:        TierCritical,
	StrategyMomentumBreakout:          TierCritical,
	"Institutional-Retail Divergence": TierCritical,
	StrategyContrarian:                TierHigh,
	StrategyBreakout:                  TierHigh,
	StrategyVolatility:                TierHigh,
	StrategyTrendFollowing:            TierHigh,
	StrategyRangeTrading:              TierBackground,
	StrategyScalping:                  TierBackground,
	StrategyMeanReversion:             TierBackground,
	StrategyFundingArbitrage:          TierBackground,
	"Basis Arbitrage":                 TierBackground,
	"Delta Neutral":                   TierBackground,
}

// TierFor resolves a strategy's tier: exact name, then prefix match, then background.
func TierFor(strategy string) Tier {
	if t, ok := strategyTiers[strategy]; ok {
		return t
	}
	for name, t := range strategyTiers {
		if strings.HasPrefix(strategy, name) {
			return t
		}
	}
	return TierBackground
}

// Metric keys carried in Candidate.Metrics.
const (
	MetricFundingPct  = "funding_rate_pct"
	MetricOIChange    = "oi_change_pct"
	MetricVolumeRatio = "volume_ratio"
	MetricBasisPct    = "basis_pct"
	MetricAgreement   = "exchange_agreement"
	MetricSentiment   = "sentiment_score"
	MetricSpreadBps   = "spread_bps"
	MetricSizeUSD     = "size_usd"
	MetricVolume      = "volume_usd"
)

// Candidate is a detected condition. Treat as an immutable value once built.
type Candidate struct {
	ID         string             `json:"id"`
	Strategy   string             `json:"strategy"`
	Confidence int                `json:"confidence"`
	Direction  Direction          `json:"direction"`
	Tier       Tier               `json:"tier"`
	Reasoning  string             `json:"reasoning"`
	Metrics    map[string]float64 `json:"metrics,omitempty"`
	Sources    []string           `json:"sources,omitempty"`
	Origin     string             `json:"origin"` // round or stream
	DetectedAt time.Time          `json:"detected_at"`
}

// Metric reads an optional metric.
func (c Candidate) Metric(key string) (float64, bool) {
	v, ok := c.Metrics[key]
	return v, ok
}

const (
	OriginRound  = "round"
	OriginStream = "stream"
)

// ScoredCandidate pairs a candidate with its priority score.
type ScoredCandidate struct {
	Candidate
	Score float64 `json:"score"`
}

// ClampConfidence bounds v to 0..100.
func ClampConfidence(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

package detectors

import (
	"math"
	"sync"

	"AlertGate/internal/domain/models"
	"AlertGate/internal/service/smoother"
)

const (
	// sources below this absolute raw funding count as neutral
	neutralFunding = 0.0001
	// smallest spread, in percent, kept in Analysis.Arbitrage
	minListedSpreadPct = 0.01

	ThresholdVolatility = "volatility_funding_pct"
)

// Analyzer turns a raw MarketView into the smoothed Analysis detectors consume.
// It keeps the previous round's open interest and volume to derive deltas.
type Analyzer struct {
	smoother   *smoother.Smoother
	thresholds *smoother.AdaptiveThreshold
	minSources int

	mu         sync.Mutex
	prevOI     map[string]float64
	prevVolume float64
}

func NewAnalyzer(s *smoother.Smoother, t *smoother.AdaptiveThreshold, minSources int) *Analyzer {
	if s == nil {
		s = smoother.New()
	}
	if t == nil {
		t = smoother.NewAdaptiveThreshold(20, 5)
	}
	return &Analyzer{smoother: s, thresholds: t, minSources: minSources, prevOI: map[string]float64{}}
}

// Analyze derives funding sentiment, agreement and deltas from view. Missing optional
// fields are skipped per source, never treated as zero.
func (z *Analyzer) Analyze(view models.MarketView) *models.Analysis {
	a := models.NewAnalysis(view, z.minSources)
	z.dropStale()

	for _, s := range view.WithFunding() {
		a.Funding[s.Source] = z.smoother.Update(smoother.Key{Family: smoother.FamilyFunding, Source: s.Source}, *s.FundingRate)
	}
	a.TotalVolume = view.TotalVolume()
	if len(a.Funding) == 0 {
		return a
	}

	var sum float64
	for _, r := range a.Funding {
		sum += r
	}
	avg := sum / float64(len(a.Funding))
	a.AvgFundingPct = avg * 100
	a.SentimentScore = math.Max(-1, math.Min(1, avg*1000)) * 100

	agree := 0
	for _, r := range a.Funding {
		switch {
		case r > neutralFunding:
			a.Bullish++
		case r < -neutralFunding:
			a.Bearish++
		default:
			a.Neutral++
		}
		if (avg > 0 && r > 0) || (avg < 0 && r < 0) || (avg == 0 && r == 0) {
			agree++
		}
	}
	a.Agreement = float64(agree) / float64(len(a.Funding))
	a.Arbitrage = models.FundingSpreads(a.Funding, minListedSpreadPct)

	z.deriveDeltas(a)
	a.SetThreshold(ThresholdVolatility, z.thresholds.ObserveAndAdjust(ThresholdVolatility, math.Abs(a.AvgFundingPct), volatilityBase))
	return a
}

// dropStale restarts filters and open interest baselines of sources the smoother
// has not seen within its stale window.
func (z *Analyzer) dropStale() {
	stale := z.smoother.ResetStale()
	if len(stale) == 0 {
		return
	}
	z.mu.Lock()
	for _, src := range stale {
		delete(z.prevOI, src)
	}
	z.mu.Unlock()
}

func (z *Analyzer) deriveDeltas(a *models.Analysis) {
	z.mu.Lock()
	defer z.mu.Unlock()

	var oiNum, oiDen float64
	var basisSum float64
	var basisN int
	for _, s := range a.View.Snapshots() {
		if s.OpenInterest != nil && *s.OpenInterest > 0 {
			if prev, ok := z.prevOI[s.Source]; ok && prev > 0 {
				change := (*s.OpenInterest - prev) / prev * 100
				change = z.smoother.Update(smoother.Key{Family: smoother.FamilyOIChange, Source: s.Source}, change)
				w := math.Max(s.Volume24h, 1)
				oiNum += change * w
				oiDen += w
			}
			z.prevOI[s.Source] = *s.OpenInterest
		}
		if s.BasisPct != nil {
			basisSum += z.smoother.Update(smoother.Key{Family: smoother.FamilyBasis, Source: s.Source}, *s.BasisPct)
			basisN++
		}
	}
	if oiDen > 0 {
		a.OIChangePct = models.Float(oiNum / oiDen)
	}
	if basisN > 0 {
		a.BasisPct = models.Float(basisSum / float64(basisN))
	}
	if z.prevVolume > 0 && a.TotalVolume > 0 {
		ratio := z.smoother.Update(smoother.Key{Family: smoother.FamilyVolumeRatio, Source: "all"}, a.TotalVolume/z.prevVolume)
		a.VolumeRatio = models.Float(ratio)
	}
	if a.TotalVolume > 0 {
		z.prevVolume = a.TotalVolume
	}
}

package models

// Analysis is the smoothed, derived view handed to detectors. It is built once per round and
// never mutated afterwards.
type Analysis struct {
	View MarketView

	// Smoothed funding per source, raw fraction.
	Funding map[string]float64

	AvgFundingPct  float64
	SentimentScore float64 // -100..100
	Bullish        int
	Bearish        int
	Neutral        int
	Agreement      float64 // share of sources whose funding sign matches the average
	TotalVolume    float64
	OIChangePct    *float64
	VolumeRatio    *float64
	BasisPct       *float64
	Arbitrage      []ArbOpportunity

	thresholds map[string]float64
	minSources int
}

// NewAnalysis returns an empty analysis around view; minSources sets the sufficiency floor.
func NewAnalysis(view MarketView, minSources int) *Analysis {
	if minSources < 1 {
		minSources = 1
	}
	return &Analysis{
		View:       view,
		Funding:    map[string]float64{},
		thresholds: map[string]float64{},
		minSources: minSources,
	}
}

// Sufficient reports whether enough sources carried funding data for detectors to run.
func (a *Analysis) Sufficient() bool {
	return a != nil && len(a.Funding) >= a.minSources
}

// SetThreshold records an adaptive threshold under name.
func (a *Analysis) SetThreshold(name string, v float64) { a.thresholds[name] = v }

// Threshold returns the adaptive threshold for name or base when none was set.
func (a *Analysis) Threshold(name string, base float64) float64 {
	if v, ok := a.thresholds[name]; ok && v > 0 {
		return v
	}
	return base
}

// SourceNames lists sources that contributed funding data.
func (a *Analysis) SourceNames() []string {
	out := make([]string, 0, len(a.Funding))
	for _, s := range a.View.Sources() {
		if _, ok := a.Funding[s]; ok {
			out = append(out, s)
		}
	}
	return out
}

package models

import (
	"sort"
	"time"
)

// Snapshot is one source's reading. Optional fields are nil when the source did not report them.
type Snapshot struct {
	Source         string    `json:"source"`
	Symbol         string    `json:"symbol,omitempty"`
	Volume24h      float64   `json:"volume_24h"`
	FundingRate    *float64  `json:"funding_rate,omitempty"` // raw fraction, 0.0025 == 0.25%
	OpenInterest   *float64  `json:"open_interest,omitempty"`
	PriceChangePct *float64  `json:"price_change_pct,omitempty"`
	BasisPct       *float64  `json:"basis_pct,omitempty"`
	LongShortRatio *float64  `json:"long_short_ratio,omitempty"`
	FetchedAt      time.Time `json:"fetched_at"`
}

// Float returns a pointer to v, for building snapshots.
func Float(v float64) *float64 { return &v }

// MarketView is the set of snapshots produced by one collection round.
type MarketView struct {
	CollectedAt time.Time
	snapshots   map[string]Snapshot
}

// NewMarketView copies snaps into a new view keyed by source.
func NewMarketView(at time.Time, snaps ...Snapshot) MarketView {
	m := make(map[string]Snapshot, len(snaps))
	for _, s := range snaps {
		m[s.Source] = s
	}
	return MarketView{CollectedAt: at, snapshots: m}
}

func (v MarketView) Len() int { return len(v.snapshots) }

func (v MarketView) Empty() bool { return len(v.snapshots) == 0 }

func (v MarketView) Get(source string) (Snapshot, bool) {
	s, ok := v.snapshots[source]
	return s, ok
}

// Sources returns source ids in sorted order.
func (v MarketView) Sources() []string {
	out := make([]string, 0, len(v.snapshots))
	for k := range v.snapshots {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Snapshots returns the snapshots ordered by source id.
func (v MarketView) Snapshots() []Snapshot {
	out := make([]Snapshot, 0, len(v.snapshots))
	for _, k := range v.Sources() {
		out = append(out, v.snapshots[k])
	}
	return out
}

// WithFunding returns the snapshots that carry a funding rate.
func (v MarketView) WithFunding() []Snapshot {
	var out []Snapshot
	for _, s := range v.Snapshots() {
		if s.FundingRate != nil {
			out = append(out, s)
		}
	}
	return out
}

func (v MarketView) TotalVolume() float64 {
	var total float64
	for _, s := range v.snapshots {
		total += s.Volume24h
	}
	return total
}

// VolumeWeightedFunding weights each reported funding rate by 24h volume.
// Falls back to the plain mean when no source reports volume.
func (v MarketView) VolumeWeightedFunding() (float64, bool) {
	snaps := v.WithFunding()
	if len(snaps) == 0 {
		return 0, false
	}
	var num, den, sum float64
	for _, s := range snaps {
		num += *s.FundingRate * s.Volume24h
		den += s.Volume24h
		sum += *s.FundingRate
	}
	if den <= 0 {
		return sum / float64(len(snaps)), true
	}
	return num / den, true
}

// ArbOpportunity is a funding rate spread between two sources.
type ArbOpportunity struct {
	LongSource  string  `json:"long_source"`
	ShortSource string  `json:"short_source"`
	LongRate    float64 `json:"long_rate"`
	ShortRate   float64 `json:"short_rate"`
	SpreadPct   float64 `json:"spread_pct"`
}

// FundingSpreads lists pairwise spreads of at least minSpreadPct, widest first.
// rates maps source to a raw funding fraction.
func FundingSpreads(rates map[string]float64, minSpreadPct float64) []ArbOpportunity {
	sources := make([]string, 0, len(rates))
	for s := range rates {
		sources = append(sources, s)
	}
	sort.Strings(sources)

	var out []ArbOpportunity
	for i := 0; i < len(sources); i++ {
		for j := i + 1; j < len(sources); j++ {
			a, b := sources[i], sources[j]
			ra, rb := rates[a], rates[b]
			spreadPct := abs(ra-rb) * 100
			if spreadPct < minSpreadPct {
				continue
			}
			long, short := a, b
			if ra > rb {
				long, short = b, a
			}
			out = append(out, ArbOpportunity{
				LongSource:  long,
				ShortSource: short,
				LongRate:    rates[long],
				ShortRate:   rates[short],
				SpreadPct:   spreadPct,
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SpreadPct > out[j].SpreadPct })
	return out
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

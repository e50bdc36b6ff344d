package bundler

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"AlertGate/internal/domain/models"
	"AlertGate/pkg/util"
)

// Bundler groups same strategy/tier candidates into digests.
type Bundler struct {
	threshold int
	window    time.Duration
	// eligible is consulted per group on top of the size rule, e.g. the scorer's score ceiling.
	eligible func([]models.ScoredCandidate) bool
}

type Option func(*Bundler)

// WithWindow limits a digest to members detected within d of the first one.
func WithWindow(d time.Duration) Option { return func(b *Bundler) { b.window = d } }

func WithEligibility(f func([]models.ScoredCandidate) bool) Option {
	return func(b *Bundler) { b.eligible = f }
}

func New(threshold int, opts ...Option) *Bundler {
	if threshold < 2 {
		threshold = 3
	}
	b := &Bundler{threshold: threshold}
	for _, o := range opts {
		o(b)
	}
	return b
}

type groupKey struct {
	strategy string
	tier     models.Tier
}

// Bundle turns candidates into delivery units. Groups reaching the threshold become one digest,
// the rest pass through individually. Critical candidates are never bundled.
// Output order follows the first appearance of each group.
func (b *Bundler) Bundle(cs []models.ScoredCandidate) []models.DeliveryUnit {
	var order []groupKey
	groups := map[groupKey][]models.ScoredCandidate{}
	for _, c := range cs {
		k := groupKey{c.Strategy, c.Tier}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], c)
	}

	var out []models.DeliveryUnit
	for _, k := range order {
		for _, chunk := range b.chunk(groups[k]) {
			if b.bundleable(k, chunk) {
				out = append(out, models.DigestUnit(newBundle(k, chunk)))
				continue
			}
			for _, c := range chunk {
				out = append(out, models.SingleUnit(c))
			}
		}
	}
	return out
}

func (b *Bundler) bundleable(k groupKey, chunk []models.ScoredCandidate) bool {
	if k.tier == models.TierCritical || len(chunk) < b.threshold {
		return false
	}
	return b.eligible == nil || b.eligible(chunk)
}

// chunk splits members, ordered by detection time, into runs no longer than the window.
func (b *Bundler) chunk(members []models.ScoredCandidate) [][]models.ScoredCandidate {
	sorted := append([]models.ScoredCandidate(nil), members...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].DetectedAt.Before(sorted[j].DetectedAt) })
	if b.window <= 0 {
		return [][]models.ScoredCandidate{sorted}
	}
	var out [][]models.ScoredCandidate
	var cur []models.ScoredCandidate
	for _, c := range sorted {
		if len(cur) > 0 && c.DetectedAt.Sub(cur[0].DetectedAt) > b.window {
			out = append(out, cur)
			cur = nil
		}
		cur = append(cur, c)
	}
	if len(cur) > 0 {
		out = append(out, cur)
	}
	return out
}

func newBundle(k groupKey, members []models.ScoredCandidate) models.Bundle {
	start := lo.MinBy(members, func(a, b models.ScoredCandidate) bool { return a.DetectedAt.Before(b.DetectedAt) }).DetectedAt
	end := lo.MaxBy(members, func(a, b models.ScoredCandidate) bool { return a.DetectedAt.After(b.DetectedAt) }).DetectedAt
	return models.Bundle{
		Strategy: k.strategy,
		Tier:     k.tier,
		Members:  members,
		Summary:  Summarize(k.strategy, members),
		Start:    start,
		End:      end,
	}
}

// Bias is the net direction of a digest.
func Bias(members []models.ScoredCandidate) (label string, long, short int) {
	long = lo.CountBy(members, func(c models.ScoredCandidate) bool { return c.Direction == models.Long })
	short = lo.CountBy(members, func(c models.ScoredCandidate) bool { return c.Direction == models.Short })
	switch {
	case long > short:
		return "BULLISH", long, short
	case short > long:
		return "BEARISH", long, short
	}
	return "MIXED", long, short
}

// Summarize renders the digest header. Same members always give the same text.
func Summarize(strategy string, members []models.ScoredCandidate) string {
	if len(members) == 0 {
		return ""
	}
	label, long, short := Bias(members)
	avg := decimal.Zero
	for _, m := range members {
		avg = avg.Add(decimal.NewFromInt(int64(m.Confidence)))
	}
	avg = avg.Div(decimal.NewFromInt(int64(len(members)))).Round(0)

	start, end := members[0].DetectedAt, members[0].DetectedAt
	for _, m := range members[1:] {
		if m.DetectedAt.Before(start) {
			start = m.DetectedAt
		}
		if m.DetectedAt.After(end) {
			end = m.DetectedAt
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s Digest (%d alerts)\n", strategy, len(members))
	fmt.Fprintf(&sb, "Direction: %s (%d long / %d short)\n", label, long, short)
	fmt.Fprintf(&sb, "Avg Confidence: %s%%\n", avg.String())
	fmt.Fprintf(&sb, "Time span: %s", util.HumanSpan(end.Sub(start)))
	return sb.String()
}

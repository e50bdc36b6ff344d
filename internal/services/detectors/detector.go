package detectors

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"AlertGate/internal/domain/models"
	"AlertGate/pkg/logger"
)

// Detector is a stateless rule over one round's Analysis.
type Detector interface {
	Name() string
	Detect(a *models.Analysis) []models.Candidate
}

const (
	DefaultFloor    = 50
	agreementBonus  = 5
	agreementQuorum = 3
)

// Registry runs a fixed list of detectors in order.
type Registry struct {
	detectors []Detector
	log       *logger.Logger
}

func NewRegistry(log *logger.Logger, ds ...Detector) *Registry {
	if log == nil {
		log = logger.Nop()
	}
	return &Registry{detectors: ds, log: log}
}

func (r *Registry) Names() []string {
	return lo.Map(r.detectors, func(d Detector, _ int) string { return d.Name() })
}

// Detect runs every detector. Insufficient analyses produce nothing; a detector that panics
// is logged and skipped so the others still run.
func (r *Registry) Detect(a *models.Analysis) []models.Candidate {
	if !a.Sufficient() {
		return nil
	}
	var out []models.Candidate
	for _, d := range r.detectors {
		out = append(out, r.safeDetect(d, a)...)
	}
	return out
}

func (r *Registry) safeDetect(d Detector, a *models.Analysis) (cs []models.Candidate) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("detector panicked", logger.String("detector", d.Name()), logger.Any("panic", p))
			cs = nil
		}
	}()
	return d.Detect(a)
}

// All returns the full catalogue in evaluation order, each with the given confidence floor.
func All(floor int) []Detector {
	b := base{floor: floor}
	return []Detector{
		LiquidationCascade{b},
		MomentumBreakout{b},
		Contrarian{b},
		Breakout{b},
		VolatilityExpansion{b},
		TrendFollowing{b},
		RangeTrading{b},
		Scalping{b},
		MeanReversion{b},
		FundingArbitrage{b},
	}
}

// Select returns the named detectors in catalogue order. An empty list selects all.
func Select(names []string, floor int) ([]Detector, error) {
	all := All(floor)
	if len(names) == 0 {
		return all, nil
	}
	known := lo.SliceToMap(all, func(d Detector) (string, Detector) { return d.Name(), d })
	for _, n := range names {
		if _, ok := known[n]; !ok {
			return nil, fmt.Errorf("unknown detector %q", n)
		}
	}
	return lo.Filter(all, func(d Detector, _ int) bool { return lo.Contains(names, d.Name()) }), nil
}

type base struct {
	floor int
}

func (b base) minConfidence() int {
	if b.floor <= 0 {
		return DefaultFloor
	}
	return b.floor
}

// emit builds the candidate, adds the agreement bonus and applies the floor.
func (b base) emit(a *models.Analysis, strategy string, confidence int, dir models.Direction, reasoning string, extra map[string]float64) []models.Candidate {
	if agreeing(a) >= agreementQuorum {
		confidence += agreementBonus
	}
	confidence = models.ClampConfidence(confidence)
	if confidence < b.minConfidence() {
		return nil
	}

	metrics := map[string]float64{
		models.MetricFundingPct: a.AvgFundingPct,
		models.MetricSentiment:  a.SentimentScore,
		models.MetricAgreement:  a.Agreement,
		models.MetricVolume:     a.TotalVolume,
	}
	if a.OIChangePct != nil {
		metrics[models.MetricOIChange] = *a.OIChangePct
	}
	if a.VolumeRatio != nil {
		metrics[models.MetricVolumeRatio] = *a.VolumeRatio
	}
	if a.BasisPct != nil {
		metrics[models.MetricBasisPct] = *a.BasisPct
	}
	for k, v := range extra {
		metrics[k] = v
	}

	at := a.View.CollectedAt
	if at.IsZero() {
		at = time.Now()
	}
	return []models.Candidate{{
		ID:         uuid.NewString(),
		Strategy:   strategy,
		Confidence: confidence,
		Direction:  dir,
		Tier:       models.TierFor(strategy),
		Reasoning:  reasoning,
		Metrics:    metrics,
		Sources:    a.SourceNames(),
		Origin:     models.OriginRound,
		DetectedAt: at,
	}}
}

// agreeing is the size of the largest funding camp.
func agreeing(a *models.Analysis) int {
	return max(a.Bullish, a.Bearish, a.Neutral)
}

package scoring

import (
	"math"

	"AlertGate/internal/domain/models"
)

// Feature vector layout. Keep in sync with Features.
const (
	fConfidence = iota
	fTier
	fHour
	fWeekday
	fFundingBps
	fOIChange
	fVolumeRatio
	fBasis
	fAgreement
	fAlertsHour
	fAlertsDay
	numFeatures
)

// Features extracts the model inputs for c. Absent metrics fall back to neutral values.
func Features(c models.Candidate, density models.AlertCounts) []float64 {
	f := make([]float64, numFeatures)
	f[fConfidence] = float64(c.Confidence)
	f[fTier] = float64(c.Tier)
	at := c.DetectedAt.UTC()
	f[fHour] = float64(at.Hour())
	f[fWeekday] = float64(at.Weekday())
	f[fFundingBps] = metricOr(c, models.MetricFundingPct, 0) * 100
	f[fOIChange] = metricOr(c, models.MetricOIChange, 0)
	f[fVolumeRatio] = metricOr(c, models.MetricVolumeRatio, 1)
	f[fBasis] = metricOr(c, models.MetricBasisPct, 0)
	f[fAgreement] = metricOr(c, models.MetricAgreement, 0)
	f[fAlertsHour] = float64(density.LastHour)
	f[fAlertsDay] = float64(density.LastDay)
	return f
}

func metricOr(c models.Candidate, key string, def float64) float64 {
	if v, ok := c.Metric(key); ok && !math.IsNaN(v) && !math.IsInf(v, 0) {
		return v
	}
	return def
}

// Heuristic is the deterministic half of the score, 0..100.
func Heuristic(c models.Candidate, density models.AlertCounts) float64 {
	score := 50.0
	score += float64(c.Confidence-50) * 0.5

	switch c.Tier {
	case models.TierCritical:
		score += 20
	case models.TierHigh:
		score += 10
	}

	score += metricOr(c, models.MetricAgreement, 0) * 15

	if math.Abs(metricOr(c, models.MetricFundingPct, 0)) > 0.1 {
		score += 10
	}
	if math.Abs(metricOr(c, models.MetricOIChange, 0)) > 15 {
		score += 10
	}
	if density.LastHour > 5 {
		score -= float64(density.LastHour-5) * 5
	}
	return clamp(score)
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}

package scoring

import (
	"math"
)

// ModelState is Untrained until the first successful fit.
type ModelState int

const (
	Untrained ModelState = iota
	Trained
)

func (s ModelState) String() string {
	if s == Trained {
		return "trained"
	}
	return "untrained"
}

// AnomalyModel scores how far a feature vector sits from the fitted window.
// Unusual candidates score high. The zero value is an untrained model.
type AnomalyModel struct {
	state   ModelState
	mean    []float64
	std     []float64
	samples int
}

// Fit standardizes against rows. Fewer than minSamples rows leaves the model unchanged.
func (m *AnomalyModel) Fit(rows [][]float64, minSamples int) bool {
	if len(rows) < minSamples || len(rows) == 0 {
		return false
	}
	width := len(rows[0])
	mean := make([]float64, width)
	std := make([]float64, width)
	for _, r := range rows {
		for i := 0; i < width && i < len(r); i++ {
			mean[i] += r[i]
		}
	}
	n := float64(len(rows))
	for i := range mean {
		mean[i] /= n
	}
	for _, r := range rows {
		for i := 0; i < width && i < len(r); i++ {
			d := r[i] - mean[i]
			std[i] += d * d
		}
	}
	for i := range std {
		std[i] = math.Sqrt(std[i] / n)
	}
	m.mean, m.std, m.samples = mean, std, len(rows)
	m.state = Trained
	return true
}

func (m *AnomalyModel) State() ModelState { return m.state }

func (m *AnomalyModel) Samples() int { return m.samples }

// Score maps the mean absolute z-score of f to 0..100. Constant features are ignored.
func (m *AnomalyModel) Score(f []float64) (float64, bool) {
	if m.state != Trained {
		return 0, false
	}
	var sum float64
	var used int
	for i := 0; i < len(m.mean) && i < len(f); i++ {
		if m.std[i] == 0 {
			continue
		}
		sum += math.Abs(f[i]-m.mean[i]) / m.std[i]
		used++
	}
	if used == 0 {
		return 50, true
	}
	z := sum / float64(used)
	return clamp(100 * (1 - math.Exp(-z))), true
}

package smoother

import (
	"math"
	"sync"
)

const (
	minMultiplier = 0.8
	maxMultiplier = 2.0
)

// AdaptiveThreshold scales base thresholds by the recent coefficient of variation of a metric.
type AdaptiveThreshold struct {
	mu         sync.Mutex
	window     int
	minSamples int
	samples    map[string][]float64
}

func NewAdaptiveThreshold(window, minSamples int) *AdaptiveThreshold {
	if window <= 0 || window > 20 {
		window = 20
	}
	if minSamples <= 0 {
		minSamples = 5
	}
	if minSamples > window {
		minSamples = window
	}
	return &AdaptiveThreshold{window: window, minSamples: minSamples, samples: make(map[string][]float64)}
}

// Observe appends v to metric's window, evicting the oldest sample when full.
func (a *AdaptiveThreshold) Observe(metric string, v float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	w := append(a.samples[metric], v)
	if len(w) > a.window {
		w = w[len(w)-a.window:]
	}
	a.samples[metric] = w
}

// Adjust returns base scaled into [0.8x, 2.0x] by the window's volatility.
// High dispersion raises the bar, a calm window lowers it slightly.
func (a *AdaptiveThreshold) Adjust(metric string, base float64) float64 {
	a.mu.Lock()
	w := append([]float64(nil), a.samples[metric]...)
	a.mu.Unlock()
	return base * multiplier(w, a.minSamples)
}

// ObserveAndAdjust is Observe followed by Adjust.
func (a *AdaptiveThreshold) ObserveAndAdjust(metric string, v, base float64) float64 {
	a.Observe(metric, v)
	return a.Adjust(metric, base)
}

func (a *AdaptiveThreshold) Samples(metric string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.samples[metric])
}

func (a *AdaptiveThreshold) Reset(metric string) {
	a.mu.Lock()
	delete(a.samples, metric)
	a.mu.Unlock()
}

func multiplier(w []float64, minSamples int) float64 {
	if len(w) < minSamples {
		return 1
	}
	var sum float64
	for _, v := range w {
		sum += v
	}
	mean := sum / float64(len(w))
	if mean == 0 {
		return 1
	}
	var ss float64
	for _, v := range w {
		ss += (v - mean) * (v - mean)
	}
	cv := math.Sqrt(ss/float64(len(w))) / math.Abs(mean)

	m := 1.0
	switch {
	case cv > 0.5:
		m = 1 + cv
	case cv < 0.1:
		m = 1 - (0.1 - cv)
	}
	return math.Max(minMultiplier, math.Min(maxMultiplier, m))
}

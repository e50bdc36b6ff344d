package smoother

import (
	"sync"
	"time"

	"AlertGate/pkg/logger"
)

// Family is a metric family with its own noise characteristics.
type Family string

const (
	FamilyFunding     Family = "funding_rate"
	FamilyOIChange    Family = "oi_change"
	FamilyVolumeRatio Family = "volume_ratio"
	FamilyBasis       Family = "basis"
	FamilyLiquidation Family = "liquidation_risk"
)

// Params are the filter variances: Q (how fast the true value moves) and R (measurement noise).
type Params struct {
	ProcessVariance     float64 `yaml:"process_variance"`
	MeasurementVariance float64 `yaml:"measurement_variance"`
}

var fallbackParams = Params{ProcessVariance: 0.01, MeasurementVariance: 0.1}

// DefaultParams returns the tuned variances per family. Cleaner signals get a lower R.
func DefaultParams() map[Family]Params {
	return map[Family]Params{
		FamilyFunding:     {ProcessVariance: 0.001, MeasurementVariance: 0.05},
		FamilyOIChange:    {ProcessVariance: 0.01, MeasurementVariance: 0.1},
		FamilyVolumeRatio: {ProcessVariance: 0.05, MeasurementVariance: 0.2},
		FamilyBasis:       {ProcessVariance: 0.002, MeasurementVariance: 0.08},
		FamilyLiquidation: {ProcessVariance: 0.01, MeasurementVariance: 0.15},
	}
}

// Filter is a scalar recursive estimator. Not safe for concurrent use on its own.
type Filter struct {
	params      Params
	estimate    float64
	errCov      float64
	initialized bool
}

func NewFilter(p Params) *Filter {
	return &Filter{params: p, errCov: 1}
}

// Update folds one measurement into the estimate and returns the new estimate.
func (f *Filter) Update(measurement float64) float64 {
	if !f.initialized {
		f.estimate = measurement
		f.initialized = true
		return f.estimate
	}
	predictedCov := f.errCov + f.params.ProcessVariance
	gain := predictedCov / (predictedCov + f.params.MeasurementVariance)
	f.estimate += gain * (measurement - f.estimate)
	f.errCov = (1 - gain) * predictedCov
	return f.estimate
}

func (f *Filter) Estimate() (float64, bool) { return f.estimate, f.initialized }

func (f *Filter) ErrorCovariance() float64 { return f.errCov }

func (f *Filter) Reset() {
	f.estimate = 0
	f.errCov = 1
	f.initialized = false
}

// Key identifies one filter.
type Key struct {
	Family Family
	Source string
}

// Smoother owns one Filter per (family, source) pair.
type Smoother struct {
	mu         sync.Mutex
	params     map[Family]Params
	filters    map[Key]*Filter
	lastSeen   map[string]time.Time
	staleAfter time.Duration
	now        func() time.Time
	log        *logger.Logger
}

type Option func(*Smoother)

// WithParams overrides variances for the given families.
func WithParams(p map[Family]Params) Option {
	return func(s *Smoother) {
		for f, v := range p {
			s.params[f] = v
		}
	}
}

// WithStaleAfter sets how long a source may go unseen before its filters are reset.
func WithStaleAfter(d time.Duration) Option { return func(s *Smoother) { s.staleAfter = d } }

func WithClock(now func() time.Time) Option { return func(s *Smoother) { s.now = now } }

func WithLogger(l *logger.Logger) Option { return func(s *Smoother) { s.log = l } }

func New(opts ...Option) *Smoother {
	s := &Smoother{
		params:     DefaultParams(),
		filters:    make(map[Key]*Filter),
		lastSeen:   make(map[string]time.Time),
		staleAfter: 30 * time.Minute,
		now:        time.Now,
		log:        logger.Nop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Update feeds raw into the filter for key and returns the smoothed value.
func (s *Smoother) Update(key Key, raw float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.filters[key]
	if !ok {
		p, ok := s.params[key.Family]
		if !ok {
			p = fallbackParams
		}
		f = NewFilter(p)
		s.filters[key] = f
	}
	s.lastSeen[key.Source] = s.now()
	return f.Update(raw)
}

// Estimate returns the current estimate for key without updating it.
func (s *Smoother) Estimate(key Key) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.filters[key]
	if !ok {
		return 0, false
	}
	return f.Estimate()
}

func (s *Smoother) Reset(key Key) {
	s.mu.Lock()
	delete(s.filters, key)
	s.mu.Unlock()
}

// ResetSource drops every filter fed by source and returns how many were removed.
func (s *Smoother) ResetSource(source string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resetSourceLocked(source)
}

func (s *Smoother) resetSourceLocked(source string) int {
	n := 0
	for k := range s.filters {
		if k.Source == source {
			delete(s.filters, k)
			n++
		}
	}
	delete(s.lastSeen, source)
	return n
}

// ResetStale resets sources not updated within the stale window and returns their names.
func (s *Smoother) ResetStale() []string {
	if s.staleAfter <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var reset []string
	for src, seen := range s.lastSeen {
		if now.Sub(seen) > s.staleAfter {
			n := s.resetSourceLocked(src)
			reset = append(reset, src)
			s.log.Info("smoother reset stale source",
				logger.String("source", src),
				logger.Int("filters", n),
				logger.Time("last_seen", seen))
		}
	}
	return reset
}

// Len is the number of live filters.
func (s *Smoother) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.filters)
}

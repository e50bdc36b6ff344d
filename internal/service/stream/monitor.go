package stream

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"AlertGate/internal/domain/models"
	drepo "AlertGate/internal/domain/repository"
	"AlertGate/pkg/logger"
	"AlertGate/pkg/metrics"
)

var (
	ErrStale        = errors.New("stream heartbeat stale")
	errStreamClosed = errors.New("stream closed by peer")
)

// Injector accepts candidates synthesized outside detection rounds.
type Injector interface {
	Inject(ctx context.Context, c models.Candidate) error
}

// InjectorFunc adapts a function to Injector.
type InjectorFunc func(ctx context.Context, c models.Candidate) error

func (f InjectorFunc) Inject(ctx context.Context, c models.Candidate) error { return f(ctx, c) }

// Monitor keeps one connection per stream alive and turns large liquidations into candidates.
type Monitor struct {
	streams  []drepo.MarketStream
	injector Injector

	threshold     float64
	baseDelay     time.Duration
	maxDelay      time.Duration
	maxAttempts   int
	watchInterval time.Duration
	staleAfter    time.Duration

	log     *logger.Logger
	metrics drepo.Metrics
	now     func() time.Time

	mu     sync.RWMutex
	status map[string]*models.StreamStatus
}

type MonitorOption func(*Monitor)

// WithThreshold sets the USD size at which a liquidation becomes a candidate.
func WithThreshold(usd float64) MonitorOption { return func(m *Monitor) { m.threshold = usd } }

// WithReconnect bounds the reconnect loop: wait min(max, base*2^attempt), give up after attempts.
func WithReconnect(base, max time.Duration, attempts int) MonitorOption {
	return func(m *Monitor) {
		m.baseDelay = base
		m.maxDelay = max
		m.maxAttempts = attempts
	}
}

// WithWatchdog polls heartbeats every interval and forces a reconnect past staleAfter.
func WithWatchdog(interval, staleAfter time.Duration) MonitorOption {
	return func(m *Monitor) {
		m.watchInterval = interval
		m.staleAfter = staleAfter
	}
}

func WithMonitorLogger(l *logger.Logger) MonitorOption { return func(m *Monitor) { m.log = l } }

func WithMonitorMetrics(r drepo.Metrics) MonitorOption { return func(m *Monitor) { m.metrics = r } }

func WithMonitorClock(now func() time.Time) MonitorOption { return func(m *Monitor) { m.now = now } }

func NewMonitor(streams []drepo.MarketStream, injector Injector, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		streams:       streams,
		injector:      injector,
		threshold:     1_000_000,
		baseDelay:     time.Second,
		maxDelay:      60 * time.Second,
		maxAttempts:   5,
		watchInterval: 30 * time.Second,
		staleAfter:    60 * time.Second,
		log:           logger.Nop(),
		metrics:       metrics.Nop{},
		now:           time.Now,
		status:        make(map[string]*models.StreamStatus, len(streams)),
	}
	for _, o := range opts {
		o(m)
	}
	m.log = m.log.Component("stream_monitor")
	for _, s := range streams {
		m.status[s.Exchange()] = &models.StreamStatus{Exchange: s.Exchange()}
	}
	return m
}

// Backoff returns the wait before reconnect attempt n (1-based).
func (m *Monitor) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	d := float64(m.baseDelay) * math.Pow(2, float64(attempt))
	if d > float64(m.maxDelay) {
		return m.maxDelay
	}
	return time.Duration(d)
}

// Run blocks until ctx ends or every stream has given up.
func (m *Monitor) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, s := range m.streams {
		wg.Add(1)
		go func(s drepo.MarketStream) {
			defer wg.Done()
			m.runStream(ctx, s)
		}(s)
	}
	wg.Wait()
}

func (m *Monitor) runStream(ctx context.Context, s drepo.MarketStream) {
	name := s.Exchange()
	log := m.log.With(logger.String("exchange", name))
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}
		err := s.Connect(ctx)
		if err == nil {
			attempt = 0
			m.update(name, func(st *models.StreamStatus) {
				st.Connected = true
				st.Healthy = true
				st.ReconnectAttempts = 0
				st.LastHeartbeat = s.LastHeartbeat()
			})
			m.metrics.RecordStreamHealth(name, true)
			err = m.consume(ctx, s)
			_ = s.Close()
		}
		m.update(name, func(st *models.StreamStatus) {
			st.Connected = false
			st.Healthy = false
		})
		m.metrics.RecordStreamHealth(name, false)
		if ctx.Err() != nil {
			return
		}

		attempt++
		if attempt > m.maxAttempts {
			m.update(name, func(st *models.StreamStatus) { st.GaveUp = true })
			log.Error("stream gave up after reconnect attempts",
				logger.Int("attempts", m.maxAttempts), logger.Error(err))
			return
		}
		delay := m.Backoff(attempt)
		m.update(name, func(st *models.StreamStatus) { st.ReconnectAttempts = attempt })
		log.Warn("stream disconnected, reconnecting",
			logger.Int("attempt", attempt),
			logger.Duration("delay", delay),
			logger.Error(err))

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

func (m *Monitor) consume(ctx context.Context, s drepo.MarketStream) error {
	rctx, cancel := context.WithCancel(ctx)
	defer cancel()
	events, errs := s.Read(rctx)

	ticker := time.NewTicker(m.watchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-errs:
			if !ok {
				errs = nil
				if events == nil {
					return errStreamClosed
				}
				continue
			}
			if err != nil {
				return err
			}
		case ev, ok := <-events:
			if !ok {
				events = nil
				if errs == nil {
					return errStreamClosed
				}
				continue
			}
			m.handle(ctx, ev)
		case <-ticker.C:
			hb := s.LastHeartbeat()
			healthy := m.now().Sub(hb) <= m.staleAfter
			m.update(s.Exchange(), func(st *models.StreamStatus) {
				st.LastHeartbeat = hb
				st.Healthy = healthy
			})
			m.metrics.RecordStreamHealth(s.Exchange(), healthy)
			if !healthy {
				return fmt.Errorf("%s: %w (last %s)", s.Exchange(), ErrStale, hb.Format(time.RFC3339))
			}
		}
	}
}

func (m *Monitor) handle(ctx context.Context, ev models.LiquidationEvent) {
	m.update(ev.Exchange, func(st *models.StreamStatus) { st.LastHeartbeat = m.now() })
	c, ok := CascadeCandidate(ev, m.threshold)
	if !ok {
		return
	}
	m.log.Info("large liquidation",
		logger.String("exchange", ev.Exchange),
		logger.String("symbol", ev.Symbol),
		logger.String("side", string(ev.LiquidatedSide)),
		logger.Float64("size_usd", ev.SizeUSD))
	if err := m.injector.Inject(ctx, c); err != nil {
		m.log.Warn("inject stream candidate failed", logger.String("candidate", c.ID), logger.Error(err))
	}
}

func (m *Monitor) update(name string, f func(*models.StreamStatus)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.status[name]
	if !ok {
		st = &models.StreamStatus{Exchange: name}
		m.status[name] = st
	}
	f(st)
}

// Status reports every stream, ordered by exchange name.
func (m *Monitor) Status() []models.StreamStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.StreamStatus, 0, len(m.status))
	for _, st := range m.status {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Exchange < out[j].Exchange })
	return out
}

// CascadeCandidate converts a liquidation of at least threshold USD into a tier 1 candidate
// that trades against the liquidated side.
func CascadeCandidate(ev models.LiquidationEvent, threshold float64) (models.Candidate, bool) {
	if threshold <= 0 || ev.SizeUSD < threshold {
		return models.Candidate{}, false
	}
	if ev.LiquidatedSide != models.Long && ev.LiquidatedSide != models.Short {
		return models.Candidate{}, false
	}
	conf := 60 + 10*math.Log2(ev.SizeUSD/threshold)
	at := ev.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	reasoning := fmt.Sprintf("$%.1fM %s liquidation on %s %s",
		ev.SizeUSD/1e6, ev.LiquidatedSide, ev.Exchange, ev.Symbol)
	return models.Candidate{
		ID:         uuid.NewString(),
		Strategy:   models.StrategyLiquidationCascade,
		Confidence: models.ClampConfidence(int(conf)),
		Direction:  ev.LiquidatedSide.Opposite(),
		Tier:       models.TierCritical,
		Reasoning:  reasoning,
		Metrics:    map[string]float64{models.MetricSizeUSD: ev.SizeUSD},
		Sources:    []string{ev.Exchange},
		Origin:     models.OriginStream,
		DetectedAt: at,
	}, true
}

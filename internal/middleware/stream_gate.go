package middleware

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"AlertGate/internal/domain/models"
	domrepo "AlertGate/internal/domain/repository"
	"AlertGate/internal/service/stream"
	"AlertGate/pkg/logger"
	"AlertGate/pkg/metrics"
)

// StreamGate sits between the stream monitor and the pipeline.
// It validates and throttles injected candidates, and buffers them while downstream fails.
type StreamGate struct {
	next    stream.Injector
	metrics domrepo.Metrics
	log     *logger.Logger
	maxRPS  int
	bufSize int
	bufCh   chan models.Candidate
	stopCh  chan struct{}
	started bool
	mu      sync.Mutex
	// per strategy/source last accepted time
	lastSeen map[string]time.Time
	now      func() time.Time
}

var _ stream.Injector = (*StreamGate)(nil)

type GateOption func(*StreamGate)

// WithMaxRPS sets the max candidates per second per strategy and source.
func WithMaxRPS(n int) GateOption {
	return func(g *StreamGate) {
		if n > 0 {
			g.maxRPS = n
		}
	}
}

// WithBufferSize sets the retry buffer used while downstream is unavailable.
func WithBufferSize(n int) GateOption {
	return func(g *StreamGate) {
		if n > 0 {
			g.bufSize = n
		}
	}
}

func WithGateLogger(l *logger.Logger) GateOption { return func(g *StreamGate) { g.log = l } }

func WithGateMetrics(m domrepo.Metrics) GateOption { return func(g *StreamGate) { g.metrics = m } }

func WithGateClock(now func() time.Time) GateOption { return func(g *StreamGate) { g.now = now } }

func NewStreamGate(next stream.Injector, opts ...GateOption) *StreamGate {
	g := &StreamGate{
		next:     next,
		metrics:  metrics.Nop{},
		log:      logger.Nop(),
		maxRPS:   1,
		bufSize:  100,
		stopCh:   make(chan struct{}),
		lastSeen: make(map[string]time.Time),
		now:      time.Now,
	}
	for _, o := range opts {
		o(g)
	}
	g.bufCh = make(chan models.Candidate, g.bufSize)
	g.log = g.log.Component("stream_gate")
	return g
}

// Start launches background retry of buffered candidates.
func (g *StreamGate) Start(ctx context.Context) {
	g.mu.Lock()
	if g.started {
		g.mu.Unlock()
		return
	}
	g.started = true
	g.mu.Unlock()

	go func() {
		backoff := 50 * time.Millisecond
		for {
			select {
			case <-g.stopCh:
				return
			case <-ctx.Done():
				return
			case c := <-g.bufCh:
				err := g.next.Inject(ctx, c)
				if err == nil {
					backoff = 50 * time.Millisecond
					continue
				}
				if errors.Is(err, models.ErrStoreCorruption) {
					g.log.Warn("dropping buffered candidate, emission halted", logger.String("candidate", c.ID))
					continue
				}
				if backoff < 2*time.Second {
					backoff *= 2
				}
				g.metrics.RecordSourceError("stream_gate_flush")
				select {
				case <-time.After(backoff):
				case <-g.stopCh:
					return
				case <-ctx.Done():
					return
				}
				select {
				case g.bufCh <- c:
				default:
					g.log.Warn("retry buffer full, dropping candidate", logger.String("candidate", c.ID))
				}
			}
		}
	}()
}

// Stop stops the background retry.
func (g *StreamGate) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.started {
		return
	}
	g.started = false
	close(g.stopCh)
}

// Pending is the number of buffered candidates.
func (g *StreamGate) Pending() int { return len(g.bufCh) }

// Inject validates, throttles, and forwards c, buffering it when downstream fails.
// Throttled candidates are dropped without error.
func (g *StreamGate) Inject(ctx context.Context, c models.Candidate) error {
	start := g.now()
	if err := validateCandidate(c); err != nil {
		g.metrics.RecordSourceError("stream_gate_validate")
		return err
	}
	if !g.allow(throttleKey(c), start) {
		g.log.Debug("stream candidate throttled", logger.String("strategy", c.Strategy))
		return nil
	}

	if err := g.next.Inject(ctx, c); err != nil {
		if errors.Is(err, models.ErrStoreCorruption) {
			return err
		}
		select {
		case g.bufCh <- c:
		default:
			g.log.Warn("retry buffer full, dropping candidate", logger.String("candidate", c.ID))
		}
		return fmt.Errorf("stream gate downstream: %w", err)
	}
	g.metrics.RecordLatency("stream_inject", g.now().Sub(start))
	return nil
}

func throttleKey(c models.Candidate) string {
	if len(c.Sources) > 0 {
		return c.Strategy + "|" + c.Sources[0]
	}
	return c.Strategy
}

func validateCandidate(c models.Candidate) error {
	if c.Strategy == "" {
		return fmt.Errorf("candidate strategy empty")
	}
	if !c.Tier.Valid() {
		return fmt.Errorf("candidate tier %d invalid", c.Tier)
	}
	if c.Confidence < 0 || c.Confidence > 100 {
		return fmt.Errorf("candidate confidence %d out of range", c.Confidence)
	}
	switch c.Direction {
	case models.Long, models.Short, models.Neutral:
	default:
		return fmt.Errorf("candidate direction %q invalid", c.Direction)
	}
	return nil
}

func (g *StreamGate) allow(key string, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	last := g.lastSeen[key]
	if !last.IsZero() && now.Sub(last) < time.Second/time.Duration(g.maxRPS) {
		return false
	}
	g.lastSeen[key] = now
	return true
}

package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"AlertGate/internal/domain/models"
	"AlertGate/internal/domain/repository"
	"AlertGate/pkg/logger"
	"AlertGate/pkg/metrics"
)

// BreakerSettings controls the per-source circuit breaker.
type BreakerSettings struct {
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
	Interval            time.Duration
}

// Collector fans out one fetch per source and merges the results into a MarketView.
type Collector struct {
	sources     []repository.Source
	timeout     time.Duration
	concurrency int64
	rateLimit   rate.Limit
	rateBurst   int
	breaker     BreakerSettings

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	limiters map[string]*rate.Limiter

	metrics repository.Metrics
	log     *logger.Logger
	now     func() time.Time
}

type Option func(*Collector)

func WithTimeout(d time.Duration) Option { return func(c *Collector) { c.timeout = d } }

// WithConcurrency bounds in-flight fetches. Zero means one slot per source.
func WithConcurrency(n int) Option { return func(c *Collector) { c.concurrency = int64(n) } }

// WithRateLimit paces calls to each source. perSecond <= 0 disables pacing.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Collector) {
		if perSecond <= 0 {
			c.rateLimit = rate.Inf
			return
		}
		c.rateLimit = rate.Limit(perSecond)
		c.rateBurst = burst
	}
}

func WithBreaker(s BreakerSettings) Option { return func(c *Collector) { c.breaker = s } }

func WithMetrics(m repository.Metrics) Option { return func(c *Collector) { c.metrics = m } }

func WithLogger(l *logger.Logger) Option { return func(c *Collector) { c.log = l } }

func WithClock(now func() time.Time) Option { return func(c *Collector) { c.now = now } }

func New(sources []repository.Source, opts ...Option) *Collector {
	c := &Collector{
		sources:   sources,
		timeout:   10 * time.Second,
		rateLimit: rate.Inf,
		rateBurst: 1,
		breaker: BreakerSettings{
			ConsecutiveFailures: 3,
			OpenTimeout:         60 * time.Second,
			Interval:            60 * time.Second,
		},
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		limiters: make(map[string]*rate.Limiter),
		metrics:  metrics.Nop{},
		log:      logger.Nop(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	if c.rateBurst < 1 {
		c.rateBurst = 1
	}
	return c
}

func (c *Collector) Sources() []repository.Source { return c.sources }

// Collect runs CollectAll over the configured sources.
func (c *Collector) Collect(ctx context.Context) (models.MarketView, []*models.SourceError) {
	return c.CollectAll(ctx, c.sources, c.timeout)
}

// CollectAll fetches every source concurrently. A source that errors or exceeds timeout is
// reported as a SourceError and left out of the view; the round itself never fails.
func (c *Collector) CollectAll(ctx context.Context, sources []repository.Source, timeout time.Duration) (models.MarketView, []*models.SourceError) {
	start := c.now()
	n := c.concurrency
	if n <= 0 || n > int64(len(sources)) {
		n = int64(len(sources))
	}
	if n == 0 {
		return models.NewMarketView(start), nil
	}
	sem := semaphore.NewWeighted(n)

	type result struct {
		snap models.Snapshot
		err  *models.SourceError
	}
	results := make([]result, len(sources))

	var wg sync.WaitGroup
	for i, src := range sources {
		wg.Add(1)
		go func(i int, src repository.Source) {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				results[i].err = &models.SourceError{Source: src.Name(), Err: err}
				return
			}
			defer sem.Release(1)
			snap, err := c.fetchOne(ctx, src, timeout)
			results[i] = result{snap: snap, err: err}
		}(i, src)
	}
	wg.Wait()

	var (
		snaps []models.Snapshot
		errs  []*models.SourceError
	)
	for _, r := range results {
		if r.err != nil {
			errs = append(errs, r.err)
			c.metrics.RecordSourceError(r.err.Source)
			c.log.Warn("source excluded from round",
				logger.String("source", r.err.Source),
				logger.Duration("elapsed_ms", r.err.Elapsed),
				logger.Error(r.err.Err))
			continue
		}
		snaps = append(snaps, r.snap)
	}

	view := models.NewMarketView(c.now(), snaps...)
	c.metrics.RecordLatency("collect_round", c.now().Sub(start))
	c.log.Debug("collection round complete",
		logger.Int("sources", len(sources)),
		logger.Int("ok", len(snaps)),
		logger.Int("failed", len(errs)),
		logger.Duration("duration_ms", c.now().Sub(start)))
	return view, errs
}

// fetchOne applies pacing, the breaker and the deadline to one source. The fetch runs in its
// own goroutine so an adapter that ignores ctx still cannot hold the round past timeout.
func (c *Collector) fetchOne(ctx context.Context, src repository.Source, timeout time.Duration) (models.Snapshot, *models.SourceError) {
	name := src.Name()
	start := c.now()
	fail := func(err error) (models.Snapshot, *models.SourceError) {
		return models.Snapshot{}, &models.SourceError{Source: name, Err: err, Elapsed: c.now().Sub(start)}
	}

	fctx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		fctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := c.limiter(name).Wait(fctx); err != nil {
		return fail(fmt.Errorf("rate limit wait: %w", err))
	}

	type fetched struct {
		snap models.Snapshot
		err  error
	}
	done := make(chan fetched, 1)
	go func() {
		out, err := c.breakerFor(name).Execute(func() (any, error) {
			return src.Fetch(fctx)
		})
		if err != nil {
			done <- fetched{err: err}
			return
		}
		done <- fetched{snap: out.(models.Snapshot)}
	}()

	select {
	case <-fctx.Done():
		err := fctx.Err()
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("timed out after %s: %w", timeout, err)
		}
		return fail(err)
	case r := <-done:
		if r.err != nil {
			return fail(r.err)
		}
		snap := r.snap
		if snap.Source == "" {
			snap.Source = name
		}
		if snap.FetchedAt.IsZero() {
			snap.FetchedAt = c.now()
		}
		return snap, nil
	}
}

func (c *Collector) breakerFor(name string) *gobreaker.CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.breakers[name]; ok {
		return b
	}
	limit := c.breaker.ConsecutiveFailures
	st := gobreaker.Settings{
		Name:     name,
		Interval: c.breaker.Interval,
		Timeout:  c.breaker.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return limit > 0 && counts.ConsecutiveFailures >= limit
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.Warn("source breaker state change",
				logger.String("source", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()))
		},
	}
	b := gobreaker.NewCircuitBreaker(st)
	c.breakers[name] = b
	return b
}

func (c *Collector) limiter(name string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	if l, ok := c.limiters[name]; ok {
		return l
	}
	l := rate.NewLimiter(c.rateLimit, c.rateBurst)
	c.limiters[name] = l
	return l
}

// BreakerState reports the breaker state for a source, "closed" when it has not been used.
func (c *Collector) BreakerState(name string) string {
	c.mu.Lock()
	b, ok := c.breakers[name]
	c.mu.Unlock()
	if !ok {
		return gobreaker.StateClosed.String()
	}
	return b.State().String()
}

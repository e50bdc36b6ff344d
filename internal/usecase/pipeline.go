package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/samber/lo"

	"AlertGate/internal/domain/models"
	drepo "AlertGate/internal/domain/repository"
	"AlertGate/internal/service/cache"
	"AlertGate/internal/service/collector"
	pmetrics "AlertGate/internal/service/metrics"
	"AlertGate/internal/services/bundler"
	"AlertGate/internal/services/detectors"
	"AlertGate/internal/services/scoring"
	"AlertGate/pkg/logger"
	"AlertGate/pkg/metrics"
)

// Pipeline runs detection rounds and the stream injection path. Every candidate from either
// path passes the dedup store before it can reach the delivery queue.
type Pipeline struct {
	collector *collector.Collector
	cache     *cache.ViewCache
	analyzer  *detectors.Analyzer
	registry  *detectors.Registry
	scorer    *scoring.Scorer
	bundler   *bundler.Bundler
	dedup     drepo.DedupStore
	history   drepo.CandidateHistory
	queue     *DeliveryQueue
	maxAlerts int

	metrics drepo.Metrics
	log     *logger.Logger
	now     func() time.Time

	haltMu     sync.RWMutex
	haltReason string

	analysisMu   sync.Mutex
	lastAnalysis *models.Analysis
}

type PipelineDeps struct {
	Collector *collector.Collector
	Cache     *cache.ViewCache
	Analyzer  *detectors.Analyzer
	Registry  *detectors.Registry
	Scorer    *scoring.Scorer
	Bundler   *bundler.Bundler
	Dedup     drepo.DedupStore
	History   drepo.CandidateHistory
	Queue     *DeliveryQueue
}

type PipelineOption func(*Pipeline)

// WithMaxAlerts caps how many candidates per round go on to dedup.
func WithMaxAlerts(n int) PipelineOption { return func(p *Pipeline) { p.maxAlerts = n } }

func WithPipelineMetrics(m drepo.Metrics) PipelineOption { return func(p *Pipeline) { p.metrics = m } }

func WithPipelineLogger(l *logger.Logger) PipelineOption { return func(p *Pipeline) { p.log = l } }

func WithPipelineClock(now func() time.Time) PipelineOption { return func(p *Pipeline) { p.now = now } }

func NewPipeline(d PipelineDeps, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		collector: d.Collector,
		cache:     d.Cache,
		analyzer:  d.Analyzer,
		registry:  d.Registry,
		scorer:    d.Scorer,
		bundler:   d.Bundler,
		dedup:     d.Dedup,
		history:   d.History,
		queue:     d.Queue,
		maxAlerts: 5,
		metrics:   metrics.Nop{},
		log:       logger.Nop(),
		now:       time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	p.log = p.log.Component("pipeline")
	return p
}

// Halted reports whether emission stopped after store corruption.
func (p *Pipeline) Halted() (bool, string) {
	p.haltMu.RLock()
	defer p.haltMu.RUnlock()
	return p.haltReason != "", p.haltReason
}

// Resume clears the halt. Operators call it after repairing the store.
func (p *Pipeline) Resume() {
	p.haltMu.Lock()
	p.haltReason = ""
	p.haltMu.Unlock()
	p.log.Warn("emission resumed by operator")
}

func (p *Pipeline) halt(err error) {
	p.haltMu.Lock()
	p.haltReason = err.Error()
	p.haltMu.Unlock()
	p.log.Error("emission halted", logger.Error(err))
}

func (p *Pipeline) checkHalt() error {
	if halted, reason := p.Halted(); halted {
		return fmt.Errorf("%s: %w", reason, models.ErrStoreCorruption)
	}
	return nil
}

// RunRound collects (or reuses) a market view, detects, scores, dedups and enqueues.
// Too little data yields an Insufficient report, not an error.
func (p *Pipeline) RunRound(ctx context.Context) (models.RoundReport, error) {
	start := p.now()
	rep := models.RoundReport{StartedAt: start, Suppressed: map[string]string{}}
	defer func() {
		rep.Duration = p.now().Sub(start)
		pmetrics.RoundDuration.WithLabelValues(models.OriginRound).Observe(rep.Duration.Seconds())
		p.metrics.RecordLatency("round", rep.Duration)
	}()

	if err := p.checkHalt(); err != nil {
		return rep, err
	}

	view, hit, err := p.cache.GetOrLoad(ctx, func(ctx context.Context) (models.MarketView, error) {
		v, errs := p.collector.Collect(ctx)
		rep.SourceErrors = lo.Map(errs, func(e *models.SourceError, _ int) models.SourceErrorView {
			return models.SourceErrorView{Source: e.Source, Message: e.Message()}
		})
		if v.Empty() {
			return v, models.ErrInsufficientData
		}
		return v, nil
	})
	rep.CacheHit = hit
	if errors.Is(err, models.ErrInsufficientData) {
		rep.Insufficient = true
		p.log.Warn("round skipped, no source reported", logger.Int("source_errors", len(rep.SourceErrors)))
		return rep, nil
	}
	if err != nil {
		return rep, fmt.Errorf("collect: %w", err)
	}
	rep.Sources = view.Sources()

	analysis := p.analyze(view, hit)
	if !analysis.Sufficient() {
		rep.Insufficient = true
		p.log.Info("insufficient data for detectors", logger.Int("sources", view.Len()))
		return rep, nil
	}

	cands := p.registry.Detect(analysis)
	if err := p.process(ctx, cands, &rep); err != nil {
		return rep, err
	}
	p.log.Info("round complete",
		logger.Bool("cache_hit", hit),
		logger.Int("sources", len(rep.Sources)),
		logger.Int("candidates", len(rep.Candidates)),
		logger.Int("accepted", len(rep.Accepted)),
		logger.Int("enqueued", rep.Enqueued))
	return rep, nil
}

// analyze smooths each collected view once. A cache hit reuses the analysis of the
// view it returned, so filters and baselines never see the same sample twice.
func (p *Pipeline) analyze(view models.MarketView, hit bool) *models.Analysis {
	p.analysisMu.Lock()
	defer p.analysisMu.Unlock()
	if last := p.lastAnalysis; hit && last != nil && last.View.CollectedAt.Equal(view.CollectedAt) {
		return last
	}
	a := p.analyzer.Analyze(view)
	p.lastAnalysis = a
	return a
}

// Inject runs a candidate synthesized outside a round through scoring, dedup and the queue.
func (p *Pipeline) Inject(ctx context.Context, c models.Candidate) error {
	if err := p.checkHalt(); err != nil {
		return err
	}
	if c.Origin == "" {
		c.Origin = models.OriginStream
	}
	rep := models.RoundReport{StartedAt: p.now(), Suppressed: map[string]string{}}
	if err := p.process(ctx, []models.Candidate{c}, &rep); err != nil {
		return err
	}
	if reason, ok := rep.Suppressed[c.Strategy]; ok {
		p.log.Debug("injected candidate suppressed", logger.String("strategy", c.Strategy), logger.String("reason", reason))
	}
	return nil
}

func (p *Pipeline) process(ctx context.Context, cands []models.Candidate, rep *models.RoundReport) error {
	if len(cands) == 0 {
		return nil
	}
	density, err := p.dedup.RecentCounts(ctx)
	if err != nil {
		return p.storeErr("recent counts", err)
	}

	scored := p.scorer.Prioritize(cands, density, 0)
	kept := scored
	if p.maxAlerts > 0 && len(scored) > p.maxAlerts {
		kept = scored[:p.maxAlerts]
		for _, sc := range scored[p.maxAlerts:] {
			p.suppress(ctx, rep, sc.Strategy, models.ReasonNotPrioritized)
		}
	}
	rep.Candidates = append(rep.Candidates, scored...)

	var accepted []models.ScoredCandidate
	for _, sc := range kept {
		pmetrics.CandidatesDetected.WithLabelValues(sc.Strategy).Inc()
		pmetrics.CandidateScore.WithLabelValues(sc.Tier.String()).Observe(sc.Score)
		p.remember(ctx, sc, density)

		dec, err := p.dedup.Acquire(ctx, sc.Candidate)
		if err != nil {
			return p.storeErr("dedup "+sc.Strategy, err)
		}
		if !dec.Allow {
			p.suppress(ctx, rep, sc.Strategy, dec.Reason)
			p.log.Debug("candidate suppressed",
				logger.String("strategy", sc.Strategy),
				logger.String("reason", dec.Reason),
				logger.String("detail", dec.Detail))
			continue
		}
		rep.Accepted = append(rep.Accepted, sc.Strategy)
		accepted = append(accepted, sc)
	}

	var errs []error
	for _, u := range p.bundler.Bundle(accepted) {
		if _, err := p.queue.Enqueue(ctx, u); err != nil {
			errs = append(errs, fmt.Errorf("enqueue %s: %w", u.Strategy(), err))
			p.release(ctx, rep, u)
			continue
		}
		rep.Enqueued++
	}
	return errors.Join(errs...)
}

// release hands the dedup slots of a unit that never reached the queue back,
// so the next round can alert on the same setups.
func (p *Pipeline) release(ctx context.Context, rep *models.RoundReport, u models.DeliveryUnit) {
	for _, m := range u.Members() {
		if err := p.dedup.Release(ctx, m.Candidate); err != nil {
			p.log.Error("release dedup slot", logger.String("strategy", m.Strategy), logger.Error(err))
			continue
		}
		rep.Accepted = lo.Without(rep.Accepted, m.Strategy)
	}
}

func (p *Pipeline) storeErr(op string, err error) error {
	if errors.Is(err, models.ErrStoreCorruption) {
		p.halt(err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (p *Pipeline) suppress(ctx context.Context, rep *models.RoundReport, strategy, reason string) {
	rep.Suppressed[strategy] = reason
	p.metrics.RecordSuppressed(strategy, reason)
	if err := p.dedup.RecordSuppression(ctx, strategy, reason); err != nil {
		p.log.Warn("record suppression failed", logger.String("strategy", strategy), logger.Error(err))
	}
}

// remember feeds the scorer's training ring and the candidate history.
func (p *Pipeline) remember(ctx context.Context, sc models.ScoredCandidate, density models.AlertCounts) {
	f := scoring.Features(sc.Candidate, density)
	p.scorer.Observe(f)
	if p.history == nil {
		return
	}
	rec := models.HistoryRecord{
		CandidateID: sc.ID,
		Strategy:    sc.Strategy,
		Tier:        sc.Tier,
		Confidence:  sc.Confidence,
		Score:       sc.Score,
		Features:    f,
		At:          sc.DetectedAt,
	}
	if rec.At.IsZero() {
		rec.At = p.now()
	}
	if err := p.history.Append(ctx, rec); err != nil {
		p.log.Warn("history append failed", logger.String("candidate", sc.ID), logger.Error(err))
	}
}

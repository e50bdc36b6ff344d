package usecase

import (
	"context"
	"fmt"
	"time"

	"AlertGate/internal/domain/models"
	drepo "AlertGate/internal/domain/repository"
	"AlertGate/internal/services/scoring"
	"AlertGate/pkg/logger"
	"AlertGate/pkg/util"
)

// StreamStatusReporter exposes stream health.
type StreamStatusReporter interface {
	Status() []models.StreamStatus
}

// Operations backs the operator surface: on-demand rounds, stats, resets and outcomes.
type Operations struct {
	pipeline *Pipeline
	queue    *DeliveryQueue
	dedup    drepo.DedupStore
	scorer   *scoring.Scorer
	history  drepo.CandidateHistory
	streams  StreamStatusReporter
	log      *logger.Logger
	now      func() time.Time
}

func NewOperations(p *Pipeline, q *DeliveryQueue, dedup drepo.DedupStore, scorer *scoring.Scorer,
	history drepo.CandidateHistory, streams StreamStatusReporter, l *logger.Logger) *Operations {
	if l == nil {
		l = logger.Nop()
	}
	return &Operations{
		pipeline: p,
		queue:    q,
		dedup:    dedup,
		scorer:   scorer,
		history:  history,
		streams:  streams,
		log:      l.Component("operations"),
		now:      time.Now,
	}
}

// SetClock overrides the clock, for tests.
func (o *Operations) SetClock(now func() time.Time) { o.now = now }

func (o *Operations) TriggerRound(ctx context.Context) (models.RoundReport, error) {
	return o.pipeline.RunRound(ctx)
}

// Stats gathers queue depth, dedup activity, halt state and stream health.
func (o *Operations) Stats(ctx context.Context, days int) (models.Stats, error) {
	now := o.now().UTC()
	st := models.Stats{GeneratedAt: now}

	qc, err := o.queue.Counts(ctx)
	if err != nil {
		return st, err
	}
	st.Queue = qc

	if st.Recent, err = o.dedup.RecentCounts(ctx); err != nil {
		return st, fmt.Errorf("stats: %w", err)
	}
	if st.Daily, err = o.dedup.DailyStats(ctx, days); err != nil {
		return st, fmt.Errorf("stats: %w", err)
	}
	today := util.DayKey(now)
	for _, d := range st.Daily {
		if d.Date == today {
			st.SuppressedDay = d.Suppressed
		}
	}

	st.Halted, st.HaltReason = o.pipeline.Halted()
	if o.streams != nil {
		st.Streams = o.streams.Status()
	}
	state, samples := o.scorer.State()
	st.ModelTrained = state == scoring.Trained
	st.ModelSamples = samples

	if o.history != nil {
		eff, err := o.Effectiveness(ctx, days)
		if err != nil {
			o.log.Warn("effectiveness unavailable", logger.Error(err))
		} else {
			st.Effectiveness = eff
		}
	}
	return st, nil
}

// Effectiveness is the actionable rate over candidates with a recorded outcome in the last days.
// It is nil when no outcome has been recorded.
func (o *Operations) Effectiveness(ctx context.Context, days int) (*models.Effectiveness, error) {
	if days <= 0 {
		days = 7
	}
	recs, err := o.history.Since(ctx, o.now().Add(-time.Duration(days)*24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("effectiveness: %w", err)
	}
	type tally struct{ total, ok int }
	byTier := map[models.Tier]*tally{}
	eff := &models.Effectiveness{}
	for _, r := range recs {
		if r.Actionable == nil {
			continue
		}
		t := byTier[r.Tier]
		if t == nil {
			t = &tally{}
			byTier[r.Tier] = t
		}
		eff.Total++
		t.total++
		if *r.Actionable {
			eff.Actionable++
			t.ok++
		}
	}
	if eff.Total == 0 {
		return nil, nil
	}
	eff.ActionableRate = float64(eff.Actionable) / float64(eff.Total)
	eff.ByTier = make(map[string]float64, len(byTier))
	for tier, t := range byTier {
		eff.ByTier[fmt.Sprintf("tier_%d", tier)] = float64(t.ok) / float64(t.total)
	}
	return eff, nil
}

// ResetStrategy clears a strategy's dedup record so it may alert immediately.
func (o *Operations) ResetStrategy(ctx context.Context, strategy string) error {
	if err := o.dedup.Reset(ctx, strategy); err != nil {
		return fmt.Errorf("reset %s: %w", strategy, err)
	}
	o.log.Warn("strategy reset by operator", logger.String("strategy", strategy))
	return nil
}

// Resume lifts an emission halt.
func (o *Operations) Resume() { o.pipeline.Resume() }

func (o *Operations) FailedEntries(ctx context.Context, limit int) ([]models.QueueEntry, error) {
	return o.queue.Failed(ctx, limit)
}

func (o *Operations) RecordOutcome(ctx context.Context, candidateID string, actionable bool) error {
	if o.history == nil {
		return fmt.Errorf("outcome %s: %w", candidateID, models.ErrNotFound)
	}
	return o.history.RecordOutcome(ctx, candidateID, actionable)
}

func (o *Operations) Streams() []models.StreamStatus {
	if o.streams == nil {
		return nil
	}
	return o.streams.Status()
}

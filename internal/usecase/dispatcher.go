package usecase

import (
	"context"
	"errors"
	"time"

	"AlertGate/internal/domain/models"
	drepo "AlertGate/internal/domain/repository"
	"AlertGate/internal/services/bundler"
	"AlertGate/pkg/logger"
	"AlertGate/pkg/metrics"
)

// Dispatcher drains ready queue entries into the sink. Ready singles of the same strategy and
// tier are merged into one digest at send time.
type Dispatcher struct {
	queue   *DeliveryQueue
	sink    drepo.Sink
	bundler *bundler.Bundler
	batch   int
	poll    time.Duration

	metrics drepo.Metrics
	log     *logger.Logger
	now     func() time.Time
}

type DispatcherOption func(*Dispatcher)

func WithBatchSize(n int) DispatcherOption { return func(d *Dispatcher) { d.batch = n } }

func WithPollInterval(p time.Duration) DispatcherOption { return func(d *Dispatcher) { d.poll = p } }

// WithSendBundler enables send-time digests. Without it every entry is sent on its own.
func WithSendBundler(b *bundler.Bundler) DispatcherOption { return func(d *Dispatcher) { d.bundler = b } }

func WithDispatcherMetrics(m drepo.Metrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

func WithDispatcherLogger(l *logger.Logger) DispatcherOption { return func(d *Dispatcher) { d.log = l } }

func WithDispatcherClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) { d.now = now }
}

func NewDispatcher(q *DeliveryQueue, sink drepo.Sink, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		queue:   q,
		sink:    sink,
		batch:   20,
		poll:    5 * time.Second,
		metrics: metrics.Nop{},
		log:     logger.Nop(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(d)
	}
	d.log = d.log.Component("dispatcher")
	return d
}

// outgoing is one message and the entries it settles.
type outgoing struct {
	ids  []string
	unit models.DeliveryUnit
}

// Run recovers orphaned entries, then drains every poll interval until ctx ends.
func (d *Dispatcher) Run(ctx context.Context) error {
	if _, err := d.queue.Recover(ctx); err != nil {
		d.log.Error("recover in-flight entries", logger.Error(err))
	}
	ticker := time.NewTicker(d.poll)
	defer ticker.Stop()
	for {
		if _, err := d.DrainOnce(ctx); err != nil {
			if errors.Is(err, models.ErrQueueClosed) {
				return nil
			}
			d.log.Warn("drain failed", logger.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// DrainOnce sends one batch of ready entries and returns how many entries were settled as sent.
func (d *Dispatcher) DrainOnce(ctx context.Context) (int, error) {
	entries, err := d.queue.Dequeue(ctx, d.batch)
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}
	// settle claimed entries even when the caller is shutting down
	settle := context.WithoutCancel(ctx)

	sent := 0
	for _, out := range d.group(entries) {
		n := d.notification(out)
		start := d.now()
		err := d.sink.Send(ctx, n)
		d.metrics.RecordLatency("sink_send", d.now().Sub(start))
		if err == nil {
			for _, id := range out.ids {
				if err := d.queue.MarkSent(settle, id); err != nil {
					d.log.Error("mark sent failed", logger.String("id", id), logger.Error(err))
					continue
				}
				sent++
			}
			d.metrics.RecordAlertSent(n.Strategy, int(n.Tier))
			continue
		}
		d.fail(settle, out, err)
	}
	return sent, nil
}

func (d *Dispatcher) fail(ctx context.Context, out outgoing, cause error) {
	for _, id := range out.ids {
		e, err := d.queue.MarkFailed(ctx, id, cause)
		switch {
		case errors.Is(err, models.ErrDeliveryPermanent):
			d.metrics.RecordDeliveryFailure(d.sink.Name(), true)
		case err != nil:
			d.log.Error("mark failed failed", logger.String("id", id), logger.Error(err))
		default:
			d.metrics.RecordDeliveryFailure(d.sink.Name(), false)
			d.log.Debug("entry rescheduled", logger.String("id", id), logger.Int("retry", e.RetryCount))
		}
	}
}

func (d *Dispatcher) notification(out outgoing) models.Notification {
	return models.Notification{
		EntryIDs: out.ids,
		Strategy: out.unit.Strategy(),
		Tier:     out.unit.Tier(),
		Kind:     out.unit.Kind,
		Text:     bundler.Format(out.unit),
		Unit:     out.unit,
		SentAt:   d.now().UTC(),
	}
}

// group merges ready singles through the bundler and leaves everything else as is.
func (d *Dispatcher) group(entries []models.QueueEntry) []outgoing {
	if d.bundler == nil {
		out := make([]outgoing, 0, len(entries))
		for _, e := range entries {
			out = append(out, outgoing{ids: []string{e.ID}, unit: e.Unit})
		}
		return out
	}

	var out []outgoing
	var singles []models.ScoredCandidate
	owner := map[string]string{}
	for _, e := range entries {
		if e.Unit.Kind != models.UnitSingle || e.Unit.Candidate == nil {
			out = append(out, outgoing{ids: []string{e.ID}, unit: e.Unit})
			continue
		}
		c := *e.Unit.Candidate
		if _, dup := owner[c.ID]; dup || c.ID == "" {
			out = append(out, outgoing{ids: []string{e.ID}, unit: e.Unit})
			continue
		}
		owner[c.ID] = e.ID
		singles = append(singles, c)
	}

	for _, u := range d.bundler.Bundle(singles) {
		if u.Bundle == nil {
			out = append(out, outgoing{ids: []string{owner[u.Candidate.ID]}, unit: u})
			continue
		}
		ids := make([]string, 0, len(u.Bundle.Members))
		for _, m := range u.Bundle.Members {
			ids = append(ids, owner[m.ID])
		}
		out = append(out, outgoing{ids: ids, unit: u})
	}
	return out
}

package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"AlertGate/internal/domain/models"
	drepo "AlertGate/internal/domain/repository"
	"AlertGate/pkg/logger"
	"AlertGate/pkg/metrics"
)

// DeliveryQueue is the durable at-least-once outbox between the pipeline and the sinks.
// An entry becomes ready again at EnqueuedAt + base*2^retryCount after a failure.
type DeliveryQueue struct {
	store       drepo.QueueStore
	base        time.Duration
	maxFailures int

	mu     sync.Mutex
	closed bool
	writes sync.WaitGroup

	metrics drepo.Metrics
	log     *logger.Logger
	now     func() time.Time
}

type QueueOption func(*DeliveryQueue)

func WithBaseBackoff(d time.Duration) QueueOption { return func(q *DeliveryQueue) { q.base = d } }

// WithMaxFailures sets how many failed attempts make an entry permanently failed.
func WithMaxFailures(n int) QueueOption { return func(q *DeliveryQueue) { q.maxFailures = n } }

func WithQueueMetrics(m drepo.Metrics) QueueOption { return func(q *DeliveryQueue) { q.metrics = m } }

func WithQueueLogger(l *logger.Logger) QueueOption { return func(q *DeliveryQueue) { q.log = l } }

func WithQueueClock(now func() time.Time) QueueOption { return func(q *DeliveryQueue) { q.now = now } }

func NewDeliveryQueue(store drepo.QueueStore, opts ...QueueOption) *DeliveryQueue {
	q := &DeliveryQueue{
		store:       store,
		base:        60 * time.Second,
		maxFailures: 3,
		metrics:     metrics.Nop{},
		log:         logger.Nop(),
		now:         time.Now,
	}
	for _, o := range opts {
		o(q)
	}
	q.log = q.log.Component("delivery_queue")
	return q
}

// Backoff is the delay after enqueue before an entry with retryCount failures is ready,
// base*2^retryCount. A fresh entry waits one base interval.
func (q *DeliveryQueue) Backoff(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	return q.base << uint(retryCount)
}

func (q *DeliveryQueue) begin() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return models.ErrQueueClosed
	}
	q.writes.Add(1)
	return nil
}

// Enqueue persists unit as a pending entry, ready at enqueue time plus Backoff(0).
func (q *DeliveryQueue) Enqueue(ctx context.Context, unit models.DeliveryUnit) (models.QueueEntry, error) {
	if err := q.begin(); err != nil {
		return models.QueueEntry{}, err
	}
	defer q.writes.Done()

	e := models.NewQueueEntry(unit, q.now().UTC(), q.Backoff(0))
	if err := q.store.Insert(ctx, e); err != nil {
		return models.QueueEntry{}, fmt.Errorf("enqueue: %w", err)
	}
	q.log.Debug("entry enqueued",
		logger.String("id", e.ID),
		logger.String("strategy", unit.Strategy()),
		logger.String("kind", string(unit.Kind)))
	return e, nil
}

// Dequeue claims up to maxN ready entries, oldest first. Claimed entries are in flight
// until MarkSent or MarkFailed.
func (q *DeliveryQueue) Dequeue(ctx context.Context, maxN int) ([]models.QueueEntry, error) {
	if err := q.begin(); err != nil {
		return nil, err
	}
	defer q.writes.Done()

	entries, err := q.store.ClaimReady(ctx, q.now().UTC(), maxN)
	if err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}
	return entries, nil
}

func (q *DeliveryQueue) MarkSent(ctx context.Context, id string) error {
	if err := q.begin(); err != nil {
		return err
	}
	defer q.writes.Done()

	e, err := q.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	if e.State != models.EntryInFlight {
		return fmt.Errorf("mark sent %s from %s: %w", id, e.State, models.ErrInvalidTransition)
	}
	e.State = models.EntrySent
	e.LastError = ""
	e.UpdatedAt = q.now().UTC()
	if err := q.store.Update(ctx, e); err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	return nil
}

// MarkFailed records a failed attempt. The entry is rescheduled with backoff, or becomes
// permanently failed once maxFailures attempts have failed; in that case the returned
// error wraps ErrDeliveryPermanent.
func (q *DeliveryQueue) MarkFailed(ctx context.Context, id string, cause error) (models.QueueEntry, error) {
	if err := q.begin(); err != nil {
		return models.QueueEntry{}, err
	}
	defer q.writes.Done()

	e, err := q.store.Get(ctx, id)
	if err != nil {
		return models.QueueEntry{}, fmt.Errorf("mark failed: %w", err)
	}
	if e.State != models.EntryInFlight {
		return e, fmt.Errorf("mark failed %s from %s: %w", id, e.State, models.ErrInvalidTransition)
	}
	now := q.now().UTC()
	e.RetryCount++
	e.UpdatedAt = now
	if cause != nil {
		e.LastError = cause.Error()
	}
	permanent := e.RetryCount >= q.maxFailures
	if permanent {
		e.State = models.EntryFailed
	} else {
		e.State = models.EntryPending
		e.ReadyAt = e.EnqueuedAt.Add(q.Backoff(e.RetryCount))
	}
	if err := q.store.Update(ctx, e); err != nil {
		return models.QueueEntry{}, fmt.Errorf("mark failed: %w", err)
	}
	if permanent {
		q.log.Error("delivery permanently failed",
			logger.String("id", e.ID),
			logger.String("strategy", e.Unit.Strategy()),
			logger.Int("attempts", e.RetryCount),
			logger.String("last_error", e.LastError))
		return e, fmt.Errorf("entry %s: %w", e.ID, models.ErrDeliveryPermanent)
	}
	q.log.Warn("delivery failed, rescheduled",
		logger.String("id", e.ID),
		logger.Int("retry", e.RetryCount),
		logger.Time("ready_at", e.ReadyAt))
	return e, nil
}

// Recover returns entries orphaned in flight by a previous process to pending.
func (q *DeliveryQueue) Recover(ctx context.Context) (int, error) {
	n, err := q.store.RequeueInFlight(ctx)
	if err != nil {
		return 0, fmt.Errorf("recover: %w", err)
	}
	if n > 0 {
		q.log.Info("requeued in-flight entries", logger.Int("count", n))
	}
	return n, nil
}

// Counts reports depth by state and updates the queue gauges.
func (q *DeliveryQueue) Counts(ctx context.Context) (models.QueueCounts, error) {
	c, err := q.store.Counts(ctx)
	if err != nil {
		return models.QueueCounts{}, fmt.Errorf("queue counts: %w", err)
	}
	q.metrics.RecordQueueDepth(string(models.EntryPending), c.Pending)
	q.metrics.RecordQueueDepth(string(models.EntryInFlight), c.InFlight)
	q.metrics.RecordQueueDepth(string(models.EntrySent), c.Sent)
	q.metrics.RecordQueueDepth(string(models.EntryFailed), c.Failed)
	return c, nil
}

func (q *DeliveryQueue) Failed(ctx context.Context, limit int) ([]models.QueueEntry, error) {
	return q.store.ListFailed(ctx, limit)
}

func (q *DeliveryQueue) Get(ctx context.Context, id string) (models.QueueEntry, error) {
	return q.store.Get(ctx, id)
}

// Close rejects new writes and waits for in-flight ones to finish or ctx to expire.
func (q *DeliveryQueue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.writes.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		q.log.Warn("timeout waiting for queue writes", logger.Error(ctx.Err()))
		return fmt.Errorf("drain queue: %w", ctx.Err())
	}
	return q.store.Close()
}

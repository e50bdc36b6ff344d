package repository

import (
	"context"
	"time"

	"AlertGate/internal/domain/models"
)

// Source is one upstream market data adapter. Implementations must be safe for concurrent
// use and must honour ctx cancellation.
type Source interface {
	Name() string
	Fetch(ctx context.Context) (models.Snapshot, error)
}

// Sink delivers a rendered notification. Any error is treated as retryable by the queue.
type Sink interface {
	Name() string
	Send(ctx context.Context, n models.Notification) error
}

// DedupStore owns per-strategy alert state. Check and record for one strategy are serialized.
type DedupStore interface {
	// ShouldAlert evaluates the rules without mutating state.
	ShouldAlert(ctx context.Context, c models.Candidate) (models.Decision, error)
	// RecordAlert stores an emission unconditionally.
	RecordAlert(ctx context.Context, c models.Candidate) error
	// Acquire runs ShouldAlert and, when allowed, RecordAlert as one atomic step.
	Acquire(ctx context.Context, c models.Candidate) (models.Decision, error)
	// Release undoes the latest successful Acquire of c.
	Release(ctx context.Context, c models.Candidate) error
	RecordSuppression(ctx context.Context, strategy, reason string) error
	Get(ctx context.Context, strategy string) (models.DedupRecord, error)
	Reset(ctx context.Context, strategy string) error
	RecentCounts(ctx context.Context) (models.AlertCounts, error)
	DailyStats(ctx context.Context, days int) ([]models.DailyStats, error)
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
	Close() error
}

// QueueStore persists delivery entries.
type QueueStore interface {
	Insert(ctx context.Context, e models.QueueEntry) error
	// ClaimReady moves up to max pending entries with ReadyAt <= now to in-flight, oldest first.
	ClaimReady(ctx context.Context, now time.Time, max int) ([]models.QueueEntry, error)
	Update(ctx context.Context, e models.QueueEntry) error
	Get(ctx context.Context, id string) (models.QueueEntry, error)
	// RequeueInFlight returns entries orphaned by a crash to pending.
	RequeueInFlight(ctx context.Context) (int, error)
	Counts(ctx context.Context) (models.QueueCounts, error)
	ListFailed(ctx context.Context, limit int) ([]models.QueueEntry, error)
	Close() error
}

// CandidateHistory keeps scored candidates for model training and outcome tracking.
type CandidateHistory interface {
	Append(ctx context.Context, rec models.HistoryRecord) error
	RecordOutcome(ctx context.Context, candidateID string, actionable bool) error
	Recent(ctx context.Context, limit int) ([]models.HistoryRecord, error)
	Since(ctx context.Context, since time.Time) ([]models.HistoryRecord, error)
}

// MarketStream is one long-lived exchange connection producing liquidation events.
type MarketStream interface {
	Exchange() string
	Connect(ctx context.Context) error
	Read(ctx context.Context) (<-chan models.LiquidationEvent, <-chan error)
	// LastHeartbeat is the time of the last frame or pong received.
	LastHeartbeat() time.Time
	Close() error
}

// Metrics is the pipeline's instrumentation surface.
type Metrics interface {
	RecordAlertSent(strategy string, tier int)
	RecordSuppressed(strategy, reason string)
	RecordSourceError(source string)
	RecordDeliveryFailure(sink string, permanent bool)
	RecordQueueDepth(state string, n int)
	RecordStreamHealth(exchange string, healthy bool)
	RecordLatency(op string, d time.Duration)
}

package usecase

import (
	"context"
	"sync"
	"time"

	drepo "AlertGate/internal/domain/repository"
	"AlertGate/pkg/logger"
)

// Job is a periodic task. Immediate jobs also run once at start.
type Job struct {
	Name      string
	Every     time.Duration
	Immediate bool
	Run       func(ctx context.Context) error
}

// Scheduler runs each job on its own ticker. A slow job delays only itself.
type Scheduler struct {
	jobs []Job
	log  *logger.Logger
}

func NewScheduler(l *logger.Logger, jobs ...Job) *Scheduler {
	if l == nil {
		l = logger.Nop()
	}
	return &Scheduler{jobs: jobs, log: l.Component("scheduler")}
}

func (s *Scheduler) Jobs() []Job { return s.jobs }

// Run blocks until ctx ends and all job goroutines return.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, j := range s.jobs {
		if j.Every <= 0 || j.Run == nil {
			s.log.Warn("job disabled", logger.String("job", j.Name))
			continue
		}
		wg.Add(1)
		go func(j Job) {
			defer wg.Done()
			s.loop(ctx, j)
		}(j)
	}
	wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, j Job) {
	if j.Immediate {
		s.exec(ctx, j)
	}
	t := time.NewTicker(j.Every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.exec(ctx, j)
		}
	}
}

func (s *Scheduler) exec(ctx context.Context, j Job) {
	start := time.Now()
	if err := j.Run(ctx); err != nil && ctx.Err() == nil {
		s.log.Error("job failed", logger.String("job", j.Name), logger.Error(err))
		return
	}
	s.log.Debug("job done", logger.String("job", j.Name), logger.Duration("took", time.Since(start)))
}

// Locker hands out expiring leases shared between replicas.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Unlock(ctx context.Context, key, token string) error
}

// Exclusive wraps j so that only the replica holding the lease runs it. Skipped runs are not errors.
func Exclusive(j Job, locker Locker, ttl time.Duration, l *logger.Logger) Job {
	if locker == nil {
		return j
	}
	if l == nil {
		l = logger.Nop()
	}
	run := j.Run
	key := "lock:" + j.Name
	j.Run = func(ctx context.Context) error {
		token, ok, err := locker.TryLock(ctx, key, ttl)
		if err != nil {
			return err
		}
		if !ok {
			l.Debug("job held by another replica", logger.String("job", j.Name))
			return nil
		}
		defer func() {
			if err := locker.Unlock(context.WithoutCancel(ctx), key, token); err != nil {
				l.Warn("lease release failed", logger.String("job", j.Name), logger.Error(err))
			}
		}()
		return run(ctx)
	}
	return j
}

// RoundJob drives detection rounds.
func RoundJob(p *Pipeline, every time.Duration) Job {
	return Job{
		Name:      "detection_round",
		Every:     every,
		Immediate: true,
		Run: func(ctx context.Context) error {
			_, err := p.RunRound(ctx)
			return err
		},
	}
}

// CleanupJob prunes dedup history older than retention.
func CleanupJob(store drepo.DedupStore, retention, every time.Duration, l *logger.Logger) Job {
	return Job{
		Name:  "dedup_cleanup",
		Every: every,
		Run: func(ctx context.Context) error {
			n, err := store.Cleanup(ctx, retention)
			if err != nil {
				return err
			}
			if n > 0 && l != nil {
				l.Info("dedup cleanup", logger.Int64("removed", n))
			}
			return nil
		},
	}
}

// QueueGaugeJob refreshes the queue depth gauges.
func QueueGaugeJob(q *DeliveryQueue, every time.Duration) Job {
	return Job{
		Name:  "queue_gauges",
		Every: every,
		Run: func(ctx context.Context) error {
			_, err := q.Counts(ctx)
			return err
		},
	}
}

package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"AlertGate/internal/domain/models"
	"AlertGate/internal/domain/repository"
	"AlertGate/pkg/queue"
)

var _ repository.QueueStore = (*RedisQueueStore)(nil)

// claimAll bounds a full-state move; larger than any realistic backlog.
const claimAll = 1 << 30

// RedisQueueStore keeps delivery entries in Redis. Pending entries are scored by ReadyAt,
// terminal ones by their last update.
type RedisQueueStore struct {
	q *queue.RedisQueue
}

func NewRedisQueueStore(q *queue.RedisQueue) *RedisQueueStore {
	return &RedisQueueStore{q: q}
}

func (s *RedisQueueStore) Insert(ctx context.Context, e models.QueueEntry) error {
	if _, err := s.q.Get(ctx, e.ID); err == nil {
		return fmt.Errorf("insert entry %s: duplicate id", e.ID)
	}
	return s.put(ctx, e)
}

func (s *RedisQueueStore) ClaimReady(ctx context.Context, now time.Time, max int) ([]models.QueueEntry, error) {
	if max <= 0 {
		return nil, nil
	}
	items, err := s.q.Move(ctx, string(models.EntryPending), string(models.EntryInFlight), now, max)
	if err != nil {
		return nil, fmt.Errorf("claim ready: %w", err)
	}
	out := make([]models.QueueEntry, 0, len(items))
	for _, it := range items {
		e, err := decodeEntry(it.Payload)
		if err != nil {
			return nil, err
		}
		e.State = models.EntryInFlight
		e.UpdatedAt = now
		out = append(out, e)
	}
	return out, nil
}

func (s *RedisQueueStore) Update(ctx context.Context, e models.QueueEntry) error {
	if _, err := s.q.Get(ctx, e.ID); err != nil {
		if errors.Is(err, queue.ErrNotFound) {
			return fmt.Errorf("update entry %s: %w", e.ID, models.ErrNotFound)
		}
		return err
	}
	return s.put(ctx, e)
}

func (s *RedisQueueStore) Get(ctx context.Context, id string) (models.QueueEntry, error) {
	it, err := s.q.Get(ctx, id)
	if err != nil {
		if errors.Is(err, queue.ErrNotFound) {
			return models.QueueEntry{}, fmt.Errorf("entry %s: %w", id, models.ErrNotFound)
		}
		return models.QueueEntry{}, err
	}
	e, err := decodeEntry(it.Payload)
	if err != nil {
		return models.QueueEntry{}, err
	}
	e.State = models.EntryState(it.State)
	return e, nil
}

func (s *RedisQueueStore) RequeueInFlight(ctx context.Context) (int, error) {
	items, err := s.q.Move(ctx, string(models.EntryInFlight), string(models.EntryPending), time.Time{}, claimAll)
	if err != nil {
		return 0, fmt.Errorf("requeue in-flight: %w", err)
	}
	return len(items), nil
}

func (s *RedisQueueStore) Counts(ctx context.Context) (models.QueueCounts, error) {
	var c models.QueueCounts
	for _, st := range []models.EntryState{models.EntryPending, models.EntryInFlight, models.EntrySent, models.EntryFailed} {
		n, err := s.q.Count(ctx, string(st))
		if err != nil {
			return models.QueueCounts{}, err
		}
		c.Add(st, n)
	}
	return c, nil
}

func (s *RedisQueueStore) ListFailed(ctx context.Context, limit int) ([]models.QueueEntry, error) {
	items, err := s.q.Newest(ctx, string(models.EntryFailed), limit)
	if err != nil {
		return nil, err
	}
	out := make([]models.QueueEntry, 0, len(items))
	for _, it := range items {
		e, err := decodeEntry(it.Payload)
		if err != nil {
			return nil, err
		}
		e.State = models.EntryFailed
		out = append(out, e)
	}
	return out, nil
}

func (s *RedisQueueStore) Close() error { return s.q.Close() }

func (s *RedisQueueStore) put(ctx context.Context, e models.QueueEntry) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode entry %s: %w", e.ID, err)
	}
	score := e.ReadyAt
	if e.State.Terminal() {
		score = e.UpdatedAt
	}
	return s.q.Put(ctx, queue.Item{ID: e.ID, State: string(e.State), Score: score, Payload: payload})
}

func decodeEntry(payload []byte) (models.QueueEntry, error) {
	var e models.QueueEntry
	if err := json.Unmarshal(payload, &e); err != nil {
		return models.QueueEntry{}, fmt.Errorf("decode entry: %w", err)
	}
	return e, nil
}

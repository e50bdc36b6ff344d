package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"AlertGate/internal/domain/models"
	"AlertGate/internal/domain/repository"
)

var _ repository.QueueStore = (*MemoryQueueStore)(nil)

// MemoryQueueStore is a non-durable queue for tests and the memory backend.
type MemoryQueueStore struct {
	mu      sync.Mutex
	entries map[string]models.QueueEntry
	closed  bool
}

func NewMemoryQueueStore() *MemoryQueueStore {
	return &MemoryQueueStore{entries: map[string]models.QueueEntry{}}
}

func (s *MemoryQueueStore) Insert(_ context.Context, e models.QueueEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return models.ErrQueueClosed
	}
	if _, ok := s.entries[e.ID]; ok {
		return fmt.Errorf("insert entry %s: duplicate id", e.ID)
	}
	s.entries[e.ID] = e
	return nil
}

func (s *MemoryQueueStore) ClaimReady(_ context.Context, now time.Time, max int) ([]models.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, models.ErrQueueClosed
	}
	var ready []models.QueueEntry
	for _, e := range s.entries {
		if e.State == models.EntryPending && !e.ReadyAt.After(now) {
			ready = append(ready, e)
		}
	}
	sort.Slice(ready, func(i, j int) bool {
		if !ready[i].ReadyAt.Equal(ready[j].ReadyAt) {
			return ready[i].ReadyAt.Before(ready[j].ReadyAt)
		}
		return ready[i].EnqueuedAt.Before(ready[j].EnqueuedAt)
	})
	if len(ready) > max {
		ready = ready[:max]
	}
	for i := range ready {
		ready[i].State = models.EntryInFlight
		ready[i].UpdatedAt = now
		s.entries[ready[i].ID] = ready[i]
	}
	return ready, nil
}

func (s *MemoryQueueStore) Update(_ context.Context, e models.QueueEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[e.ID]; !ok {
		return fmt.Errorf("update entry %s: %w", e.ID, models.ErrNotFound)
	}
	s.entries[e.ID] = e
	return nil
}

func (s *MemoryQueueStore) Get(_ context.Context, id string) (models.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return models.QueueEntry{}, fmt.Errorf("entry %s: %w", id, models.ErrNotFound)
	}
	return e, nil
}

func (s *MemoryQueueStore) RequeueInFlight(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, e := range s.entries {
		if e.State == models.EntryInFlight {
			e.State = models.EntryPending
			s.entries[id] = e
			n++
		}
	}
	return n, nil
}

func (s *MemoryQueueStore) Counts(context.Context) (models.QueueCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var c models.QueueCounts
	for _, e := range s.entries {
		c.Add(e.State, 1)
	}
	return c, nil
}

func (s *MemoryQueueStore) ListFailed(_ context.Context, limit int) ([]models.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.QueueEntry
	for _, e := range s.entries {
		if e.State == models.EntryFailed {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryQueueStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

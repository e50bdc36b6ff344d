package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"AlertGate/internal/domain/models"
	"AlertGate/internal/domain/repository"
)

var _ repository.CandidateHistory = (*MemoryHistory)(nil)

// MemoryHistory is a bounded ring of history records; the oldest drop first.
type MemoryHistory struct {
	mu   sync.RWMutex
	buf  []models.HistoryRecord
	head int
	size int
}

func NewMemoryHistory(capacity int) *MemoryHistory {
	if capacity <= 0 {
		capacity = 1000
	}
	return &MemoryHistory{buf: make([]models.HistoryRecord, capacity)}
}

func (h *MemoryHistory) Append(_ context.Context, rec models.HistoryRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.buf[(h.head+h.size)%len(h.buf)] = rec
	if h.size < len(h.buf) {
		h.size++
	} else {
		h.head = (h.head + 1) % len(h.buf)
	}
	return nil
}

func (h *MemoryHistory) RecordOutcome(_ context.Context, candidateID string, actionable bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := 0; i < h.size; i++ {
		idx := (h.head + i) % len(h.buf)
		if h.buf[idx].CandidateID == candidateID {
			v := actionable
			h.buf[idx].Actionable = &v
			return nil
		}
	}
	return fmt.Errorf("candidate %s: %w", candidateID, models.ErrNotFound)
}

func (h *MemoryHistory) Recent(_ context.Context, limit int) ([]models.HistoryRecord, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	all := h.snapshot()
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

func (h *MemoryHistory) Since(_ context.Context, since time.Time) ([]models.HistoryRecord, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []models.HistoryRecord
	for _, r := range h.snapshot() {
		if !r.At.Before(since) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (h *MemoryHistory) snapshot() []models.HistoryRecord {
	out := make([]models.HistoryRecord, 0, h.size)
	for i := 0; i < h.size; i++ {
		out = append(out, h.buf[(h.head+i)%len(h.buf)])
	}
	return out
}

package models

import (
	"time"

	"github.com/google/uuid"
)

// Bundle is a digest of same strategy/tier candidates.
type Bundle struct {
	Strategy string            `json:"strategy"`
	Tier     Tier              `json:"tier"`
	Members  []ScoredCandidate `json:"members"`
	Summary  string            `json:"summary"`
	Start    time.Time         `json:"start"`
	End      time.Time         `json:"end"`
}

type UnitKind string

const (
	UnitSingle UnitKind = "single"
	UnitDigest UnitKind = "digest"
)

// DeliveryUnit is either a single candidate or a bundle.
type DeliveryUnit struct {
	Kind      UnitKind         `json:"kind"`
	Candidate *ScoredCandidate `json:"candidate,omitempty"`
	Bundle    *Bundle          `json:"bundle,omitempty"`
}

func SingleUnit(c ScoredCandidate) DeliveryUnit {
	return DeliveryUnit{Kind: UnitSingle, Candidate: &c}
}

func DigestUnit(b Bundle) DeliveryUnit {
	return DeliveryUnit{Kind: UnitDigest, Bundle: &b}
}

// Strategy returns the strategy the unit is about.
func (u DeliveryUnit) Strategy() string {
	if u.Bundle != nil {
		return u.Bundle.Strategy
	}
	if u.Candidate != nil {
		return u.Candidate.Strategy
	}
	return ""
}

// Tier returns the unit's tier, background when unknown.
func (u DeliveryUnit) Tier() Tier {
	if u.Bundle != nil {
		return u.Bundle.Tier
	}
	if u.Candidate != nil {
		return u.Candidate.Tier
	}
	return TierBackground
}

// Members returns every candidate carried by the unit.
func (u DeliveryUnit) Members() []ScoredCandidate {
	if u.Bundle != nil {
		return u.Bundle.Members
	}
	if u.Candidate != nil {
		return []ScoredCandidate{*u.Candidate}
	}
	return nil
}

type EntryState string

const (
	EntryPending  EntryState = "pending"
	EntryInFlight EntryState = "in_flight"
	EntrySent     EntryState = "sent"
	EntryFailed   EntryState = "permanently_failed"
)

// Terminal reports whether no further transition is allowed.
func (s EntryState) Terminal() bool { return s == EntrySent || s == EntryFailed }

// QueueEntry is a durable delivery record.
type QueueEntry struct {
	ID         string       `json:"id"`
	Unit       DeliveryUnit `json:"unit"`
	State      EntryState   `json:"state"`
	EnqueuedAt time.Time    `json:"enqueued_at"`
	ReadyAt    time.Time    `json:"ready_at"`
	RetryCount int          `json:"retry_count"`
	LastError  string       `json:"last_error,omitempty"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// NewQueueEntry builds a pending entry that becomes ready after the first backoff step.
func NewQueueEntry(unit DeliveryUnit, now time.Time, firstDelay time.Duration) QueueEntry {
	return QueueEntry{
		ID:         uuid.NewString(),
		Unit:       unit,
		State:      EntryPending,
		EnqueuedAt: now,
		ReadyAt:    now.Add(firstDelay),
		UpdatedAt:  now,
	}
}

// QueueCounts is queue depth by state.
type QueueCounts struct {
	Pending  int `json:"pending"`
	InFlight int `json:"in_flight"`
	Sent     int `json:"sent"`
	Failed   int `json:"permanently_failed"`
}

// Add accumulates n entries in state s.
func (c *QueueCounts) Add(s EntryState, n int) {
	switch s {
	case EntryPending:
		c.Pending += n
	case EntryInFlight:
		c.InFlight += n
	case EntrySent:
		c.Sent += n
	case EntryFailed:
		c.Failed += n
	}
}

// Depth is the number of entries still awaiting delivery.
func (c QueueCounts) Depth() int { return c.Pending + c.InFlight }

// Notification is what a sink receives: the rendered text plus the unit it came from.
type Notification struct {
	EntryIDs []string     `json:"entry_ids"`
	Strategy string       `json:"strategy"`
	Tier     Tier         `json:"tier"`
	Kind     UnitKind     `json:"kind"`
	Text     string       `json:"text"`
	Unit     DeliveryUnit `json:"unit"`
	SentAt   time.Time    `json:"sent_at"`
}

package models

import "time"

// DedupRecord is the persisted per-strategy alert state.
type DedupRecord struct {
	Strategy       string    `json:"strategy"`
	LastAlertTime  time.Time `json:"last_alert_time"`
	LastConfidence int       `json:"last_confidence"`
	LastDirection  Direction `json:"last_direction"`
	Tier           Tier      `json:"tier"`
	CooldownUntil  time.Time `json:"cooldown_until"`
	DailyCount     int       `json:"daily_count"`
	HourlyCount    int       `json:"hourly_count"` // global count for the current hour
}

// DedupState is the logical state derived from a record at an instant.
type DedupState string

const (
	StateIdle        DedupState = "idle"
	StateCooling     DedupState = "cooling"
	StateRateLimited DedupState = "rate_limited"
)

// Suppression reasons.
const (
	ReasonNew            = "new setup"
	ReasonAccepted       = "alert criteria met"
	ReasonCooldown       = "cooldown active"
	ReasonDelta          = "confidence change too small"
	ReasonDailyCap       = "daily limit reached"
	ReasonHourlyCap      = "hourly global limit reached"
	ReasonHalted         = "emission halted"
	ReasonNotPrioritized = "below priority cut"
)

// Decision is the outcome of a dedup check.
type Decision struct {
	Allow  bool   `json:"allow"`
	Reason string `json:"reason"`
	Detail string `json:"detail,omitempty"`
}

// DedupPolicy holds the tunable dedup limits.
type DedupPolicy struct {
	Cooldowns          map[Tier]time.Duration
	MinConfidenceDelta int
	MaxPerDay          int
	MaxPerHour         int
}

// Cooldown returns the cooldown for tier, defaulting to the background tier's value.
func (p DedupPolicy) Cooldown(t Tier) time.Duration {
	if d, ok := p.Cooldowns[t]; ok {
		return d
	}
	if d, ok := p.Cooldowns[TierBackground]; ok {
		return d
	}
	return 8 * time.Hour
}

// DefaultDedupPolicy mirrors the shipped configuration defaults.
func DefaultDedupPolicy() DedupPolicy {
	return DedupPolicy{
		Cooldowns: map[Tier]time.Duration{
			TierCritical:   2 * time.Hour,
			TierHigh:       4 * time.Hour,
			TierBackground: 8 * time.Hour,
		},
		MinConfidenceDelta: 20,
		MaxPerDay:          3,
		MaxPerHour:         10,
	}
}

// DailyStats aggregates one UTC day of dedup activity.
type DailyStats struct {
	Date       string `json:"date"`
	Total      int    `json:"total_alerts"`
	Tier1      int    `json:"tier_1"`
	Tier2      int    `json:"tier_2"`
	Tier3      int    `json:"tier_3"`
	Suppressed int    `json:"suppressed"`
}

// AlertCounts is the recent alert density used by scoring.
type AlertCounts struct {
	LastHour int `json:"last_hour"`
	LastDay  int `json:"last_day"`
}

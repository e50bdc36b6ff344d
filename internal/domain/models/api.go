package models

import "time"

// RoundReport summarizes one detection round.
type RoundReport struct {
	StartedAt    time.Time         `json:"started_at"`
	Duration     time.Duration     `json:"duration"`
	CacheHit     bool              `json:"cache_hit"`
	Sources      []string          `json:"sources"`
	SourceErrors []SourceErrorView `json:"source_errors,omitempty"`
	Insufficient bool              `json:"insufficient_data"`
	Candidates   []ScoredCandidate `json:"candidates"`
	Accepted     []string          `json:"accepted"`
	Suppressed   map[string]string `json:"suppressed,omitempty"`
	Enqueued     int               `json:"enqueued"`
}

// SourceErrorView is the serializable form of a SourceError.
type SourceErrorView struct {
	Source  string `json:"source"`
	Message string `json:"message"`
}

// Stats is the operational snapshot served to operators.
type Stats struct {
	Queue         QueueCounts    `json:"queue"`
	SuppressedDay int            `json:"suppressed_today"`
	Recent        AlertCounts    `json:"recent_alerts"`
	Daily         []DailyStats   `json:"daily"`
	Halted        bool           `json:"halted"`
	HaltReason    string         `json:"halt_reason,omitempty"`
	Streams       []StreamStatus `json:"streams,omitempty"`
	ModelTrained  bool           `json:"model_trained"`
	ModelSamples  int            `json:"model_samples"`
	Effectiveness *Effectiveness `json:"effectiveness,omitempty"`
	GeneratedAt   time.Time      `json:"generated_at"`
}

// Effectiveness is the actionable rate of alerts with recorded outcomes.
type Effectiveness struct {
	Total          int                `json:"total_alerts"`
	Actionable     int                `json:"actionable_count"`
	ActionableRate float64            `json:"actionable_rate"`
	ByTier         map[string]float64 `json:"by_tier,omitempty"`
}

// StatsRequest binds GET /api/stats.
type StatsRequest struct {
	Days int `query:"days" default:"7" validate:"gte=1,lte=90"`
}

// FailedRequest binds GET /api/queue/failed.
type FailedRequest struct {
	Limit int `query:"limit" default:"50" validate:"gte=1,lte=500"`
}

// ResetRequest binds DELETE /api/strategies/:name.
type ResetRequest struct {
	Name string `param:"name" validate:"required,max=128"`
}

// OutcomeRequest binds POST /api/outcomes.
type OutcomeRequest struct {
	CandidateID string `json:"candidate_id" validate:"required"`
	Actionable  *bool  `json:"actionable" validate:"required"`
}

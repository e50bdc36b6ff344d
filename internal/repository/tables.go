package repository

import "time"

// StrategyState is the current dedup record of one strategy.
type StrategyState struct {
	Strategy       string `gorm:"primaryKey"`
	LastAlertTime  time.Time
	LastConfidence int
	LastDirection  string
	Tier           int
	CooldownUntil  time.Time
	DayKey         string
	DailyCount     int
	UpdatedAt      time.Time
}

// AlertLog is one accepted alert. Times are unix milliseconds so range scans compare numerically.
type AlertLog struct {
	ID          int64  `gorm:"primaryKey;autoIncrement"`
	Strategy    string `gorm:"index:idx_alert_strategy_time,priority:1"`
	AlertTimeMs int64  `gorm:"index:idx_alert_strategy_time,priority:2;index"`
	Confidence  int
	Direction   string
	Tier        int
	CandidateID string
}

// HourlyCount is the global accepted-alert count of one UTC hour bucket.
type HourlyCount struct {
	HourKey    string `gorm:"primaryKey"`
	AlertCount int
}

// DailyStat aggregates one UTC day.
type DailyStat struct {
	Date             string `gorm:"primaryKey"`
	TotalAlerts      int
	Tier1Alerts      int `gorm:"column:tier_1_alerts"`
	Tier2Alerts      int `gorm:"column:tier_2_alerts"`
	Tier3Alerts      int `gorm:"column:tier_3_alerts"`
	SuppressedAlerts int
}

// QueueRow is a persisted delivery entry. The unit is stored as JSON.
type QueueRow struct {
	ID           string `gorm:"primaryKey"`
	State        string `gorm:"index:idx_queue_state_ready,priority:1"`
	ReadyAtMs    int64  `gorm:"index:idx_queue_state_ready,priority:2"`
	EnqueuedAtMs int64  `gorm:"index"`
	RetryCount   int
	LastError    string
	Strategy     string
	Tier         int
	Unit         []byte
	UpdatedAtMs  int64
}

func (QueueRow) TableName() string { return "delivery_queue" }

func allTables() []any {
	return []any{&StrategyState{}, &AlertLog{}, &HourlyCount{}, &DailyStat{}, &QueueRow{}}
}

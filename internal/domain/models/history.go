package models

import "time"

// HistoryRecord is one scored candidate kept for model training and outcome tracking.
type HistoryRecord struct {
	CandidateID string    `json:"candidate_id"`
	Strategy    string    `json:"strategy"`
	Tier        Tier      `json:"tier"`
	Confidence  int       `json:"confidence"`
	Score       float64   `json:"score"`
	Features    []float64 `json:"features"`
	At          time.Time `json:"at"`
	Actionable  *bool     `json:"actionable,omitempty"`
}

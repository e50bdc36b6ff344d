package models

import "time"

// LiquidationEvent is a forced order reported by an exchange stream.
// LiquidatedSide is the position side that was closed: LONG when longs were liquidated.
type LiquidationEvent struct {
	Exchange       string    `json:"exchange"`
	Symbol         string    `json:"symbol"`
	LiquidatedSide Direction `json:"liquidated_side"`
	Price          float64   `json:"price"`
	SizeUSD        float64   `json:"size_usd"`
	At             time.Time `json:"at"`
}

// StreamStatus is the health of one streaming connection.
type StreamStatus struct {
	Exchange          string    `json:"exchange"`
	Connected         bool      `json:"connected"`
	Healthy           bool      `json:"healthy"`
	LastHeartbeat     time.Time `json:"last_heartbeat"`
	ReconnectAttempts int       `json:"reconnect_attempts"`
	GaveUp            bool      `json:"gave_up"`
}

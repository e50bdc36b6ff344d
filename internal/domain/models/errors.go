package models

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrSourceUnavailable marks a source excluded from a round. Recovered locally.
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrInsufficientData means too few sources reported for detectors to run.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrDeliveryTransient is a retryable sink failure.
	ErrDeliveryTransient = errors.New("delivery failed, will retry")
	// ErrDeliveryPermanent is returned once retries are exhausted.
	ErrDeliveryPermanent = errors.New("delivery permanently failed")
	// ErrStoreCorruption is fatal for emission: no alert may leave while it is set.
	ErrStoreCorruption = errors.New("dedup store corruption")

	ErrNotFound          = errors.New("not found")
	ErrQueueClosed       = errors.New("queue closed")
	ErrInvalidTransition = errors.New("invalid queue entry transition")
)

// SourceError records why one source was excluded from a round.
type SourceError struct {
	Source  string        `json:"source"`
	Err     error         `json:"-"`
	Elapsed time.Duration `json:"elapsed"`
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source %s: %v", e.Source, e.Err)
}

func (e *SourceError) Unwrap() []error { return []error{ErrSourceUnavailable, e.Err} }

// Message is the JSON form used by the HTTP surface.
func (e *SourceError) Message() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

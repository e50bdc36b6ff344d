package queue

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("queue item not found")

// Item is one stored payload. Items in a state are ordered by Score.
type Item struct {
	ID      string
	State   string
	Score   time.Time
	Payload []byte
}

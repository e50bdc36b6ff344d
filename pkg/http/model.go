package http

import (
	"encoding/json"
	"fmt"
)

// Envelope is the body every AlertGate endpoint answers with, Data typed per route.
type Envelope[T any] struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Data    T      `json:"data,omitempty"`
}

// APIResponse is an envelope with an untyped payload.
type APIResponse = Envelope[any]

// RawEnvelope keeps the payload undecoded until the caller knows its type.
type RawEnvelope = Envelope[json.RawMessage]

// DecodeEnvelope parses body as an envelope carrying T.
func DecodeEnvelope[T any](body []byte) (Envelope[T], error) {
	var env Envelope[T]
	if err := json.Unmarshal(body, &env); err != nil {
		return env, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}

// HasData reports whether the raw payload carries a value.
func HasData(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}

// ValidationError describes one rejected request field.
type ValidationError struct {
	Code    string         `json:"code,omitempty"`
	Field   string         `json:"field,omitempty"`
	Message string         `json:"message,omitempty"`
	Params  map[string]any `json:"params,omitempty"`
}

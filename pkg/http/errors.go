package http

import (
	"fmt"
	"net/http"
)

// AppError is an error the API reports to callers inside the response envelope.
type AppError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Field   string         `json:"field,omitempty"`
	Params  map[string]any `json:"params,omitempty"`
	Status  int            `json:"-"`
	Err     error          `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *AppError) Unwrap() error { return e.Err }

// WithParam attaches a detail the client can act on, such as the rejected value.
func (e *AppError) WithParam(key string, value any) *AppError {
	if e.Params == nil {
		e.Params = map[string]any{}
	}
	e.Params[key] = value
	return e
}

// WithError keeps the cause for logs; it is never serialized.
func (e *AppError) WithError(err error) *AppError {
	e.Err = err
	return e
}

func newAppError(status int, code, msg string) *AppError {
	return &AppError{Code: code, Message: msg, Status: status}
}

func NotFoundError(msg string) *AppError {
	return newAppError(http.StatusNotFound, "ERR_NOT_FOUND", msg)
}

func BadRequestError(msg string) *AppError {
	return newAppError(http.StatusBadRequest, "ERR_BAD_REQUEST", msg)
}

// UnavailableError signals a temporary refusal, e.g. while emission is halted.
func UnavailableError(msg string) *AppError {
	return newAppError(http.StatusServiceUnavailable, "ERR_UNAVAILABLE", msg)
}

func InternalError(msg string) *AppError {
	return newAppError(http.StatusInternalServerError, "ERR_INTERNAL", msg)
}

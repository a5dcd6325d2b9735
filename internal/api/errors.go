package api

import (
	"errors"
	"fmt"
)

// Sentinel errors for remote API calls.
var (
	ErrUnauthorized = errors.New("api: unauthorized")
	ErrNotFound     = errors.New("api: not found")
	ErrRateLimited  = errors.New("api: rate limited by server")
	ErrServer       = errors.New("api: server error")
	ErrNoBaseURL    = errors.New("api: base url not configured")
)

// StatusError carries an unexpected non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api: unexpected status %d: %s", e.StatusCode, e.Body)
}

// Error wraps an underlying error with operation context.
type Error struct {
	Op     string // "set-progress", "add-time-spent"
	BookID string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("api %s [%s]: %v", e.Op, e.BookID, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

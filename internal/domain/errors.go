package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrUnauthenticated     = errors.New("unauthenticated")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrRateLimited         = errors.New("rate limited")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrWorkerUnavailable   = errors.New("worker unavailable")
	ErrWorkerTimeout       = errors.New("worker timeout")
	ErrStorage             = errors.New("storage error")
	ErrInvalidCallback     = errors.New("invalid callback")
)

// InsufficientCreditsError carries the amounts behind a rejected
// reservation so the API can tell the user what topping up would take.
type InsufficientCreditsError struct {
	Required  float64
	Available float64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: required %.2f, available %.2f", e.Required, e.Available)
}

func (e *InsufficientCreditsError) Unwrap() error { return ErrInsufficientCredits }

// RateLimitedError carries the remainder of the caller's rate-limit window
// so the API can emit an accurate Retry-After.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited: retry after %s", e.RetryAfter)
}

func (e *RateLimitedError) Unwrap() error { return ErrRateLimited }

// FieldIssue describes a single rejected field in a request payload.
type FieldIssue struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidationError aggregates the field issues of a rejected payload.
type ValidationError struct {
	Issues []FieldIssue
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 0 {
		return "invalid payload"
	}
	parts := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		parts = append(parts, fmt.Sprintf("%s: %s", issue.Field, issue.Reason))
	}
	return "invalid payload: " + strings.Join(parts, "; ")
}

// AsValidationError unwraps err into a *ValidationError when possible.
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

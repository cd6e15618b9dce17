package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Error wraps a provider failure with enough context to decide whether a
// retry is worthwhile.
type Error struct {
	Provider   string
	Model      string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s (status %d): %v", e.Provider, e.Model, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Model, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the failure is transient. Rate limits, server
// errors, and timeouts retry; auth and validation failures do not.
func (e *Error) Retryable() bool {
	switch e.StatusCode {
	case 429, 500, 502, 503, 504, 529:
		return true
	case 400, 401, 403, 404, 422:
		return false
	}
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(e.Error())
	for _, hint := range []string{
		"rate_limit", "rate limit", "too many requests",
		"overloaded", "service unavailable", "bad gateway",
		"gateway timeout", "internal server error",
		"connection reset", "timeout",
	} {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}

func isRetryable(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Retryable()
	}
	return false
}

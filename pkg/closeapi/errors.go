package closeapi

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")

	// ErrNotFound is returned by schema lookups when no object matches.
	ErrNotFound = errors.New("not found")
)

// ErrorClass represents a classification of request errors.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors other than 429.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassRateLimit represents 429 rate limit errors.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"
)

// APIError represents a Close API error with the decoded validation payload.
type APIError struct {
	StatusCode int
	ErrorClass ErrorClass
	Endpoint   string

	// Errors holds general validation errors from the response body.
	Errors []string

	// FieldErrors holds per-field validation errors from the response body.
	FieldErrors map[string]string

	// RetryAfter is the server's wait hint on 429 responses, 0 when absent.
	RetryAfter time.Duration

	Err error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "close %s error (status %d) on %s", e.ErrorClass, e.StatusCode, e.Endpoint)
	if len(e.Errors) > 0 {
		fmt.Fprintf(&b, ": %s", strings.Join(e.Errors, "; "))
	}
	if len(e.FieldErrors) > 0 {
		fields := make([]string, 0, len(e.FieldErrors))
		for field, msg := range e.FieldErrors {
			fields = append(fields, fmt.Sprintf("%s: %s", field, msg))
		}
		fmt.Fprintf(&b, " [%s]", strings.Join(fields, "; "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *APIError) Unwrap() error {
	return e.Err
}

// shouldRetry determines if an error should be retried based on its class.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassClient:
		// 4xx errors are deterministic; retrying burns rate limit budget.
		return false
	case ErrorClassRateLimit:
		return true
	case ErrorClassServer:
		return true
	case ErrorClassNetwork:
		return true
	default:
		return false
	}
}

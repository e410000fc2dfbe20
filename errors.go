package govern

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hupe1980/govern/retry"
)

var (
	// ErrCapacityExceeded matches rejections for global or category capacity.
	ErrCapacityExceeded = errors.New("capacity exceeded")

	// ErrRateLimited matches rejections by the global rate limiter.
	ErrRateLimited = errors.New("rate limited")

	// ErrCircuitOpen matches rejections by an open circuit breaker.
	ErrCircuitOpen = errors.New("circuit open")

	// ErrCategoryBusy is the cause of a rejection when the category limit
	// is reached while the global ceiling still has room.
	ErrCategoryBusy = errors.New("category concurrency limit reached")

	// ErrPayloadTooLarge marks inputs above the accepted size. Failures
	// caused by it are reported with status 413.
	ErrPayloadTooLarge = errors.New("payload too large")
)

// Reason explains why a call was rejected.
type Reason string

const (
	CapacityExceeded Reason = "capacity_exceeded"
	RateLimited      Reason = "rate_limited"
	CircuitOpen      Reason = "circuit_open"
)

// RejectionError is returned when a call is refused before it starts.
//
// errors.Is matches the sentinel of its Reason; the underlying cause, if
// any, can be accessed via errors.Unwrap.
type RejectionError struct {
	Reason     Reason
	Tool       string
	RetryAfter time.Duration
	cause      error
}

func (e *RejectionError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s rejected: %s: %v", e.Tool, e.Reason, e.cause)
	}
	return fmt.Sprintf("%s rejected: %s", e.Tool, e.Reason)
}

func (e *RejectionError) Unwrap() error { return e.cause }

// Is matches the sentinel error of the rejection reason.
func (e *RejectionError) Is(target error) bool {
	switch e.Reason {
	case CapacityExceeded:
		return target == ErrCapacityExceeded
	case RateLimited:
		return target == ErrRateLimited
	case CircuitOpen:
		return target == ErrCircuitOpen
	}
	return false
}

// Message returns the text shown to users.
func (e *RejectionError) Message() string {
	switch e.Reason {
	case RateLimited:
		return "Too many requests. Please try again in a moment."
	case CircuitOpen:
		return "This conversion is temporarily unavailable. Please try again later."
	default:
		return "Server is currently at capacity. Please try again in a moment."
	}
}

// Status returns the HTTP status of the rejection.
func (e *RejectionError) Status() int {
	if e.Reason == RateLimited {
		return http.StatusTooManyRequests
	}
	return http.StatusServiceUnavailable
}

// FailureError is returned when an admitted call fails after retries or on
// a permanent error. Error returns only the user-safe message; the raw cause
// can be accessed via errors.Unwrap.
type FailureError struct {
	Tool    string
	Message string
	Status  int
	Class   retry.Class

	// Executions is the number of times the handler ran.
	Executions int
	cause      error
}

func newFailureError(tool string, err error, executions int) *FailureError {
	status := http.StatusInternalServerError
	if errors.Is(err, ErrPayloadTooLarge) {
		status = http.StatusRequestEntityTooLarge
	}
	return &FailureError{
		Tool:       tool,
		Message:    UserMessage(err),
		Status:     status,
		Class:      retry.Classify(err),
		Executions: executions,
		cause:      err,
	}
}

func (e *FailureError) Error() string { return e.Message }

func (e *FailureError) Unwrap() error { return e.cause }

package resilience

import (
	"errors"
	"fmt"
)

// Sentinel errors for resilience operations.
var (
	// ErrCircuitOpen is returned when the circuit breaker rejects a call.
	ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

	// ErrMaxRetriesExceeded is the match target for retry exhaustion.
	// The concrete error returned is *ExhaustedError.
	ErrMaxRetriesExceeded = errors.New("resilience: max retries exceeded")

	// ErrBudgetExhausted is returned when the retry budget for the current
	// time window has been spent.
	ErrBudgetExhausted = errors.New("resilience: retry budget exhausted")

	// ErrAttemptTimeout is returned when a single attempt exceeds its
	// per-attempt timeout. It is retryable like any other failure.
	ErrAttemptTimeout = errors.New("resilience: attempt timed out")
)

// ExhaustedError is returned when all retry attempts have failed. It wraps
// the last underlying error and records how many attempts were made.
type ExhaustedError struct {
	// Attempts is the total number of invocations, including the first.
	Attempts int

	// Err is the error from the final attempt.
	Err error
}

// Error implements the error interface.
func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("resilience: failed after %d attempts: %v", e.Attempts, e.Err)
}

// Unwrap returns the last underlying error.
func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrMaxRetriesExceeded, so callers can match
// exhaustion with errors.Is without losing the underlying cause.
func (e *ExhaustedError) Is(target error) bool {
	return target == ErrMaxRetriesExceeded
}

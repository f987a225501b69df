package llm

import (
	"errors"
	"fmt"
)

var (
	// ErrCircuitOpen is returned when the circuit breaker is in open state
	// and rejects requests to prevent cascading failures.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrNotConfigured is returned by the factory when no API key is set.
	ErrNotConfigured = errors.New("completion service not configured")

	// ErrEmptyResponse is returned when the service answers without text.
	ErrEmptyResponse = errors.New("completion service returned empty content")
)

// ServiceError is a non-success response or unparseable body from the
// completion service. It is never retried; call sites fall back instead.
type ServiceError struct {
	Provider string
	Status   int
	Err      error
}

func (e *ServiceError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s returned status %d: %v", e.Provider, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

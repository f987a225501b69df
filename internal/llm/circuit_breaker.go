package llm

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerConfig tunes the breaker in front of one completion client.
type BreakerConfig struct {
	// Failures is the number of consecutive failed completions that opens the
	// circuit.
	Failures uint32
	// Cooldown is how long the circuit stays open before probing again.
	Cooldown time.Duration
	// Probes is how many completions may run while half-open; all of them
	// must succeed to close the circuit.
	Probes uint32
}

// DefaultBreakerConfig opens after 3 failures and probes again after 30s.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{Failures: 3, Cooldown: 30 * time.Second, Probes: 2}
}

// CircuitBreaker stops calling a completion service that keeps failing and
// answers ErrCircuitOpen until the cooldown has passed.
type CircuitBreaker struct {
	breaker *gobreaker.CircuitBreaker
}

// NewCircuitBreaker creates a breaker named after the provider it guards.
func NewCircuitBreaker(provider string, cfg BreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        provider,
			MaxRequests: cfg.Probes,
			Timeout:     cfg.Cooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.Failures
			},
			// cancelled callers do not count against the service
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, context.Canceled)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Printf("llm: %s circuit %s -> %s", name, from, to)
			},
		}),
	}
}

// Complete runs one completion through the breaker.
func (cb *CircuitBreaker) Complete(ctx context.Context, complete func(context.Context) (string, error)) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	text, err := cb.breaker.Execute(func() (interface{}, error) {
		return complete(ctx)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", ErrCircuitOpen
		}
		return "", err
	}
	return text.(string), nil
}

// State returns "closed", "open" or "half-open".
func (cb *CircuitBreaker) State() string {
	return cb.breaker.State().String()
}

// ConsecutiveFailures returns the current failure streak.
func (cb *CircuitBreaker) ConsecutiveFailures() uint32 {
	return cb.breaker.Counts().ConsecutiveFailures
}

// Package resilience wraps outbound HTTP calls to the dispatch service and
// third-party providers with circuit breakers, timeouts and retries.
package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"
)

// CircuitBreakerConfig holds configuration for the circuit breaker.
type CircuitBreakerConfig struct {
	// Name identifies the breaker in the provider registry and logs.
	Name string

	// MaxRequests is the number of probes let through while half-open.
	MaxRequests uint32

	// Interval clears the counts while closed. Zero keeps them forever.
	Interval time.Duration

	// Timeout is how long the breaker stays open.
	Timeout time.Duration

	// ReadyToTrip decides when to open. Default: DefaultReadyToTrip.
	ReadyToTrip func(counts gobreaker.Counts) bool

	// IsSuccessful classifies call errors. Default: DefaultIsSuccessful.
	IsSuccessful func(err error) bool

	OnStateChange func(name string, from gobreaker.State, to gobreaker.State)
}

// DefaultCircuitBreakerConfig opens after repeated failures and probes again
// after 30 seconds, short enough for a rider mid-trip to recover.
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:         name,
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      30 * time.Second,
		ReadyToTrip:  DefaultReadyToTrip,
		IsSuccessful: DefaultIsSuccessful,
	}
}

// DefaultReadyToTrip opens on three consecutive failures, or when at least
// half of five or more requests failed.
func DefaultReadyToTrip(counts gobreaker.Counts) bool {
	if counts.ConsecutiveFailures >= 3 {
		return true
	}
	if counts.Requests < 5 {
		return false
	}
	return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.5
}

// DefaultIsSuccessful does not count calls the caller abandoned as failures.
func DefaultIsSuccessful(err error) bool {
	return err == nil || errors.Is(err, context.Canceled)
}

// NewCircuitBreaker creates a circuit breaker from cfg.
func NewCircuitBreaker[T any](cfg CircuitBreakerConfig) *gobreaker.CircuitBreaker[T] {
	if cfg.ReadyToTrip == nil {
		cfg.ReadyToTrip = DefaultReadyToTrip
	}
	if cfg.IsSuccessful == nil {
		cfg.IsSuccessful = DefaultIsSuccessful
	}

	return gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:          cfg.Name,
		MaxRequests:   cfg.MaxRequests,
		Interval:      cfg.Interval,
		Timeout:       cfg.Timeout,
		ReadyToTrip:   cfg.ReadyToTrip,
		IsSuccessful:  cfg.IsSuccessful,
		OnStateChange: cfg.OnStateChange,
	})
}

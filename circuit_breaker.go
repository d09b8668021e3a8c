package redis

import (
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/coralkv/redis/resp"
)

// BreakerState is the circuit breaker state exposed to health-check
// callers.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerHalfOpen
	BreakerOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerHalfOpen:
		return "half-open"
	case BreakerOpen:
		return "open"
	}
	return "unknown"
}

// BreakerConfig configures the failure-protection gate wrapped around pool
// operations.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that trips
	// the breaker open.
	FailureThreshold uint32

	// SuccessThreshold is the number of consecutive half-open probe
	// successes required to close the breaker again.
	SuccessThreshold uint32

	// ResetTimeout is how long an open breaker rejects calls before
	// letting a probe through.
	ResetTimeout time.Duration
}

// DefaultBreakerConfig trips after 5 consecutive failures, probes after
// 10 seconds, and closes after 2 probe successes.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		ResetTimeout:     10 * time.Second,
	}
}

// CircuitBreaker wraps operations with a three-state failure gate. In the
// open state calls are rejected with ErrCircuitOpen before any pool
// checkout or I/O is attempted, so failure detection during an outage is
// O(1) instead of O(timeout).
//
// Server error replies (resp.CommandError) do not count as failures: the
// server answered, so the resource is healthy.
type CircuitBreaker struct {
	cb *gobreaker.CircuitBreaker[any]
}

// NewCircuitBreaker builds a breaker for the named resource, typically the
// server address.
func NewCircuitBreaker(name string, cfg BreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if cfg.SuccessThreshold == 0 {
		cfg.SuccessThreshold = DefaultBreakerConfig().SuccessThreshold
	}
	if cfg.ResetTimeout == 0 {
		cfg.ResetTimeout = DefaultBreakerConfig().ResetTimeout
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.SuccessThreshold,
		Timeout:     cfg.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var cmdErr *resp.CommandError
			return errors.As(err, &cmdErr)
		},
	}
	return &CircuitBreaker{cb: gobreaker.NewCircuitBreaker[any](settings)}
}

// Execute runs fn under the breaker. While open it returns ErrCircuitOpen
// without invoking fn.
func (b *CircuitBreaker) Execute(fn func() (any, error)) (any, error) {
	v, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return v, ErrCircuitOpen
	}
	return v, err
}

// State returns the current breaker state.
func (b *CircuitBreaker) State() BreakerState {
	switch b.cb.State() {
	case gobreaker.StateOpen:
		return BreakerOpen
	case gobreaker.StateHalfOpen:
		return BreakerHalfOpen
	default:
		return BreakerClosed
	}
}

package collect

import (
	"sync"
	"time"
)

// Breaker states.
const (
	breakerClosed   = "CLOSED"
	breakerOpen     = "OPEN"
	breakerHalfOpen = "HALF_OPEN"
)

// CircuitBreaker trips after maxFailures consecutive failures and fails
// fast until resetTimeout has passed, then lets a single probe through.
type CircuitBreaker struct {
	mu           sync.Mutex
	failures     int
	maxFailures  int
	lastFailure  time.Time
	resetTimeout time.Duration
	state        string
}

func NewCircuitBreaker(maxFailures int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		state:        breakerClosed,
	}
}

// Allow reports whether a call may proceed, transitioning OPEN to HALF_OPEN
// once the reset timeout has elapsed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == breakerOpen {
		if time.Since(cb.lastFailure) > cb.resetTimeout {
			cb.state = breakerHalfOpen
			return true
		}
		return false
	}
	return true
}

func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	if cb.state == breakerHalfOpen || cb.state == breakerOpen {
		cb.state = breakerClosed
	}
}

func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailure = time.Now()
	if cb.state == breakerHalfOpen || cb.failures >= cb.maxFailures {
		cb.state = breakerOpen
	}
}

// State returns the current state name.
func (cb *CircuitBreaker) State() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

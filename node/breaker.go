package node

import (
	"sync"
	"time"
)

// BreakerState is one of the three circuit-breaker states.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerHalfOpen
	BreakerOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "Closed"
	case BreakerHalfOpen:
		return "HalfOpen"
	case BreakerOpen:
		return "Open"
	default:
		return "Unknown"
	}
}

// CircuitBreaker guards one external collaborator (DHT, relay, STUN):
// repeated failures trip it open, fast-failing further calls until a
// cooldown elapses, after which a single trial call is allowed through
// (half-open) to decide whether to close again or re-open.
type CircuitBreaker struct {
	mu sync.Mutex

	name string

	failureThreshold int
	cooldown         time.Duration

	state       BreakerState
	failures    int
	openedAt    time.Time
	trialInFlight bool
}

// NewCircuitBreaker builds a breaker that trips after failureThreshold
// consecutive failures and waits cooldown before trying a half-open
// probe.
func NewCircuitBreaker(name string, failureThreshold int, cooldown time.Duration) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if cooldown <= 0 {
		cooldown = 10 * time.Second
	}
	return &CircuitBreaker{name: name, failureThreshold: failureThreshold, cooldown: cooldown}
}

// Allow reports whether a call to the guarded collaborator may proceed
// right now, per the closed/half-open/open state machine.
func (b *CircuitBreaker) Allow(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if now.Sub(b.openedAt) >= b.cooldown {
			b.state = BreakerHalfOpen
			b.trialInFlight = true
			return true
		}
		return false
	case BreakerHalfOpen:
		if b.trialInFlight {
			return false
		}
		b.trialInFlight = true
		return true
	default:
		return true
	}
}

// RecordSuccess closes the breaker and clears its failure count.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.failures = 0
	b.trialInFlight = false
}

// RecordFailure counts a failure; once failureThreshold consecutive
// failures accumulate (or a half-open trial fails) the breaker opens.
func (b *CircuitBreaker) RecordFailure(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerHalfOpen {
		b.state = BreakerOpen
		b.openedAt = now
		b.trialInFlight = false
		return
	}

	b.failures++
	if b.failures >= b.failureThreshold {
		b.state = BreakerOpen
		b.openedAt = now
		b.trialInFlight = false
	}
}

// State returns the breaker's current state.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Package circuit provides a consecutive-failure circuit breaker with a
// cool-down. Once open, dependent calls fail immediately without attempting
// the guarded operation until the cool-down elapses; the first call after the
// cool-down transitions the breaker to half-open and is allowed through as a
// probe.
package circuit

import (
	"sync"
	"time"

	"github.com/breakoutlab/tradecore/internal/domain"
)

// State represents the breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Breaker is a consecutive-failure circuit breaker. It is safe for concurrent
// use.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
	openedAt    time.Time
	now         func() time.Time
}

// New creates a closed Breaker that opens after threshold consecutive
// failures and stays open for the given cool-down.
func New(name string, threshold int, cooldown time.Duration) *Breaker {
	return &Breaker{
		name:      name,
		threshold: threshold,
		cooldown:  cooldown,
		state:     StateClosed,
		now:       time.Now,
	}
}

// Name returns the breaker's identifier.
func (b *Breaker) Name() string { return b.name }

// Allow reports whether the guarded operation may be attempted. When the
// breaker is open and the cool-down has elapsed it transitions to half-open
// and allows one probe through.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if b.now().Sub(b.openedAt) >= b.cooldown {
			b.state = StateHalfOpen
			return true
		}
		return false
	}
	return true
}

// RecordSuccess resets the failure count and closes the breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.state = StateClosed
}

// RecordFailure increments the consecutive-failure count and opens the
// breaker when the threshold is reached. A failed half-open probe reopens
// immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = b.now()

	if b.state == StateHalfOpen || b.failures >= b.threshold {
		b.state = StateOpen
		b.openedAt = b.now()
	}
}

// Reset forces the breaker closed and clears the failure count.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = StateClosed
	b.failures = 0
}

// TripOpen forces the breaker open regardless of the failure count.
func (b *Breaker) TripOpen() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = StateOpen
	b.openedAt = b.now()
}

// State returns the current breaker state, accounting for an elapsed
// cool-down (an open breaker past its cool-down reports half-open).
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Snapshot returns a serializable view of the breaker for persistence.
func (b *Breaker) Snapshot() domain.BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	return domain.BreakerSnapshot{
		State:       string(b.state),
		Failures:    b.failures,
		LastFailure: b.lastFailure,
		OpenedAt:    b.openedAt,
	}
}

// Restore resets the breaker to a previously persisted state. Unknown states
// are treated as closed.
func (b *Breaker) Restore(snap domain.BreakerSnapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch State(snap.State) {
	case StateOpen, StateHalfOpen, StateClosed:
		b.state = State(snap.State)
	default:
		b.state = StateClosed
	}
	b.failures = snap.Failures
	b.lastFailure = snap.LastFailure
	b.openedAt = snap.OpenedAt
}

// setClock replaces the time source; used by tests.
func (b *Breaker) setClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

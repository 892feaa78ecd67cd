package dispatch

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// BreakerState is the circuit state for one event type
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half-open"
)

type breaker struct {
	failures    int
	state       BreakerState
	openedAt    time.Time
	lastFailure time.Time
}

// BreakerRegistry keeps one circuit breaker per event type. A type whose
// handler keeps failing trips open and fails fast until the cool-down
// passes, then a single probe decides whether to close again.
type BreakerRegistry struct {
	mu        sync.Mutex
	breakers  map[string]*breaker
	threshold int
	coolDown  time.Duration
	now       func() time.Time
}

// NewBreakerRegistry creates a registry with the given trip threshold
// and cool-down.
func NewBreakerRegistry(threshold int, coolDown time.Duration) *BreakerRegistry {
	if threshold <= 0 {
		threshold = 5
	}
	if coolDown <= 0 {
		coolDown = 60 * time.Second
	}
	return &BreakerRegistry{
		breakers:  make(map[string]*breaker),
		threshold: threshold,
		coolDown:  coolDown,
		now:       time.Now,
	}
}

func (r *BreakerRegistry) get(eventType string) *breaker {
	b, ok := r.breakers[eventType]
	if !ok {
		b = &breaker{state: BreakerClosed}
		r.breakers[eventType] = b
	}
	return b
}

// Allow reports whether a handler call for this event type may proceed.
// An open breaker past its cool-down moves to half-open and lets one
// probe through.
func (r *BreakerRegistry) Allow(eventType string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	b := r.get(eventType)
	switch b.state {
	case BreakerClosed, BreakerHalfOpen:
		return true
	case BreakerOpen:
		if r.now().Sub(b.openedAt) >= r.coolDown {
			b.state = BreakerHalfOpen
			log.Info().Str("eventType", eventType).Msg("Circuit breaker half-open")
			return true
		}
		return false
	}
	return true
}

// Success records a handled event and closes the breaker
func (r *BreakerRegistry) Success(eventType string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b := r.get(eventType)
	if b.state != BreakerClosed {
		log.Info().Str("eventType", eventType).Msg("Circuit breaker closed")
	}
	b.state = BreakerClosed
	b.failures = 0
}

// Failure records a handler failure. A half-open probe failure reopens
// immediately; repeated closed-state failures trip at the threshold.
func (r *BreakerRegistry) Failure(eventType string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b := r.get(eventType)
	b.failures++
	b.lastFailure = r.now()

	if b.state == BreakerHalfOpen || b.failures >= r.threshold {
		if b.state != BreakerOpen {
			log.Warn().
				Str("eventType", eventType).
				Int("failures", b.failures).
				Msg("Circuit breaker opened")
		}
		b.state = BreakerOpen
		b.openedAt = r.now()
	}
}

// State returns the current state for an event type
func (r *BreakerRegistry) State(eventType string) BreakerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.get(eventType).state
}

// States snapshots all breakers
func (r *BreakerRegistry) States() map[string]BreakerState {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]BreakerState, len(r.breakers))
	for t, b := range r.breakers {
		out[t] = b.state
	}
	return out
}

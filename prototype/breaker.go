package prototype

import (
	"sync"
	"time"
)

// BreakerState is the circuit breaker state.
type BreakerState int

const (
	// BreakerClosed lets calls through normally.
	BreakerClosed BreakerState = iota
	// BreakerOpen rejects calls without touching the network.
	BreakerOpen
	// BreakerHalfOpen lets a limited number of probe calls through.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker guards storage calls: a failure streak opens it, open calls are
// rejected locally, and after a cool-off a few probes decide whether the
// service is back. It keeps a struggling storage backend from eating every
// autosave in timeouts.
type Breaker struct {
	mu        sync.Mutex
	state     BreakerState
	failures  int
	successes int
	lastFail  time.Time

	threshold int
	cooloff   time.Duration
	probes    int
	now       func() time.Time
}

// BreakerOption customizes a Breaker.
type BreakerOption func(*Breaker)

// WithBreakerThreshold sets the consecutive-failure count that opens the
// breaker.
func WithBreakerThreshold(n int) BreakerOption {
	return func(b *Breaker) {
		if n > 0 {
			b.threshold = n
		}
	}
}

// WithBreakerCooloff sets how long the breaker stays open before probing.
func WithBreakerCooloff(d time.Duration) BreakerOption {
	return func(b *Breaker) {
		if d > 0 {
			b.cooloff = d
		}
	}
}

// WithBreakerProbes sets how many half-open successes close the breaker.
func WithBreakerProbes(n int) BreakerOption {
	return func(b *Breaker) {
		if n > 0 {
			b.probes = n
		}
	}
}

// WithBreakerClock injects the clock (tests).
func WithBreakerClock(now func() time.Time) BreakerOption {
	return func(b *Breaker) { b.now = now }
}

// NewBreaker returns a closed breaker. Defaults: 5 failures to open, 30s
// cool-off, 2 probe successes to close again.
func NewBreaker(opts ...BreakerOption) *Breaker {
	b := &Breaker{
		state:     BreakerClosed,
		threshold: 5,
		cooloff:   30 * time.Second,
		probes:    2,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Allow reports whether a call may proceed right now.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpen()
	return b.state != BreakerOpen
}

// RecordSuccess feeds a successful call back into the breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case BreakerHalfOpen:
		b.successes++
		if b.successes >= b.probes {
			b.state = BreakerClosed
			b.failures = 0
			b.successes = 0
		}
	case BreakerClosed:
		b.failures = 0
	}
}

// RecordFailure feeds a failed call back into the breaker.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastFail = b.now()
	switch b.state {
	case BreakerHalfOpen:
		// A failed probe reopens immediately.
		b.state = BreakerOpen
		b.successes = 0
	case BreakerClosed:
		b.failures++
		if b.failures >= b.threshold {
			b.state = BreakerOpen
		}
	}
}

// State returns the current state, accounting for an elapsed cool-off.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpen()
	return b.state
}

// Reset forces the breaker closed and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.failures = 0
	b.successes = 0
}

// maybeHalfOpen moves open to half-open once the cool-off has elapsed.
// Caller holds mu.
func (b *Breaker) maybeHalfOpen() {
	if b.state == BreakerOpen && b.now().Sub(b.lastFail) >= b.cooloff {
		b.state = BreakerHalfOpen
		b.successes = 0
	}
}

package sched

import (
	"sync"
	"time"
)

// Manual is a virtual-time Scheduler for tests. Time stands still until
// Advance moves it; due callbacks then run synchronously, in deadline order,
// FIFO among equal deadlines. Callbacks may arm new timers; those fire in the
// same Advance when they fall inside the window.
type Manual struct {
	mu      sync.Mutex
	now     time.Time
	seq     int
	pending []*manualTask
}

type manualTask struct {
	m         *Manual
	at        time.Time
	seq       int
	fn        func()
	cancelled bool
	done      bool
}

// NewManual returns a Manual scheduler whose clock starts at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

// After implements Scheduler. Negative delays clamp to zero; the callback
// still waits for the next Advance.
func (m *Manual) After(d time.Duration, fn func()) Handle {
	if d < 0 {
		d = 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &manualTask{m: m, at: m.now.Add(d), seq: m.seq, fn: fn}
	m.seq++
	m.pending = append(m.pending, t)
	return t
}

// Now implements Scheduler.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock forward by d, running every callback that comes
// due on the way. The lock is released around each callback so callbacks can
// arm or cancel timers; the caller must not hold locks that those callbacks
// also take.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	for {
		t := m.popDue(target)
		if t == nil {
			break
		}
		if t.at.After(m.now) {
			m.now = t.at
		}
		m.mu.Unlock()
		t.fn()
		m.mu.Lock()
	}
	m.now = target
	m.mu.Unlock()
}

// Pending returns the number of armed, uncancelled timers.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.pending {
		if !t.cancelled {
			n++
		}
	}
	return n
}

// popDue removes and returns the earliest task due at or before target.
// Caller holds mu.
func (m *Manual) popDue(target time.Time) *manualTask {
	live := m.pending[:0]
	for _, t := range m.pending {
		if !t.cancelled {
			live = append(live, t)
		}
	}
	m.pending = live

	best := -1
	for i, t := range m.pending {
		if t.at.After(target) {
			continue
		}
		if best == -1 ||
			t.at.Before(m.pending[best].at) ||
			(t.at.Equal(m.pending[best].at) && t.seq < m.pending[best].seq) {
			best = i
		}
	}
	if best == -1 {
		return nil
	}
	t := m.pending[best]
	m.pending = append(m.pending[:best], m.pending[best+1:]...)
	t.done = true
	return t
}

// Cancel implements Handle with the same semantics as time.Timer.Stop: it
// reports false when the callback already ran or was already cancelled.
func (t *manualTask) Cancel() bool {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	if t.done || t.cancelled {
		return false
	}
	t.cancelled = true
	return true
}

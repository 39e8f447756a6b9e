// Package sched provides cancellable one-shot timers behind a small
// scheduler interface, so time-driven code can run on virtual time in tests.
//
// The real scheduler wraps time.AfterFunc. The Manual scheduler keeps a
// synthetic clock that only moves when Advance is called, firing due
// callbacks in deadline order.
//
// Usage:
//
//	s := sched.New()
//	h := s.After(5*time.Second, flush)
//	if h.Cancel() {
//		// flush will not run
//	}
package sched

import "time"

// Handle is a scheduled callback that has not necessarily fired yet.
type Handle interface {
	// Cancel stops the callback if it has not started running. It reports
	// whether the cancellation actually prevented the run.
	Cancel() bool
}

// Scheduler arms one-shot timers and owns the clock they fire against.
type Scheduler interface {
	// After arranges for fn to run once d has elapsed. With the real
	// scheduler fn runs on its own goroutine; with Manual it runs inside
	// Advance on the advancing goroutine.
	After(d time.Duration, fn func()) Handle
	// Now returns the scheduler's current time.
	Now() time.Time
}

// New returns the wall-clock scheduler.
func New() Scheduler { return realScheduler{} }

type realScheduler struct{}

func (realScheduler) After(d time.Duration, fn func()) Handle {
	return realHandle{t: time.AfterFunc(d, fn)}
}

func (realScheduler) Now() time.Time { return time.Now() }

type realHandle struct{ t *time.Timer }

func (h realHandle) Cancel() bool { return h.t.Stop() }

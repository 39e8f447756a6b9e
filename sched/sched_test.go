package sched

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestReal_Fires(t *testing.T) {
	s := New()
	fired := make(chan struct{})
	s.After(5*time.Millisecond, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("callback never fired")
	}
}

func TestReal_Cancel(t *testing.T) {
	s := New()
	var fired atomic.Bool
	h := s.After(50*time.Millisecond, func() { fired.Store(true) })

	if !h.Cancel() {
		t.Fatal("Cancel = false before deadline")
	}
	time.Sleep(100 * time.Millisecond)
	if fired.Load() {
		t.Fatal("callback ran after Cancel")
	}
}

func TestManual_NoFireWithoutAdvance(t *testing.T) {
	m := NewManual(time.Unix(0, 0))
	fired := false
	m.After(time.Second, func() { fired = true })

	if fired {
		t.Fatal("fired before Advance")
	}
	m.Advance(999 * time.Millisecond)
	if fired {
		t.Fatal("fired before deadline")
	}
	m.Advance(time.Millisecond)
	if !fired {
		t.Fatal("did not fire at deadline")
	}
}

func TestManual_Order(t *testing.T) {
	m := NewManual(time.Unix(0, 0))
	var order []int
	m.After(3*time.Second, func() { order = append(order, 3) })
	m.After(1*time.Second, func() { order = append(order, 1) })
	m.After(2*time.Second, func() { order = append(order, 2) })

	m.Advance(5 * time.Second)

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("order = %v, want [1 2 3]", order)
	}
}

func TestManual_FIFOAmongEqualDeadlines(t *testing.T) {
	m := NewManual(time.Unix(0, 0))
	var order []string
	m.After(time.Second, func() { order = append(order, "a") })
	m.After(time.Second, func() { order = append(order, "b") })

	m.Advance(time.Second)

	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("order = %v, want [a b]", order)
	}
}

func TestManual_Cancel(t *testing.T) {
	m := NewManual(time.Unix(0, 0))
	fired := false
	h := m.After(time.Second, func() { fired = true })

	if !h.Cancel() {
		t.Fatal("Cancel = false for armed timer")
	}
	if h.Cancel() {
		t.Fatal("second Cancel = true")
	}
	m.Advance(2 * time.Second)
	if fired {
		t.Fatal("cancelled callback ran")
	}
	if m.Pending() != 0 {
		t.Fatalf("Pending = %d, want 0", m.Pending())
	}
}

func TestManual_CancelAfterFire(t *testing.T) {
	m := NewManual(time.Unix(0, 0))
	h := m.After(time.Second, func() {})
	m.Advance(time.Second)

	if h.Cancel() {
		t.Fatal("Cancel = true after the callback ran")
	}
}

func TestManual_RearmInsideCallback(t *testing.T) {
	m := NewManual(time.Unix(0, 0))
	var fires []time.Time
	m.After(time.Second, func() {
		fires = append(fires, m.Now())
		m.After(time.Second, func() {
			fires = append(fires, m.Now())
		})
	})

	m.Advance(3 * time.Second)

	if len(fires) != 2 {
		t.Fatalf("fires = %d, want 2", len(fires))
	}
	if got := fires[0]; !got.Equal(time.Unix(1, 0)) {
		t.Errorf("first fire at %v, want t=1s", got)
	}
	if got := fires[1]; !got.Equal(time.Unix(2, 0)) {
		t.Errorf("second fire at %v, want t=2s", got)
	}
}

func TestManual_RearmOutsideWindow(t *testing.T) {
	m := NewManual(time.Unix(0, 0))
	count := 0
	m.After(time.Second, func() {
		count++
		m.After(10*time.Second, func() { count++ })
	})

	m.Advance(5 * time.Second)
	if count != 1 {
		t.Fatalf("count = %d, want 1 (second timer outside window)", count)
	}
	m.Advance(10 * time.Second)
	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}
}

func TestManual_NowAdvances(t *testing.T) {
	start := time.Unix(100, 0)
	m := NewManual(start)
	if !m.Now().Equal(start) {
		t.Fatalf("Now = %v, want %v", m.Now(), start)
	}
	m.Advance(90 * time.Second)
	if want := start.Add(90 * time.Second); !m.Now().Equal(want) {
		t.Fatalf("Now = %v, want %v", m.Now(), want)
	}
}

func TestManual_ZeroDelayWaitsForAdvance(t *testing.T) {
	m := NewManual(time.Unix(0, 0))
	fired := false
	m.After(0, func() { fired = true })
	if fired {
		t.Fatal("zero-delay callback ran before Advance")
	}
	m.Advance(0)
	if !fired {
		t.Fatal("zero-delay callback did not run on Advance(0)")
	}
}

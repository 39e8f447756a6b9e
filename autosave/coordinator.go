// Package autosave decides when a session's edits become persistence calls.
//
// The Coordinator debounces change signals, bounds worst-case staleness with
// a max-wait deadline, and stays correct across pausing, teardown, and saves
// that overlap late-arriving edits. It consumes the session machine's guards
// and invokes an injected save function; transport, retries, and storage are
// someone else's problem.
//
// Timer callbacks validate, under the lock, that their handle is still the
// active one for their slot. A timer that was cancelled or replaced after its
// callback was already on the way in does nothing, so a new batch can never
// be flushed early by its predecessor's leftover timer.
package autosave

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/protoboard/sched"
	"github.com/hazyhaar/protoboard/session"
)

// Status is the save indicator shown next to the canvas. It is cosmetic
// state, separate from the session lifecycle.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusPending Status = "pending"
	StatusSaving  Status = "saving"
	StatusSaved   Status = "saved"
	StatusError   Status = "error"
)

// SaveFunc persists the current document. saved=false, with or without an
// error, means the attempt did not stick; the coordinator treats both the
// same and keeps the edit owed.
type SaveFunc func(ctx context.Context) (saved bool, err error)

// Options configures a Coordinator.
type Options struct {
	// Debounce is the quiet period after the last change before a save
	// fires. Default: 5s.
	Debounce time.Duration
	// MaxWait bounds staleness under continuous editing: a save is forced
	// this long after the first unsaved change no matter how often the
	// debounce resets. Default: 30s.
	MaxWait time.Duration
	// SavedHold is how long the saved indicator shows before falling back
	// to idle. Default: 3s.
	SavedHold time.Duration
	// ErrorHold is how long the error indicator shows before falling back
	// to idle. Default: 5s.
	ErrorHold time.Duration
	// Scheduler supplies timers and the clock. Default: sched.New().
	Scheduler sched.Scheduler
	// Disabled starts with scheduling off. Dirty-tracking still reaches the
	// session machine; see TriggerChange.
	Disabled bool
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.Debounce <= 0 {
		o.Debounce = 5 * time.Second
	}
	if o.MaxWait <= 0 {
		o.MaxWait = 30 * time.Second
	}
	if o.SavedHold <= 0 {
		o.SavedHold = 3 * time.Second
	}
	if o.ErrorHold <= 0 {
		o.ErrorHold = 5 * time.Second
	}
	if o.Scheduler == nil {
		o.Scheduler = sched.New()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// State is an observer snapshot of the coordinator.
type State struct {
	Status        Status    `json:"status"`
	Pending       bool      `json:"pending"`
	FirstChangeAt time.Time `json:"first_change_at"`
	LastSavedAt   time.Time `json:"last_saved_at"`
	Paused        bool      `json:"paused"`
	Enabled       bool      `json:"enabled"`
	Revision      uint64    `json:"revision"`
}

// Coordinator owns the autosave scheduling state for one session.
type Coordinator struct {
	machine *session.Machine
	save    SaveFunc
	sc      sched.Scheduler
	logger  *slog.Logger
	opts    Options

	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	enabled       bool
	paused        bool
	closed        bool
	status        Status
	pending       bool
	firstChangeAt time.Time
	lastSavedAt   time.Time

	// revision counts TriggerChange calls that reached scheduling. A save
	// captures it at launch; a different value at settle means edits raced
	// the flight and the batch must live on.
	revision          uint64
	saving            bool
	pendingDuringSave bool
	firstDuringSaveAt time.Time

	debounce   sched.Handle
	maxWait    sched.Handle
	statusHold sched.Handle
}

// New wires a coordinator to a session machine and a save function.
func New(m *session.Machine, save SaveFunc, opts Options) *Coordinator {
	opts.defaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		machine: m,
		save:    save,
		sc:      opts.Scheduler,
		logger:  opts.Logger,
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
		enabled: !opts.Disabled,
		status:  StatusIdle,
	}
}

// TriggerChange records a user edit. The dirty signal always reaches the
// session machine while content mutation is legal, even with autosave
// disabled, so save-on-navigate still sees the dirt. Scheduling follows only
// when enabled, unpaused, and a document is loaded.
func (c *Coordinator) TriggerChange() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	snap := c.machine.State()
	if !snap.CanModifyContent() {
		return
	}
	c.machine.ContentChanged()
	if !c.enabled || c.paused || snap.Document == nil {
		return
	}

	c.revision++
	if c.saving {
		c.pendingDuringSave = true
		if c.firstDuringSaveAt.IsZero() {
			c.firstDuringSaveAt = c.sc.Now()
		}
	}
	if !c.pending {
		c.pending = true
		c.firstChangeAt = c.sc.Now()
	}
	c.setStatus(StatusPending)

	// Debounce restarts on every change. Max-wait is only armed when no
	// live deadline exists, so continuous editing cannot push it back.
	c.armDebounce(c.opts.Debounce)
	if c.maxWait == nil {
		c.armMaxWait(c.remainingMaxWait())
	}
}

// Pause stops scheduling without forgetting pending dirt. A save already in
// flight finishes on its own; its settle will not re-arm while paused.
func (c *Coordinator) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.paused {
		return
	}
	c.paused = true
	c.cancelTimers()
}

// Resume lifts a pause. If dirt is still pending only the debounce restarts;
// the staleness deadline is not resurrected for a batch that may already
// have outlived it, the next edit re-arms it.
func (c *Coordinator) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || !c.paused {
		return
	}
	c.paused = false
	if c.pending && c.enabled {
		c.armDebounce(c.opts.Debounce)
	}
}

// MarkSaved records an out-of-band successful save, typically a manual one:
// all pending dirt is considered flushed and both timers die.
func (c *Coordinator) MarkSaved() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.pending = false
	c.firstChangeAt = time.Time{}
	c.pendingDuringSave = false
	c.firstDuringSaveAt = time.Time{}
	c.cancelTimers()
	c.lastSavedAt = c.sc.Now()
	c.setStatus(StatusSaved)
	c.armStatusHold(c.opts.SavedHold)
}

// SetEnabled toggles scheduling. Disabling cancels both timers and keeps the
// pending flag, mirroring an unmounted surface. Re-enabling does not
// reschedule existing dirt; the next TriggerChange does.
func (c *Coordinator) SetEnabled(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.enabled == v {
		return
	}
	c.enabled = v
	if !v {
		c.cancelTimers()
	}
}

// State returns an observer snapshot.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		Status:        c.status,
		Pending:       c.pending,
		FirstChangeAt: c.firstChangeAt,
		LastSavedAt:   c.lastSavedAt,
		Paused:        c.paused,
		Enabled:       c.enabled,
		Revision:      c.revision,
	}
}

// Revision returns the change counter. Callers running their own save can
// compare it around the flight to learn whether edits overlapped.
func (c *Coordinator) Revision() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.revision
}

// Close cancels all three timers and the context handed to in-flight saves.
// The coordinator refuses all further work.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.cancelTimers()
	if c.statusHold != nil {
		c.statusHold.Cancel()
		c.statusHold = nil
	}
	c.mu.Unlock()
	c.cancel()
}

// --- internals ---

// performSave is the timer-driven save path. It aborts silently when saving
// is not currently legal; pending dirt and the UI status stay as they are so
// a later timer or edit picks the batch back up.
func (c *Coordinator) performSave() {
	c.mu.Lock()
	if c.closed || c.saving || c.paused || !c.pending || !c.machine.CanAutosave() {
		c.mu.Unlock()
		return
	}
	c.saving = true
	c.pendingDuringSave = false
	c.firstDuringSaveAt = time.Time{}
	rev := c.revision
	c.setStatus(StatusSaving)
	ctx := c.ctx
	c.mu.Unlock()

	saved, err := c.save(ctx)

	c.mu.Lock()
	c.saving = false
	c.settle(saved && err == nil, rev, err)
	c.mu.Unlock()
}

// settle applies a save outcome under the lock. Both outcomes cancel the
// live timer pair. Edits that arrived while the save was in flight merge
// back into the batch, keeping the oldest unsaved anchor, and a fresh timer
// pair is armed so late dirt cannot be stranded. A failed save with no
// mid-flight edit stays owed without an automatic retry; the next edit, the
// max-wait on a later batch, or a manual save resolves it.
func (c *Coordinator) settle(ok bool, rev uint64, err error) {
	if c.closed {
		return
	}
	if ok {
		c.lastSavedAt = c.sc.Now()
		if c.revision == rev {
			// The save covered every known edit.
			c.pending = false
			c.firstChangeAt = time.Time{}
			c.machine.MarkClean()
		} else {
			c.firstChangeAt = c.firstDuringSaveAt
		}
		c.setStatus(StatusSaved)
		c.armStatusHold(c.opts.SavedHold)
	} else {
		if err != nil {
			c.logger.Warn("autosave: save failed", "error", err)
		} else {
			c.logger.Warn("autosave: save rejected")
		}
		c.setStatus(StatusError)
		c.armStatusHold(c.opts.ErrorHold)
	}

	c.cancelTimers()
	if c.pending && c.pendingDuringSave && !c.paused && c.enabled {
		c.armDebounce(c.opts.Debounce)
		c.armMaxWait(c.remainingMaxWait())
	}
	c.pendingDuringSave = false
	c.firstDuringSaveAt = time.Time{}
}

// remainingMaxWait is the time left until the staleness deadline of the
// current batch, clamped at zero.
func (c *Coordinator) remainingMaxWait() time.Duration {
	if c.firstChangeAt.IsZero() {
		return c.opts.MaxWait
	}
	rem := c.opts.MaxWait - c.sc.Now().Sub(c.firstChangeAt)
	if rem < 0 {
		rem = 0
	}
	return rem
}

// setStatus overwrites the indicator and kills any scheduled cosmetic reset.
func (c *Coordinator) setStatus(s Status) {
	if c.statusHold != nil {
		c.statusHold.Cancel()
		c.statusHold = nil
	}
	c.status = s
}

func (c *Coordinator) cancelTimers() {
	if c.debounce != nil {
		c.debounce.Cancel()
		c.debounce = nil
	}
	if c.maxWait != nil {
		c.maxWait.Cancel()
		c.maxWait = nil
	}
}

// armDebounce replaces the debounce timer. The callback checks handle
// identity under the lock before acting.
func (c *Coordinator) armDebounce(d time.Duration) {
	if c.debounce != nil {
		c.debounce.Cancel()
	}
	var h sched.Handle
	h = c.sc.After(d, func() {
		c.mu.Lock()
		if c.debounce != h {
			c.mu.Unlock()
			return
		}
		c.debounce = nil
		c.mu.Unlock()
		c.performSave()
	})
	c.debounce = h
}

// armMaxWait replaces the staleness timer. Same identity discipline as
// armDebounce.
func (c *Coordinator) armMaxWait(d time.Duration) {
	if c.maxWait != nil {
		c.maxWait.Cancel()
	}
	var h sched.Handle
	h = c.sc.After(d, func() {
		c.mu.Lock()
		if c.maxWait != h {
			c.mu.Unlock()
			return
		}
		c.maxWait = nil
		c.mu.Unlock()
		c.performSave()
	})
	c.maxWait = h
}

// armStatusHold schedules the cosmetic fall back to idle. Real work arriving
// first overwrites the status via setStatus, which cancels this handle.
func (c *Coordinator) armStatusHold(d time.Duration) {
	if c.statusHold != nil {
		c.statusHold.Cancel()
	}
	var h sched.Handle
	h = c.sc.After(d, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.statusHold != h {
			return
		}
		c.statusHold = nil
		c.status = StatusIdle
	})
	c.statusHold = h
}

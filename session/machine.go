// Package session models the lifecycle of one prototyping-editor session as
// an event-driven state machine with derived guards.
//
// The machine never rejects an event. Lifecycle signals from the embedding
// surface can arrive out of order (a stale editor-ready after a fast reset,
// a keystroke racing a version restore), so an event from an unexpected
// status forces its documented transition instead of erroring. Whether an
// operation is currently sensible is answered by the guards on State, not by
// refusing events.
package session

import (
	"log/slog"
	"maps"
	"strconv"
	"sync"
	"time"

	"github.com/hazyhaar/protoboard/prototype"
)

// Status is the lifecycle position of a session.
type Status string

const (
	StatusUninitialized      Status = "uninitialized"
	StatusLoadingPrototype   Status = "loading_prototype"
	StatusCreatingPrototype  Status = "creating_prototype"
	StatusEditorInitializing Status = "editor_initializing"
	StatusReady              Status = "ready"
	StatusSaving             Status = "saving"
	StatusSwitchingPage      Status = "switching_page"
	StatusRestoringVersion   Status = "restoring_version"
	StatusError              Status = "error"
)

// State is one immutable snapshot of a session. Transitions replace the
// snapshot wholesale; callers must treat Meta and the Document's fields as
// read-only.
type State struct {
	Status         Status               `json:"status"`
	PreviousStatus Status               `json:"previous_status,omitempty"`
	Document       *prototype.Prototype `json:"document,omitempty"`
	Dirty          bool                 `json:"dirty"`
	Error          string               `json:"error,omitempty"`
	LastSavedAt    time.Time            `json:"last_saved_at"`
	Meta           map[string]string    `json:"meta,omitempty"`
}

// MetaRestoreVersion is the Meta key carrying the target version while a
// restore is in flight.
const MetaRestoreVersion = "restore_version"

func (s State) clone() State {
	c := s
	if s.Meta != nil {
		c.Meta = maps.Clone(s.Meta)
	}
	return c
}

// dirtyAllowed lists the statuses where unsaved edits can exist. Entering any
// other status wipes Dirty: content there is being replaced, not edited.
func dirtyAllowed(s Status) bool {
	switch s {
	case StatusReady, StatusSaving, StatusSwitchingPage:
		return true
	}
	return false
}

// --- guards ---

// IsLoading reports whether a document is being fetched or created, or the
// editor surface is still mounting.
func (s State) IsLoading() bool {
	switch s.Status {
	case StatusLoadingPrototype, StatusCreatingPrototype, StatusEditorInitializing:
		return true
	}
	return false
}

// IsBusy reports whether a blocking operation is in flight.
func (s State) IsBusy() bool {
	switch s.Status {
	case StatusSaving, StatusSwitchingPage, StatusRestoringVersion:
		return true
	}
	return false
}

// CanSave reports whether a manual save may start right now.
func (s State) CanSave() bool {
	return s.Status == StatusReady && s.Document != nil
}

// CanAutosave reports whether a scheduled save may start right now. Unlike
// CanSave it keys on status alone; the coordinator checks the document.
func (s State) CanAutosave() bool {
	return s.Status == StatusReady
}

// CanSwitchPage reports whether page navigation may start right now.
func (s State) CanSwitchPage() bool {
	return s.Status == StatusReady
}

// CanModifyContent reports whether user edits are meaningful right now.
// While a document is being fetched, created, or rolled back, edits target
// content that is about to be replaced and must be dropped.
func (s State) CanModifyContent() bool {
	switch s.Status {
	case StatusLoadingPrototype, StatusCreatingPrototype, StatusRestoringVersion:
		return false
	}
	return true
}

// --- machine ---

// Options configures a Machine.
type Options struct {
	// Logger receives transition logs at debug level. Default: slog.Default().
	Logger *slog.Logger
	// Now overrides the clock used for LastSavedAt stamps (tests).
	// Default: time.Now.
	Now func() time.Time
}

func (o *Options) defaults() {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Machine holds the current State and applies events to it.
type Machine struct {
	mu        sync.Mutex
	state     State
	observers []func(prev, next State)
	logger    *slog.Logger
	now       func() time.Time
}

// NewMachine returns a machine in StatusUninitialized.
func NewMachine(opts Options) *Machine {
	opts.defaults()
	return &Machine{
		state:  State{Status: StatusUninitialized},
		logger: opts.Logger,
		now:    opts.Now,
	}
}

// State returns the current snapshot.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Status returns the current status.
func (m *Machine) Status() Status {
	return m.State().Status
}

// CanAutosave is a convenience mirror of the State guard.
func (m *Machine) CanAutosave() bool { return m.State().CanAutosave() }

// CanModifyContent is a convenience mirror of the State guard.
func (m *Machine) CanModifyContent() bool { return m.State().CanModifyContent() }

// OnTransition registers fn to run synchronously after every event with the
// snapshots before and after. Callbacks run under the machine lock: they must
// not call back into the Machine or into anything that takes a lock held
// while events are sent.
func (m *Machine) OnTransition(fn func(prev, next State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

// apply builds the next snapshot from the current one, records the previous
// status on an actual status change, normalizes Dirty, installs the snapshot,
// and notifies observers. It returns the installed snapshot.
func (m *Machine) apply(event string, fn func(next *State)) State {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.state
	next := prev.clone()
	fn(&next)
	if next.Status != prev.Status {
		next.PreviousStatus = prev.Status
	}
	if !dirtyAllowed(next.Status) {
		next.Dirty = false
	}
	m.state = next

	m.logger.Debug("session: event",
		"event", event, "from", prev.Status, "to", next.Status, "dirty", next.Dirty)
	for _, ob := range m.observers {
		ob(prev, next)
	}
	return next
}

// --- events ---

// LoadPrototype enters the load flow for an existing document. Any previous
// document, dirt, and error are discarded.
func (m *Machine) LoadPrototype() State {
	return m.apply("load_prototype", func(next *State) {
		next.Status = StatusLoadingPrototype
		next.Document = nil
		next.Dirty = false
		next.Error = ""
		next.Meta = nil
	})
}

// PrototypeLoaded installs the fetched document and hands off to editor
// mounting.
func (m *Machine) PrototypeLoaded(doc *prototype.Prototype) State {
	return m.apply("prototype_loaded", func(next *State) {
		next.Status = StatusEditorInitializing
		next.Document = doc
	})
}

// PrototypeLoadFailed records a fetch failure.
func (m *Machine) PrototypeLoadFailed(msg string) State {
	return m.apply("prototype_load_failed", func(next *State) {
		next.Status = StatusError
		next.Error = msg
	})
}

// CreatePrototype enters the creation flow for a brand-new document.
func (m *Machine) CreatePrototype() State {
	return m.apply("create_prototype", func(next *State) {
		next.Status = StatusCreatingPrototype
		next.Document = nil
		next.Dirty = false
		next.Error = ""
		next.Meta = nil
	})
}

// PrototypeCreated installs the new document and hands off to editor
// mounting.
func (m *Machine) PrototypeCreated(doc *prototype.Prototype) State {
	return m.apply("prototype_created", func(next *State) {
		next.Status = StatusEditorInitializing
		next.Document = doc
	})
}

// PrototypeCreateFailed records a creation failure.
func (m *Machine) PrototypeCreateFailed(msg string) State {
	return m.apply("prototype_create_failed", func(next *State) {
		next.Status = StatusError
		next.Error = msg
	})
}

// EditorInitializing marks the editor surface as mounting. Also used when the
// canvas must remount with fresh content.
func (m *Machine) EditorInitializing() State {
	return m.apply("editor_initializing", func(next *State) {
		next.Status = StatusEditorInitializing
	})
}

// EditorReady marks the editor surface as interactive.
func (m *Machine) EditorReady() State {
	return m.apply("editor_ready", func(next *State) {
		next.Status = StatusReady
	})
}

// ContentChanged marks the session dirty. It only takes effect in statuses
// where edits are meaningful; elsewhere it is a no-op, so a keystroke racing
// a load or restore cannot resurrect stale dirt.
func (m *Machine) ContentChanged() State {
	return m.apply("content_changed", func(next *State) {
		switch next.Status {
		case StatusReady, StatusSwitchingPage:
			next.Dirty = true
		}
	})
}

// MarkClean clears the dirty flag without touching the status. The autosave
// coordinator uses it after a save that covered every known edit.
func (m *Machine) MarkClean() State {
	return m.apply("mark_clean", func(next *State) {
		next.Dirty = false
	})
}

// SaveStart enters the saving status.
func (m *Machine) SaveStart() State {
	return m.apply("save_start", func(next *State) {
		next.Status = StatusSaving
	})
}

// SaveSuccess returns to ready, clears dirt, and stamps the save time.
func (m *Machine) SaveSuccess() State {
	return m.apply("save_success", func(next *State) {
		next.Status = StatusReady
		next.Dirty = false
		next.LastSavedAt = m.now()
	})
}

// SaveFailed returns to ready with the failure recorded. Dirty survives: the
// unsaved edit is still owed.
func (m *Machine) SaveFailed(msg string) State {
	return m.apply("save_failed", func(next *State) {
		next.Status = StatusReady
		next.Error = msg
	})
}

// DocumentPersisted folds a storage receipt into the snapshot without
// touching the status flow. Background saves use it so a session never
// leaves ready while its payload lands.
func (m *Machine) DocumentPersisted(version int64, at time.Time) State {
	return m.apply("document_persisted", func(next *State) {
		if next.Document != nil {
			doc := *next.Document
			doc.Version = version
			doc.UpdatedAt = at
			next.Document = &doc
		}
		next.LastSavedAt = at
	})
}

// PageSwitchStart enters page navigation.
func (m *Machine) PageSwitchStart() State {
	return m.apply("page_switch_start", func(next *State) {
		next.Status = StatusSwitchingPage
	})
}

// PageSwitchComplete returns to ready after navigation.
func (m *Machine) PageSwitchComplete() State {
	return m.apply("page_switch_complete", func(next *State) {
		next.Status = StatusReady
	})
}

// RestoreVersionStart enters a version rollback. Dirt is dropped up front:
// the current content is being replaced wholesale.
func (m *Machine) RestoreVersionStart(version int64) State {
	return m.apply("restore_version_start", func(next *State) {
		next.Status = StatusRestoringVersion
		next.Dirty = false
		next.Meta = map[string]string{
			MetaRestoreVersion: strconv.FormatInt(version, 10),
		}
	})
}

// RestoreVersionComplete installs the restored document.
func (m *Machine) RestoreVersionComplete(doc *prototype.Prototype) State {
	return m.apply("restore_version_complete", func(next *State) {
		next.Status = StatusReady
		next.Document = doc
		next.LastSavedAt = m.now()
		next.Meta = nil
	})
}

// RestoreVersionFailed returns to ready with the failure recorded; the
// pre-restore document stays in place.
func (m *Machine) RestoreVersionFailed(msg string) State {
	return m.apply("restore_version_failed", func(next *State) {
		next.Status = StatusReady
		next.Error = msg
		next.Meta = nil
	})
}

// ClearError acknowledges a recorded error and returns to the status the
// session held before it.
func (m *Machine) ClearError() State {
	return m.apply("clear_error", func(next *State) {
		target := next.PreviousStatus
		if target == "" {
			target = StatusUninitialized
		}
		next.Status = target
		next.Error = ""
	})
}

// Reset tears the session back to a blank uninitialized state.
func (m *Machine) Reset() State {
	return m.apply("reset", func(next *State) {
		*next = State{Status: StatusUninitialized}
	})
}

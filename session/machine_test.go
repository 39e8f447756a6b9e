package session

import (
	"testing"
	"time"

	"github.com/hazyhaar/protoboard/prototype"
)

func testDoc() *prototype.Prototype {
	return &prototype.Prototype{ID: "p1", Name: "Landing page", Version: 3}
}

// readyMachine walks a machine through the load flow into StatusReady.
func readyMachine(t *testing.T) *Machine {
	t.Helper()
	m := NewMachine(Options{})
	m.LoadPrototype()
	m.PrototypeLoaded(testDoc())
	m.EditorReady()
	return m
}

func TestNewMachine_StartsUninitialized(t *testing.T) {
	m := NewMachine(Options{})
	st := m.State()
	if st.Status != StatusUninitialized {
		t.Fatalf("Status = %q, want %q", st.Status, StatusUninitialized)
	}
	if st.Dirty || st.Document != nil || st.Error != "" {
		t.Fatalf("zero state not blank: %+v", st)
	}
}

// --- load flow ---

func TestLoadFlow(t *testing.T) {
	m := NewMachine(Options{})

	st := m.LoadPrototype()
	if st.Status != StatusLoadingPrototype {
		t.Fatalf("Status = %q, want %q", st.Status, StatusLoadingPrototype)
	}

	doc := testDoc()
	st = m.PrototypeLoaded(doc)
	if st.Status != StatusEditorInitializing {
		t.Fatalf("Status = %q, want %q", st.Status, StatusEditorInitializing)
	}
	if st.Document != doc {
		t.Fatal("document not installed")
	}

	st = m.EditorReady()
	if st.Status != StatusReady {
		t.Fatalf("Status = %q, want %q", st.Status, StatusReady)
	}
}

func TestLoadPrototype_ClearsStaleSession(t *testing.T) {
	m := readyMachine(t)
	m.ContentChanged()
	m.SaveFailed("storage down")

	st := m.LoadPrototype()
	if st.Document != nil {
		t.Error("document not cleared")
	}
	if st.Dirty {
		t.Error("dirty not cleared")
	}
	if st.Error != "" {
		t.Error("error not cleared")
	}
}

func TestLoadFailed(t *testing.T) {
	m := NewMachine(Options{})
	m.LoadPrototype()
	st := m.PrototypeLoadFailed("not found")

	if st.Status != StatusError {
		t.Fatalf("Status = %q, want %q", st.Status, StatusError)
	}
	if st.Error != "not found" {
		t.Fatalf("Error = %q, want %q", st.Error, "not found")
	}
	if st.PreviousStatus != StatusLoadingPrototype {
		t.Fatalf("PreviousStatus = %q, want %q", st.PreviousStatus, StatusLoadingPrototype)
	}
}

// --- create flow ---

func TestCreateFlow(t *testing.T) {
	m := NewMachine(Options{})

	if st := m.CreatePrototype(); st.Status != StatusCreatingPrototype {
		t.Fatalf("Status = %q, want %q", st.Status, StatusCreatingPrototype)
	}
	doc := testDoc()
	if st := m.PrototypeCreated(doc); st.Status != StatusEditorInitializing || st.Document != doc {
		t.Fatalf("after created: %+v", st)
	}
	if st := m.EditorReady(); st.Status != StatusReady {
		t.Fatalf("Status = %q, want %q", st.Status, StatusReady)
	}
}

func TestCreateFailed(t *testing.T) {
	m := NewMachine(Options{})
	m.CreatePrototype()
	st := m.PrototypeCreateFailed("quota exceeded")
	if st.Status != StatusError || st.Error != "quota exceeded" {
		t.Fatalf("after create failed: %+v", st)
	}
}

// --- dirty tracking ---

func TestContentChanged_MarksDirtyWhenReady(t *testing.T) {
	m := readyMachine(t)
	st := m.ContentChanged()
	if !st.Dirty {
		t.Fatal("Dirty = false after contentChanged in ready")
	}
	if st.Status != StatusReady {
		t.Fatalf("Status = %q, want %q", st.Status, StatusReady)
	}
}

func TestContentChanged_NoOpOutsideEditableStatuses(t *testing.T) {
	m := NewMachine(Options{})
	m.LoadPrototype()

	st := m.ContentChanged()
	if st.Dirty {
		t.Fatal("Dirty = true while loading")
	}
	if st.Status != StatusLoadingPrototype {
		t.Fatalf("Status changed to %q", st.Status)
	}
}

func TestContentChanged_DuringPageSwitch(t *testing.T) {
	m := readyMachine(t)
	m.PageSwitchStart()
	if st := m.ContentChanged(); !st.Dirty {
		t.Fatal("Dirty = false during page switch")
	}
}

func TestDirtyNormalizedOnStatusEntry(t *testing.T) {
	// Dirty can only live in ready, saving, and switching_page. Any event
	// that lands elsewhere must wipe it, whatever the event says.
	m := readyMachine(t)
	m.ContentChanged()

	st := m.RestoreVersionStart(2)
	if st.Dirty {
		t.Fatal("Dirty survived entry into restoring_version")
	}

	m2 := readyMachine(t)
	m2.ContentChanged()
	if st := m2.EditorInitializing(); st.Dirty {
		t.Fatal("Dirty survived entry into editor_initializing")
	}
}

func TestDirtySurvivesSaving(t *testing.T) {
	m := readyMachine(t)
	m.ContentChanged()
	if st := m.SaveStart(); !st.Dirty {
		t.Fatal("Dirty wiped entering saving")
	}
}

func TestMarkClean(t *testing.T) {
	m := readyMachine(t)
	m.ContentChanged()
	st := m.MarkClean()
	if st.Dirty {
		t.Fatal("Dirty = true after MarkClean")
	}
	if st.Status != StatusReady {
		t.Fatalf("Status = %q, want %q", st.Status, StatusReady)
	}
}

// --- save flow ---

func TestSaveSuccess(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m := NewMachine(Options{Now: func() time.Time { return now }})
	m.LoadPrototype()
	m.PrototypeLoaded(testDoc())
	m.EditorReady()
	m.ContentChanged()
	m.SaveStart()

	st := m.SaveSuccess()
	if st.Status != StatusReady {
		t.Fatalf("Status = %q, want %q", st.Status, StatusReady)
	}
	if st.Dirty {
		t.Fatal("Dirty = true after successful save")
	}
	if !st.LastSavedAt.Equal(now) {
		t.Fatalf("LastSavedAt = %v, want %v", st.LastSavedAt, now)
	}
}

func TestSaveFailed_PreservesDirty(t *testing.T) {
	m := readyMachine(t)
	m.ContentChanged()
	m.SaveStart()

	st := m.SaveFailed("storage 503")
	if st.Status != StatusReady {
		t.Fatalf("Status = %q, want %q", st.Status, StatusReady)
	}
	if !st.Dirty {
		t.Fatal("Dirty wiped by failed save; the edit is still owed")
	}
	if st.Error != "storage 503" {
		t.Fatalf("Error = %q", st.Error)
	}
}

func TestDocumentPersisted_KeepsStatusAndDirt(t *testing.T) {
	m := readyMachine(t)
	m.ContentChanged()

	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	st := m.DocumentPersisted(7, at)
	if st.Status != StatusReady {
		t.Fatalf("Status = %q, want %q", st.Status, StatusReady)
	}
	if !st.Dirty {
		t.Fatal("Dirty wiped; a receipt is not a clean signal")
	}
	if st.Document.Version != 7 {
		t.Fatalf("Version = %d, want 7", st.Document.Version)
	}
	if !st.Document.UpdatedAt.Equal(at) || !st.LastSavedAt.Equal(at) {
		t.Fatalf("timestamps not folded in: %+v", st)
	}
}

func TestDocumentPersisted_NoDocument(t *testing.T) {
	m := NewMachine(Options{})

	st := m.DocumentPersisted(1, time.Now())
	if st.Document != nil {
		t.Fatal("document conjured from nothing")
	}
}

// --- page switch ---

func TestPageSwitchFlow(t *testing.T) {
	m := readyMachine(t)
	if st := m.PageSwitchStart(); st.Status != StatusSwitchingPage {
		t.Fatalf("Status = %q, want %q", st.Status, StatusSwitchingPage)
	}
	if st := m.PageSwitchComplete(); st.Status != StatusReady {
		t.Fatalf("Status = %q, want %q", st.Status, StatusReady)
	}
}

// --- restore flow ---

func TestRestoreFlow(t *testing.T) {
	m := readyMachine(t)
	m.ContentChanged()

	st := m.RestoreVersionStart(7)
	if st.Status != StatusRestoringVersion {
		t.Fatalf("Status = %q, want %q", st.Status, StatusRestoringVersion)
	}
	if st.Dirty {
		t.Fatal("Dirty survived restore start")
	}
	if got := st.Meta[MetaRestoreVersion]; got != "7" {
		t.Fatalf("Meta[%s] = %q, want 7", MetaRestoreVersion, got)
	}

	restored := &prototype.Prototype{ID: "p1", Version: 7}
	st = m.RestoreVersionComplete(restored)
	if st.Status != StatusReady || st.Document != restored {
		t.Fatalf("after restore complete: %+v", st)
	}
	if st.LastSavedAt.IsZero() {
		t.Fatal("LastSavedAt not stamped by restore")
	}
	if st.Meta != nil {
		t.Fatal("Meta not cleared after restore")
	}
}

func TestRestoreFailed_KeepsDocument(t *testing.T) {
	m := readyMachine(t)
	doc := m.State().Document

	m.RestoreVersionStart(7)
	st := m.RestoreVersionFailed("version gone")
	if st.Status != StatusReady {
		t.Fatalf("Status = %q, want %q", st.Status, StatusReady)
	}
	if st.Document != doc {
		t.Fatal("pre-restore document lost")
	}
	if st.Error != "version gone" {
		t.Fatalf("Error = %q", st.Error)
	}
}

// --- error handling ---

func TestClearError_ReturnsToPreviousStatus(t *testing.T) {
	m := NewMachine(Options{})
	m.LoadPrototype()
	m.PrototypeLoadFailed("boom")

	st := m.ClearError()
	if st.Status != StatusLoadingPrototype {
		t.Fatalf("Status = %q, want %q", st.Status, StatusLoadingPrototype)
	}
	if st.Error != "" {
		t.Fatalf("Error = %q, want empty", st.Error)
	}
}

func TestReset(t *testing.T) {
	m := readyMachine(t)
	m.ContentChanged()
	m.SaveFailed("x")

	st := m.Reset()
	if st.Status != StatusUninitialized {
		t.Fatalf("Status = %q, want %q", st.Status, StatusUninitialized)
	}
	if st.Document != nil || st.Dirty || st.Error != "" || st.Meta != nil {
		t.Fatalf("state not blank after reset: %+v", st)
	}
}

// --- forced transitions ---

func TestForcedTransitions(t *testing.T) {
	// Events are never rejected: from any status, an event lands in its
	// documented target.
	m := NewMachine(Options{})
	if st := m.EditorReady(); st.Status != StatusReady {
		t.Fatalf("editor_ready from uninitialized: %q", st.Status)
	}

	m2 := readyMachine(t)
	if st := m2.PrototypeLoaded(testDoc()); st.Status != StatusEditorInitializing {
		t.Fatalf("prototype_loaded from ready: %q", st.Status)
	}

	m3 := NewMachine(Options{})
	if st := m3.SaveStart(); st.Status != StatusSaving {
		t.Fatalf("save_start from uninitialized: %q", st.Status)
	}
}

func TestPreviousStatus_OnlyOnActualChange(t *testing.T) {
	m := readyMachine(t)
	if got := m.State().PreviousStatus; got != StatusEditorInitializing {
		t.Fatalf("PreviousStatus = %q, want %q", got, StatusEditorInitializing)
	}

	// contentChanged keeps the status; PreviousStatus must not move.
	m.ContentChanged()
	if got := m.State().PreviousStatus; got != StatusEditorInitializing {
		t.Fatalf("PreviousStatus = %q after no-change event, want %q", got, StatusEditorInitializing)
	}
}

// --- guards ---

func TestGuards(t *testing.T) {
	tests := []struct {
		name      string
		state     State
		canSave   bool
		canAuto   bool
		canSwitch bool
		canModify bool
	}{
		{
			name:      "ready with document",
			state:     State{Status: StatusReady, Document: testDoc()},
			canSave:   true,
			canAuto:   true,
			canSwitch: true,
			canModify: true,
		},
		{
			name:      "ready without document",
			state:     State{Status: StatusReady},
			canSave:   false,
			canAuto:   true,
			canSwitch: true,
			canModify: true,
		},
		{
			name:      "saving",
			state:     State{Status: StatusSaving, Document: testDoc()},
			canSave:   false,
			canAuto:   false,
			canSwitch: false,
			canModify: true,
		},
		{
			name:      "loading",
			state:     State{Status: StatusLoadingPrototype},
			canSave:   false,
			canAuto:   false,
			canSwitch: false,
			canModify: false,
		},
		{
			name:      "restoring",
			state:     State{Status: StatusRestoringVersion, Document: testDoc()},
			canSave:   false,
			canAuto:   false,
			canSwitch: false,
			canModify: false,
		},
		{
			name:      "error",
			state:     State{Status: StatusError, Document: testDoc()},
			canSave:   false,
			canAuto:   false,
			canSwitch: false,
			canModify: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.CanSave(); got != tt.canSave {
				t.Errorf("CanSave = %v, want %v", got, tt.canSave)
			}
			if got := tt.state.CanAutosave(); got != tt.canAuto {
				t.Errorf("CanAutosave = %v, want %v", got, tt.canAuto)
			}
			if got := tt.state.CanSwitchPage(); got != tt.canSwitch {
				t.Errorf("CanSwitchPage = %v, want %v", got, tt.canSwitch)
			}
			if got := tt.state.CanModifyContent(); got != tt.canModify {
				t.Errorf("CanModifyContent = %v, want %v", got, tt.canModify)
			}
		})
	}
}

func TestIsLoadingIsBusy(t *testing.T) {
	if !(State{Status: StatusEditorInitializing}).IsLoading() {
		t.Error("editor_initializing should be loading")
	}
	if (State{Status: StatusReady}).IsLoading() {
		t.Error("ready should not be loading")
	}
	if !(State{Status: StatusSwitchingPage}).IsBusy() {
		t.Error("switching_page should be busy")
	}
	if (State{Status: StatusError}).IsBusy() {
		t.Error("error should not be busy")
	}
}

// --- observers ---

func TestOnTransition(t *testing.T) {
	m := NewMachine(Options{})
	var events []Status
	m.OnTransition(func(prev, next State) {
		events = append(events, next.Status)
	})

	m.LoadPrototype()
	m.PrototypeLoaded(testDoc())
	m.EditorReady()

	want := []Status{StatusLoadingPrototype, StatusEditorInitializing, StatusReady}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("events[%d] = %q, want %q", i, events[i], want[i])
		}
	}
}

func TestOnTransition_SeesPrevAndNext(t *testing.T) {
	m := readyMachine(t)
	var gotPrev, gotNext Status
	m.OnTransition(func(prev, next State) {
		gotPrev, gotNext = prev.Status, next.Status
	})

	m.SaveStart()
	if gotPrev != StatusReady || gotNext != StatusSaving {
		t.Fatalf("observer saw %q -> %q, want ready -> saving", gotPrev, gotNext)
	}
}

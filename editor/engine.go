// Package editor is the prototyping-editor session engine.
//
// It owns every open editing session: lifecycle status, autosave
// scheduling, crash-recovery drafts, and status mirroring onto the canvas.
// The flow:
//
//	open/create → session.Machine → autosave.Coordinator → prototype storage
//	                     ↘ domsync → canvas host
//
// Key features:
//   - Session lifecycle: load, create, edit, save, page switch, restore
//   - Autosave: debounced, staleness-bounded scheduled saves per session
//   - Drafts: crash-recovery copies written before every push
//   - Canvas mirroring: session status propagated onto bound hosts
//   - MCP tools and HTTP API over the same operations
//
// Usage:
//
//	eng, err := editor.New(cfg, client, drafts)
//	defer eng.Shutdown(context.Background())
//	eng.RegisterHTTP(router)
//	eng.RegisterMCP(mcpServer)
package editor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hazyhaar/protoboard/autosave"
	"github.com/hazyhaar/protoboard/domsync"
	"github.com/hazyhaar/protoboard/draft"
	"github.com/hazyhaar/protoboard/idgen"
	"github.com/hazyhaar/protoboard/prototype"
	"github.com/hazyhaar/protoboard/sched"
	"github.com/hazyhaar/protoboard/session"
)

// Store is the document-storage surface the engine needs. Implemented by
// prototype.Client; tests swap in fakes.
type Store interface {
	Get(ctx context.Context, id string) (*prototype.Prototype, error)
	Create(ctx context.Context, name string) (*prototype.Prototype, error)
	Put(ctx context.Context, p *prototype.Prototype) (*prototype.SaveReceipt, error)
	Versions(ctx context.Context, id string) ([]prototype.VersionInfo, error)
	Restore(ctx context.Context, id string, version int64) (*prototype.Prototype, error)
}

var _ Store = (*prototype.Client)(nil)

var (
	ErrSessionNotFound = errors.New("editor: session not found")
	ErrNotReady        = errors.New("editor: session not ready")
	ErrPageNotFound    = errors.New("editor: page not found")
	ErrNoHost          = errors.New("editor: no host bound")
)

// statusTask is the domsync task name under which the session status is
// mirrored; one live write per host at a time.
const statusTask = "session-status"

// Session is one open editing context over a single prototype.
type Session struct {
	id        string
	createdAt time.Time

	machine *session.Machine
	saver   *autosave.Coordinator

	// mu guards the fields below and nothing else. Machine events and
	// coordinator calls never run while it is held; the machine's
	// transition callbacks may take it.
	mu          sync.Mutex
	prototypeID string
	pageID      string
	content     json.RawMessage
	host        domsync.Host
	draft       bool
}

// Info is an observer snapshot of one session.
type Info struct {
	ID          string         `json:"id"`
	PrototypeID string         `json:"prototype_id,omitempty"`
	PageID      string         `json:"page_id,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	Session     session.State  `json:"session"`
	Autosave    autosave.State `json:"autosave"`
	HasDraft    bool           `json:"has_draft,omitempty"`
}

// Stats reports engine-wide counters.
type Stats struct {
	Sessions int           `json:"sessions"`
	Drafts   int           `json:"drafts"`
	Sync     domsync.Stats `json:"sync"`
}

// Engine is the session registry and the home of every cross-session
// dependency: document storage, the draft store, and the canvas
// synchronizer.
type Engine struct {
	cfg    *Config
	store  Store
	drafts *draft.Store
	syncer *domsync.Synchronizer
	sc     sched.Scheduler
	logger *slog.Logger
	ids    idgen.Generator

	mu       sync.RWMutex
	sessions map[string]*Session
}

// New wires an engine. store must be non-nil; drafts may be nil, which
// disables crash recovery.
func New(cfg *Config, store Store, drafts *draft.Store) (*Engine, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.defaults()
	if store == nil {
		return nil, errors.New("editor: nil store")
	}
	e := &Engine{
		cfg:      cfg,
		store:    store,
		drafts:   drafts,
		sc:       cfg.Scheduler,
		logger:   cfg.Logger,
		ids:      idgen.Prefixed("sess_", idgen.NanoID(10)),
		sessions: make(map[string]*Session),
	}
	e.syncer = domsync.New(domsync.Options{
		MaxAttempts: cfg.Sync.MaxAttempts,
		Interval:    cfg.Sync.Interval,
		Logger:      cfg.Logger,
	})
	return e, nil
}

// --- session construction ---

func (e *Engine) newSession(prototypeID string) *Session {
	s := &Session{
		id:          e.ids(),
		prototypeID: prototypeID,
		createdAt:   e.sc.Now(),
	}
	s.machine = session.NewMachine(session.Options{
		Logger: e.logger,
		Now:    e.sc.Now,
	})
	s.saver = autosave.New(s.machine, e.saveFunc(s), autosave.Options{
		Debounce:  e.cfg.Autosave.Debounce,
		MaxWait:   e.cfg.Autosave.MaxWait,
		SavedHold: e.cfg.Autosave.SavedHold,
		ErrorHold: e.cfg.Autosave.ErrorHold,
		Scheduler: e.sc,
		Disabled:  e.cfg.Autosave.Disabled,
		Logger:    e.logger,
	})
	s.machine.OnTransition(e.observeTransition(s))
	return s
}

// observeTransition mirrors status changes onto the bound host. It runs
// under the machine lock, so it only reads session fields and hands the
// write to the synchronizer; it must not send machine events or touch the
// coordinator.
func (e *Engine) observeTransition(s *Session) func(prev, next session.State) {
	return func(prev, next session.State) {
		if prev.Status == next.Status {
			return
		}
		s.mu.Lock()
		host := s.host
		s.mu.Unlock()
		if host == nil {
			return
		}
		e.mirrorStatus(host, string(next.Status))
	}
}

func (e *Engine) mirrorStatus(host domsync.Host, status string) {
	e.syncer.Sync(host, statusTask, domsync.Target{
		Selector: e.cfg.Canvas.StatusSelector,
		Property: e.cfg.Canvas.StatusProperty,
	}, status)
}

func (e *Engine) register(s *Session) {
	e.mu.Lock()
	e.sessions[s.id] = s
	e.mu.Unlock()
}

func (e *Engine) lookup(id string) (*Session, bool) {
	e.mu.RLock()
	s, ok := e.sessions[id]
	e.mu.RUnlock()
	return s, ok
}

// --- lifecycle operations ---

// Open starts a session over an existing prototype. The session is always
// registered: a load failure lands in its state, not in the error return,
// so the surface can show the error and offer a retry.
func (e *Engine) Open(ctx context.Context, prototypeID string) (Info, error) {
	s := e.newSession(prototypeID)
	e.register(s)

	s.machine.LoadPrototype()
	doc, err := e.store.Get(ctx, prototypeID)
	if err != nil {
		s.machine.PrototypeLoadFailed(err.Error())
		e.logger.Warn("editor: open failed",
			"session", s.id, "prototype", prototypeID, "error", err)
		return e.info(s), nil
	}
	s.machine.PrototypeLoaded(doc)
	if len(doc.Pages) > 0 {
		s.setPage(doc.Pages[0].ID)
	}
	s.machine.EditorReady()
	e.adoptDraft(ctx, s, doc)
	e.logger.Info("editor: session opened",
		"session", s.id, "prototype", prototypeID, "version", doc.Version)
	return e.info(s), nil
}

// Create starts a session over a brand-new prototype.
func (e *Engine) Create(ctx context.Context, name string) (Info, error) {
	s := e.newSession("")
	e.register(s)

	s.machine.CreatePrototype()
	doc, err := e.store.Create(ctx, name)
	if err != nil {
		s.machine.PrototypeCreateFailed(err.Error())
		e.logger.Warn("editor: create failed",
			"session", s.id, "name", name, "error", err)
		return e.info(s), nil
	}
	s.mu.Lock()
	s.prototypeID = doc.ID
	s.mu.Unlock()
	s.machine.PrototypeCreated(doc)
	if len(doc.Pages) > 0 {
		s.setPage(doc.Pages[0].ID)
	}
	s.machine.EditorReady()
	e.logger.Info("editor: session created",
		"session", s.id, "prototype", doc.ID)
	return e.info(s), nil
}

// adoptDraft claims a leftover draft for the session's prototype. A draft
// newer than the stored document becomes the working content, marked dirty
// so autosave carries it home; an older one is leftover noise and is
// removed.
func (e *Engine) adoptDraft(ctx context.Context, s *Session, doc *prototype.Prototype) {
	if e.drafts == nil {
		return
	}
	s.mu.Lock()
	prototypeID := s.prototypeID
	s.mu.Unlock()

	d, err := e.drafts.Adopt(ctx, prototypeID, s.id)
	if err != nil {
		e.logger.Warn("editor: draft adoption failed",
			"session", s.id, "prototype", prototypeID, "error", err)
		return
	}
	if d == nil {
		return
	}
	if !d.SavedAt.After(doc.UpdatedAt) {
		if derr := e.drafts.Delete(ctx, prototypeID); derr != nil {
			e.logger.Warn("editor: stale draft delete failed",
				"prototype", prototypeID, "error", derr)
		}
		return
	}
	s.mu.Lock()
	s.content = d.Data
	s.draft = true
	s.mu.Unlock()
	s.saver.TriggerChange()
	e.logger.Info("editor: draft recovered",
		"session", s.id, "prototype", prototypeID, "draft_saved_at", d.SavedAt)
}

// Change records an edit. A non-nil data replaces the session's working
// content; nil means "something changed" without a payload, when the canvas
// owns the bytes. The dirty signal reaches the machine via the coordinator.
func (e *Engine) Change(sessionID string, data json.RawMessage) error {
	s, ok := e.lookup(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	if !s.machine.CanModifyContent() {
		return ErrNotReady
	}
	if data != nil {
		s.mu.Lock()
		s.content = data
		s.mu.Unlock()
	}
	s.saver.TriggerChange()
	return nil
}

// Save runs a manual save. Unlike a scheduled one it drives the session
// status through Saving and reports the failure to the caller. The
// coordinator is only settled when no edit raced the flight; otherwise the
// new dirt stays owed.
func (e *Engine) Save(ctx context.Context, sessionID string) (Info, error) {
	s, ok := e.lookup(sessionID)
	if !ok {
		return Info{}, ErrSessionNotFound
	}
	if !s.machine.State().CanSave() {
		return Info{}, ErrNotReady
	}

	rev := s.saver.Revision()
	s.machine.SaveStart()
	if err := e.persist(ctx, s); err != nil {
		s.machine.SaveFailed(err.Error())
		return Info{}, fmt.Errorf("editor: save: %w", err)
	}
	s.machine.SaveSuccess()
	if s.saver.Revision() == rev {
		s.saver.MarkSaved()
	}
	return e.info(s), nil
}

// SwitchPage navigates to another page, saving first when edits are owed so
// navigation cannot strand them. A failed save-on-navigate is logged and
// the navigation proceeds; the dirt stays owed.
func (e *Engine) SwitchPage(ctx context.Context, sessionID, pageID string) (Info, error) {
	s, ok := e.lookup(sessionID)
	if !ok {
		return Info{}, ErrSessionNotFound
	}
	st := s.machine.State()
	if !st.CanSwitchPage() {
		return Info{}, ErrNotReady
	}
	if !validPage(st.Document, pageID) {
		return Info{}, ErrPageNotFound
	}

	if st.Dirty || s.saver.State().Pending {
		rev := s.saver.Revision()
		if err := e.persist(ctx, s); err != nil {
			e.logger.Warn("editor: save-on-navigate failed",
				"session", s.id, "error", err)
		} else if s.saver.Revision() == rev {
			s.machine.MarkClean()
			s.saver.MarkSaved()
		}
	}

	s.machine.PageSwitchStart()
	s.saver.Pause()
	s.setPage(pageID)
	s.machine.PageSwitchComplete()
	s.saver.Resume()
	return e.info(s), nil
}

// Restore rolls the document back to an earlier version. Pending edits are
// discarded: a rollback is an explicit statement that the current content
// is wrong.
func (e *Engine) Restore(ctx context.Context, sessionID string, version int64) (Info, error) {
	s, ok := e.lookup(sessionID)
	if !ok {
		return Info{}, ErrSessionNotFound
	}
	st := s.machine.State()
	if st.Status != session.StatusReady || st.Document == nil {
		return Info{}, ErrNotReady
	}

	s.machine.RestoreVersionStart(version)
	s.saver.Pause()
	s.mu.Lock()
	prototypeID := s.prototypeID
	s.mu.Unlock()

	doc, err := e.store.Restore(ctx, prototypeID, version)
	if err != nil {
		s.machine.RestoreVersionFailed(err.Error())
		s.saver.Resume()
		return Info{}, fmt.Errorf("editor: restore: %w", err)
	}

	s.mu.Lock()
	s.content = nil
	s.mu.Unlock()
	s.machine.RestoreVersionComplete(doc)
	s.saver.MarkSaved()
	e.dropDraft(ctx, s, prototypeID)
	s.saver.Resume()
	e.logger.Info("editor: version restored",
		"session", s.id, "prototype", prototypeID, "version", version)
	return e.info(s), nil
}

// ClearError acknowledges a recorded failure and returns the session to its
// previous status.
func (e *Engine) ClearError(sessionID string) (Info, error) {
	s, ok := e.lookup(sessionID)
	if !ok {
		return Info{}, ErrSessionNotFound
	}
	s.machine.ClearError()
	return e.info(s), nil
}

// SetAutosave toggles scheduled saves for one session. Disabling keeps
// dirty-tracking alive so manual saves and save-on-navigate still work.
func (e *Engine) SetAutosave(sessionID string, enabled bool) (Info, error) {
	s, ok := e.lookup(sessionID)
	if !ok {
		return Info{}, ErrSessionNotFound
	}
	s.saver.SetEnabled(enabled)
	return e.info(s), nil
}

// --- canvas binding ---

// BindHost attaches a canvas host to the session. The current status is
// mirrored immediately and every status change follows. A nil host detaches.
func (e *Engine) BindHost(sessionID string, host domsync.Host) error {
	s, ok := e.lookup(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	s.mu.Lock()
	prev := s.host
	s.host = host
	s.mu.Unlock()
	if prev != nil && prev != host {
		e.syncer.CleanupHost(prev)
	}
	if host != nil {
		e.mirrorStatus(host, string(s.machine.Status()))
	}
	return nil
}

// SyncAttribute schedules an arbitrary write onto the session's bound host.
func (e *Engine) SyncAttribute(sessionID, task string, target domsync.Target, value string) error {
	s, ok := e.lookup(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	s.mu.Lock()
	host := s.host
	s.mu.Unlock()
	if host == nil {
		return ErrNoHost
	}
	e.syncer.Sync(host, task, target, value)
	return nil
}

// --- queries ---

// Get returns the snapshot of one session.
func (e *Engine) Get(sessionID string) (Info, error) {
	s, ok := e.lookup(sessionID)
	if !ok {
		return Info{}, ErrSessionNotFound
	}
	return e.info(s), nil
}

// List returns snapshots of all open sessions, oldest first.
func (e *Engine) List() []Info {
	e.mu.RLock()
	all := make([]*Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		all = append(all, s)
	}
	e.mu.RUnlock()

	infos := make([]Info, 0, len(all))
	for _, s := range all {
		infos = append(infos, e.info(s))
	}
	sort.Slice(infos, func(i, j int) bool {
		if !infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].CreatedAt.Before(infos[j].CreatedAt)
		}
		return infos[i].ID < infos[j].ID
	})
	return infos
}

// Versions lists the stored version history of the session's document.
func (e *Engine) Versions(ctx context.Context, sessionID string) ([]prototype.VersionInfo, error) {
	s, ok := e.lookup(sessionID)
	if !ok {
		return nil, ErrSessionNotFound
	}
	s.mu.Lock()
	prototypeID := s.prototypeID
	s.mu.Unlock()
	if prototypeID == "" {
		return nil, ErrNotReady
	}
	return e.store.Versions(ctx, prototypeID)
}

// Draft returns the stored crash-recovery draft for the session's
// prototype, or nil when none exists.
func (e *Engine) Draft(ctx context.Context, sessionID string) (*draft.Draft, error) {
	s, ok := e.lookup(sessionID)
	if !ok {
		return nil, ErrSessionNotFound
	}
	if e.drafts == nil {
		return nil, nil
	}
	s.mu.Lock()
	prototypeID := s.prototypeID
	s.mu.Unlock()
	if prototypeID == "" {
		return nil, nil
	}
	return e.drafts.Get(ctx, prototypeID)
}

// Stats reports engine-wide counters.
func (e *Engine) Stats(ctx context.Context) Stats {
	e.mu.RLock()
	n := len(e.sessions)
	e.mu.RUnlock()
	st := Stats{Sessions: n, Sync: e.syncer.Stats()}
	if e.drafts != nil {
		if c, err := e.drafts.Count(ctx); err == nil {
			st.Drafts = c
		}
	}
	return st
}

// --- teardown ---

// Close ends one session. Owed edits with a payload become a draft so a
// later session over the same prototype can recover them; a clean close
// removes the session's own leftover draft instead.
func (e *Engine) Close(ctx context.Context, sessionID string) error {
	e.mu.Lock()
	s, ok := e.sessions[sessionID]
	if ok {
		delete(e.sessions, sessionID)
	}
	e.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	e.closeSession(ctx, s)
	return nil
}

// CloseAll ends every session.
func (e *Engine) CloseAll(ctx context.Context) {
	e.mu.Lock()
	all := make([]*Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		all = append(all, s)
	}
	e.sessions = make(map[string]*Session)
	e.mu.Unlock()
	for _, s := range all {
		e.closeSession(ctx, s)
	}
}

// Shutdown ends every session and stops the synchronizer.
func (e *Engine) Shutdown(ctx context.Context) {
	e.CloseAll(ctx)
	e.syncer.Close()
}

func (e *Engine) closeSession(ctx context.Context, s *Session) {
	s.saver.Close()

	st := s.machine.State()
	as := s.saver.State()
	s.mu.Lock()
	content := s.content
	prototypeID := s.prototypeID
	host := s.host
	s.mu.Unlock()

	if e.drafts != nil && prototypeID != "" {
		if (st.Dirty || as.Pending) && content != nil {
			d := draft.Draft{
				PrototypeID: prototypeID,
				SessionID:   s.id,
				Data:        content,
				SavedAt:     e.sc.Now(),
			}
			if err := e.drafts.Put(ctx, d); err != nil {
				e.logger.Warn("editor: parting draft write failed",
					"session", s.id, "error", err)
			}
		} else if d, err := e.drafts.Get(ctx, prototypeID); err == nil && d != nil && d.SessionID == s.id {
			// Only this session's own draft; a newer session may have
			// written one for the same prototype.
			if derr := e.drafts.Delete(ctx, prototypeID); derr != nil {
				e.logger.Warn("editor: draft delete failed",
					"session", s.id, "error", derr)
			}
		}
	}

	if host != nil {
		e.syncer.CleanupHost(host)
	}
	s.machine.Reset()
	e.logger.Info("editor: session closed",
		"session", s.id, "prototype", prototypeID)
}

// PruneDrafts removes drafts whose last write is older than ttl.
// Non-positive ttl disables pruning.
func (e *Engine) PruneDrafts(ctx context.Context, ttl time.Duration) (int64, error) {
	if e.drafts == nil || ttl <= 0 {
		return 0, nil
	}
	return e.drafts.Prune(ctx, e.sc.Now().Add(-ttl))
}

// --- save pipeline ---

// saveFunc adapts the pipeline to the coordinator contract.
func (e *Engine) saveFunc(s *Session) autosave.SaveFunc {
	return func(ctx context.Context) (bool, error) {
		if err := e.persist(ctx, s); err != nil {
			return false, err
		}
		return true, nil
	}
}

// persist is the save pipeline shared by manual, scheduled, and
// on-navigate saves: write the draft first, push the document, fold the
// receipt into the session, then drop the draft. Draft failures degrade to
// warnings; only the push decides the outcome.
func (e *Engine) persist(ctx context.Context, s *Session) error {
	st := s.machine.State()
	if st.Document == nil {
		return errors.New("editor: no document")
	}
	s.mu.Lock()
	content := s.content
	prototypeID := s.prototypeID
	s.mu.Unlock()

	payload := content
	if payload == nil {
		payload = st.Document.Data
	}

	if e.drafts != nil && payload != nil {
		d := draft.Draft{
			PrototypeID: prototypeID,
			SessionID:   s.id,
			Data:        payload,
			SavedAt:     e.sc.Now(),
		}
		if err := e.drafts.Put(ctx, d); err != nil {
			e.logger.Warn("editor: draft write failed",
				"session", s.id, "error", err)
		}
	}

	doc := *st.Document
	doc.Data = payload
	rcpt, err := e.store.Put(ctx, &doc)
	if err != nil {
		return err
	}
	if rcpt == nil {
		return errors.New("editor: storage returned no receipt")
	}
	s.machine.DocumentPersisted(rcpt.Version, rcpt.SavedAt)
	e.dropDraft(ctx, s, prototypeID)
	return nil
}

// dropDraft removes the prototype's draft after its content became durable.
func (e *Engine) dropDraft(ctx context.Context, s *Session, prototypeID string) {
	if e.drafts == nil {
		return
	}
	if err := e.drafts.Delete(ctx, prototypeID); err != nil {
		e.logger.Warn("editor: draft delete failed",
			"session", s.id, "error", err)
		return
	}
	s.mu.Lock()
	s.draft = false
	s.mu.Unlock()
}

// --- helpers ---

func (s *Session) setPage(id string) {
	s.mu.Lock()
	s.pageID = id
	s.mu.Unlock()
}

// info assembles an observer snapshot. Never called under s.mu.
func (e *Engine) info(s *Session) Info {
	st := s.machine.State()
	as := s.saver.State()
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:          s.id,
		PrototypeID: s.prototypeID,
		PageID:      s.pageID,
		CreatedAt:   s.createdAt,
		Session:     st,
		Autosave:    as,
		HasDraft:    s.draft,
	}
}

// validPage accepts a page present in the document's page list. A document
// without a page list accepts any non-empty id; the canvas owns the real
// structure then.
func validPage(doc *prototype.Prototype, pageID string) bool {
	if pageID == "" {
		return false
	}
	if doc == nil || len(doc.Pages) == 0 {
		return true
	}
	for _, p := range doc.Pages {
		if p.ID == pageID {
			return true
		}
	}
	return false
}

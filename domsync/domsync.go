// Package domsync propagates values onto nested canvas elements that render
// asynchronously and may not exist yet at write time.
//
// Every request becomes a task keyed by (host identity, task name): an
// immediate attempt, then fixed-interval retries until the nested target
// mounts or the attempt budget runs out. A newer request under the same key
// replaces the older one. Hosts that left the live surface abandon their
// tasks silently, and a still-missing target after the budget is a debug
// diagnostic rather than an error, because nested rendering is expected to
// race the writer.
package domsync

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/protoboard/idgen"
	"github.com/hazyhaar/protoboard/retry"
)

// TagAttribute is the attribute written onto hosts to give them a stable
// identity across repeated Sync calls.
const TagAttribute = "data-protoboard-host"

// Host is one canvas element the synchronizer writes into.
type Host interface {
	// Attribute reads an attribute from the host; ok is false when unset.
	Attribute(name string) (value string, ok bool)
	// SetAttribute writes an attribute on the host itself.
	SetAttribute(name, value string) error
	// Attached reports whether the host is still part of the live surface.
	Attached() bool
	// Locate finds a nested element; ok is false while it has not mounted.
	Locate(selector string) (Elem, bool)
}

// Elem is a nested element located inside a Host.
type Elem interface {
	// SetProperty assigns a property on the element.
	SetProperty(name, value string) error
}

// Target names the nested element and the property written on it.
type Target struct {
	Selector string `json:"selector" yaml:"selector"`
	Property string `json:"property" yaml:"property"`
}

var (
	errDetached = errors.New("domsync: host detached")
	errMissing  = errors.New("domsync: target not mounted")
)

// Options configures a Synchronizer.
type Options struct {
	// MaxAttempts is the total locate budget per task, the immediate
	// attempt included. Default: 10.
	MaxAttempts int
	// Interval is the fixed delay between attempts. Default: 50ms.
	Interval time.Duration
	// IDs generates host identity tags. Default: "host_" + NanoID.
	IDs idgen.Generator
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 10
	}
	if o.Interval <= 0 {
		o.Interval = 50 * time.Millisecond
	}
	if o.IDs == nil {
		o.IDs = idgen.Prefixed("host_", idgen.NanoID(10))
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Stats is task accounting since the synchronizer was created.
type Stats struct {
	Active    int   `json:"active"`
	Started   int64 `json:"started"`
	Completed int64 `json:"completed"`
	Abandoned int64 `json:"abandoned"`
	Exhausted int64 `json:"exhausted"`
	Cancelled int64 `json:"cancelled"`
}

// Synchronizer runs attribute-propagation tasks, one goroutine per task.
type Synchronizer struct {
	opts   Options
	logger *slog.Logger
	reg    *registry
	wg     sync.WaitGroup

	started   atomic.Int64
	completed atomic.Int64
	abandoned atomic.Int64
	exhausted atomic.Int64
	cancelled atomic.Int64
}

// New returns a Synchronizer ready to accept tasks.
func New(opts Options) *Synchronizer {
	opts.defaults()
	return &Synchronizer{opts: opts, logger: opts.Logger, reg: newRegistry()}
}

// hostID returns the stable identity tag of a host, assigning one lazily by
// writing the tag attribute on first use.
func (s *Synchronizer) hostID(h Host) string {
	if id, ok := h.Attribute(TagAttribute); ok && id != "" {
		return id
	}
	id := s.opts.IDs()
	if err := h.SetAttribute(TagAttribute, id); err != nil {
		s.logger.Debug("domsync: tag write failed", "error", err)
	}
	return id
}

// Sync schedules value onto target inside host, replacing any task already
// registered under the same host and task name.
func (s *Synchronizer) Sync(host Host, task string, target Target, value string) {
	id := s.hostID(host)
	ctx, cancel := context.WithCancel(context.Background())
	t := &syncTask{host: host, name: task, target: target, value: value, cancel: cancel}
	if prev := s.reg.put(id, task, t); prev != nil {
		prev.cancel()
	}
	s.started.Add(1)
	s.wg.Add(1)
	go s.run(ctx, id, t)
}

// CancelTask drops the outstanding task for (host, task), if any.
func (s *Synchronizer) CancelTask(host Host, task string) {
	if t := s.reg.take(s.hostID(host), task); t != nil {
		t.cancel()
	}
}

// CleanupHost drops every outstanding task for the host. Call it when the
// host leaves the canvas.
func (s *Synchronizer) CleanupHost(host Host) {
	for _, t := range s.reg.takeHost(s.hostID(host)) {
		t.cancel()
	}
}

// CleanupAll drops every outstanding task. It is the teardown safety net.
func (s *Synchronizer) CleanupAll() {
	for _, t := range s.reg.takeAll() {
		t.cancel()
	}
}

// Close cancels everything and waits for the task goroutines to exit.
func (s *Synchronizer) Close() {
	s.CleanupAll()
	s.wg.Wait()
}

// Active returns the number of registered tasks.
func (s *Synchronizer) Active() int { return s.reg.len() }

// Stats returns task accounting.
func (s *Synchronizer) Stats() Stats {
	return Stats{
		Active:    s.reg.len(),
		Started:   s.started.Load(),
		Completed: s.completed.Load(),
		Abandoned: s.abandoned.Load(),
		Exhausted: s.exhausted.Load(),
		Cancelled: s.cancelled.Load(),
	}
}

func (s *Synchronizer) run(ctx context.Context, hostID string, t *syncTask) {
	defer s.wg.Done()
	defer s.reg.remove(hostID, t.name, t)

	attempts := 0
	_, err := retry.Do(ctx, retry.Fixed(s.opts.MaxAttempts, s.opts.Interval), func() (struct{}, error) {
		attempts++
		if !t.host.Attached() {
			return struct{}{}, retry.Permanent(errDetached)
		}
		el, ok := t.host.Locate(t.target.Selector)
		if !ok {
			return struct{}{}, errMissing
		}
		if werr := el.SetProperty(t.target.Property, t.value); werr != nil {
			return struct{}{}, retry.Permanent(werr)
		}
		return struct{}{}, nil
	})

	switch {
	case err == nil:
		s.completed.Add(1)
	case errors.Is(err, errDetached):
		s.abandoned.Add(1)
		s.logger.Debug("domsync: host detached, task abandoned",
			"host", hostID, "task", t.name)
	case ctx.Err() != nil:
		s.cancelled.Add(1)
	case errors.Is(err, errMissing):
		s.exhausted.Add(1)
		s.logger.Debug("domsync: target never mounted",
			"host", hostID, "task", t.name,
			"selector", t.target.Selector, "attempts", attempts)
	default:
		s.abandoned.Add(1)
		s.logger.Debug("domsync: write failed, task abandoned",
			"host", hostID, "task", t.name, "error", err)
	}
}

package domsync

import (
	"context"
	"sync"
)

type syncTask struct {
	host   Host
	name   string
	target Target
	value  string
	cancel context.CancelFunc
}

// registry tracks in-flight tasks keyed by host identity and task name, so
// writes can be replaced one at a time, per host, or wholesale.
type registry struct {
	mu    sync.Mutex
	hosts map[string]map[string]*syncTask
}

func newRegistry() *registry {
	return &registry{hosts: make(map[string]map[string]*syncTask)}
}

// put registers t under (hostID, name) and returns the task it replaced.
func (r *registry) put(hostID, name string, t *syncTask) *syncTask {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.hosts[hostID]
	if m == nil {
		m = make(map[string]*syncTask)
		r.hosts[hostID] = m
	}
	prev := m[name]
	m[name] = t
	return prev
}

// take removes and returns the task under (hostID, name), or nil.
func (r *registry) take(hostID, name string) *syncTask {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.hosts[hostID]
	t := m[name]
	if t != nil {
		delete(m, name)
		if len(m) == 0 {
			delete(r.hosts, hostID)
		}
	}
	return t
}

// takeHost removes and returns every task registered for hostID.
func (r *registry) takeHost(hostID string) []*syncTask {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.hosts[hostID]
	if m == nil {
		return nil
	}
	delete(r.hosts, hostID)
	out := make([]*syncTask, 0, len(m))
	for _, t := range m {
		out = append(out, t)
	}
	return out
}

// takeAll removes and returns every task.
func (r *registry) takeAll() []*syncTask {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*syncTask
	for _, m := range r.hosts {
		for _, t := range m {
			out = append(out, t)
		}
	}
	r.hosts = make(map[string]map[string]*syncTask)
	return out
}

// remove deletes the entry only while it still holds t. A replacement under
// the same key must not be evicted by its predecessor's cleanup.
func (r *registry) remove(hostID, name string, t *syncTask) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.hosts[hostID]
	if m == nil || m[name] != t {
		return
	}
	delete(m, name)
	if len(m) == 0 {
		delete(r.hosts, hostID)
	}
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.hosts {
		n += len(m)
	}
	return n
}

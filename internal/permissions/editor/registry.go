package editor

import (
	"context"
	"sync"
	"time"
)

// Factory builds a fresh editor for an authenticated actor.
type Factory func(actorID int64) *Editor

// Registry keeps one editor per dashboard session in process memory.
// Editors idle for longer than the TTL are dropped by Sweep.
type Registry struct {
	factory Factory
	idleTTL time.Duration
	now     func() time.Time

	mu      sync.Mutex
	editors map[string]*entry
}

type entry struct {
	editor   *Editor
	actorID  int64
	lastSeen time.Time
}

// NewRegistry constructs a Registry.
func NewRegistry(factory Factory, idleTTL time.Duration) *Registry {
	return &Registry{
		factory: factory,
		idleTTL: idleTTL,
		now:     time.Now,
		editors: make(map[string]*entry),
	}
}

// Get returns the session's editor, creating it on first use. A session that
// changes actor gets a fresh editor.
func (r *Registry) Get(sessionID string, actorID int64) *Editor {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	if e, ok := r.editors[sessionID]; ok && e.actorID == actorID {
		e.lastSeen = now
		return e.editor
	}
	e := &entry{editor: r.factory(actorID), actorID: actorID, lastSeen: now}
	r.editors[sessionID] = e
	return e.editor
}

// Drop forgets a session's editor.
func (r *Registry) Drop(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.editors, sessionID)
}

// MarkStale flags every loaded editor as out of date and returns how many
// were flagged.
func (r *Registry) MarkStale() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	marked := 0
	for _, e := range r.editors {
		if e.editor.MarkStale() {
			marked++
		}
	}
	return marked
}

// Len reports the number of live editors.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.editors)
}

// Sweep drops idle editors and returns how many were removed.
func (r *Registry) Sweep() int {
	if r.idleTTL <= 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.now().Add(-r.idleTTL)
	removed := 0
	for id, e := range r.editors {
		if e.lastSeen.Before(cutoff) {
			delete(r.editors, id)
			removed++
		}
	}
	return removed
}

// Run sweeps on every tick until ctx is cancelled. report, when set, receives
// the number of live editors after each sweep.
func (r *Registry) Run(ctx context.Context, interval time.Duration, report func(live int)) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
			if report != nil {
				report(r.Len())
			}
		}
	}
}

// Package event provides the typed publish/subscribe registry the engine uses
// to fan out change and refresh notifications.
package event

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"problemwatch/internal/diag"
)

// ChangeEvent is emitted once per changed file, after the cache has been
// updated, so a synchronous listener observes state consistent with the event.
type ChangeEvent struct {
	FilePath string
	Problems []diag.Problem
}

// RefreshEvent is emitted after a full workspace analysis and carries the
// entire current problem list.
type RefreshEvent struct {
	Problems  []diag.Problem
	Timestamp time.Time
}

// ChangeHandler receives change events.
type ChangeHandler func(ChangeEvent)

// RefreshHandler receives refresh events.
type RefreshHandler func(RefreshEvent)

// Subscription is a handle for one registered listener.
type Subscription struct {
	id     string
	cancel func()
	once   sync.Once
}

// ID returns the subscription identifier.
func (s *Subscription) ID() string { return s.id }

// Cancel removes the listener. Safe to call multiple times.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}

// Registry holds typed listener callbacks. It is owned by the engine rather
// than inherited from a generic emitter, keeping the engine's public type
// independent of any event infrastructure.
type Registry struct {
	mu      sync.RWMutex
	change  map[string]ChangeHandler
	refresh map[string]RefreshHandler
	closed  bool

	delivered atomic.Uint64
	panics    atomic.Uint64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		change:  make(map[string]ChangeHandler),
		refresh: make(map[string]RefreshHandler),
	}
}

// OnChange registers a change listener. A nil handler or a closed registry
// yields an inert subscription.
func (r *Registry) OnChange(fn ChangeHandler) *Subscription {
	if fn == nil {
		return &Subscription{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return &Subscription{}
	}

	id := uuid.NewString()
	r.change[id] = fn
	return &Subscription{id: id, cancel: func() { r.remove(id) }}
}

// OnRefresh registers a refresh listener.
func (r *Registry) OnRefresh(fn RefreshHandler) *Subscription {
	if fn == nil {
		return &Subscription{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return &Subscription{}
	}

	id := uuid.NewString()
	r.refresh[id] = fn
	return &Subscription{id: id, cancel: func() { r.remove(id) }}
}

// EmitChange delivers a change event synchronously to every change listener.
// A panicking handler is recovered and counted; remaining handlers still run.
func (r *Registry) EmitChange(ev ChangeEvent) {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return
	}
	handlers := make([]ChangeHandler, 0, len(r.change))
	for _, fn := range r.change {
		handlers = append(handlers, fn)
	}
	r.mu.RUnlock()

	for _, fn := range handlers {
		r.safeCallChange(fn, ev)
	}
}

// EmitRefresh delivers a refresh event synchronously to every refresh listener.
func (r *Registry) EmitRefresh(ev RefreshEvent) {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return
	}
	handlers := make([]RefreshHandler, 0, len(r.refresh))
	for _, fn := range r.refresh {
		handlers = append(handlers, fn)
	}
	r.mu.RUnlock()

	for _, fn := range handlers {
		r.safeCallRefresh(fn, ev)
	}
}

// Close drops all listeners. Subsequent emits and subscribes are no-ops.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.change = make(map[string]ChangeHandler)
	r.refresh = make(map[string]RefreshHandler)
}

// Delivered returns the number of successful handler invocations.
func (r *Registry) Delivered() uint64 { return r.delivered.Load() }

// Panics returns the number of recovered handler panics.
func (r *Registry) Panics() uint64 { return r.panics.Load() }

func (r *Registry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.change, id)
	delete(r.refresh, id)
}

func (r *Registry) safeCallChange(fn ChangeHandler, ev ChangeEvent) {
	defer func() {
		if rec := recover(); rec != nil {
			r.panics.Add(1)
		}
	}()
	fn(ev)
	r.delivered.Add(1)
}

func (r *Registry) safeCallRefresh(fn RefreshHandler, ev RefreshEvent) {
	defer func() {
		if rec := recover(); rec != nil {
			r.panics.Add(1)
		}
	}()
	fn(ev)
	r.delivered.Add(1)
}

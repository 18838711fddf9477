package engine

import (
	"sync"
	"time"
)

// GateState is the debounce gate's current state.
type GateState int

const (
	// GateIdle means no batch is pending.
	GateIdle GateState = iota
	// GateArmed means a batch is pending and the window timer is running.
	GateArmed
	// GateFlushing means the flush callback is running.
	GateFlushing
)

// String returns the state name.
func (s GateState) String() string {
	switch s {
	case GateIdle:
		return "idle"
	case GateArmed:
		return "armed"
	case GateFlushing:
		return "flushing"
	default:
		return "unknown"
	}
}

// Gate coalesces bursts of change notifications into one flush per quiet
// window. Each notify re-arms the window and replaces the pending batch, so
// only the most recent batch of file identities is processed per window.
// Intermediate batches are discarded by design; the processor re-fetches
// fresh diagnostics per file, so no state is derived from a dropped batch.
type Gate struct {
	mu       sync.Mutex
	clock    Clock
	window   time.Duration
	flush    func(paths []string)
	state    GateState
	timer    Timer
	pending  []string
	seq      uint64
	disposed bool
}

// NewGate creates a gate that invokes flush after window of quiet.
func NewGate(window time.Duration, clock Clock, flush func(paths []string)) *Gate {
	if clock == nil {
		clock = SystemClock
	}
	return &Gate{
		clock:  clock,
		window: window,
		flush:  flush,
	}
}

// Notify records a batch of changed file paths and (re)arms the window timer,
// replacing any previously pending batch.
func (g *Gate) Notify(paths []string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.disposed || len(paths) == 0 {
		return
	}

	g.pending = append([]string(nil), paths...)
	g.seq++
	current := g.seq

	if g.timer != nil {
		g.timer.Stop()
	}
	g.state = GateArmed
	g.timer = g.clock.AfterFunc(g.window, func() {
		g.fire(current)
	})
}

// fire runs the flush for the batch armed at sequence seq. A stale sequence
// (superseded by a later Notify) or a disposed gate makes it a no-op.
func (g *Gate) fire(seq uint64) {
	g.mu.Lock()
	if g.disposed || g.seq != seq || g.state != GateArmed {
		g.mu.Unlock()
		return
	}
	batch := g.pending
	g.pending = nil
	g.timer = nil
	g.state = GateFlushing
	g.mu.Unlock()

	g.flush(batch)

	g.mu.Lock()
	// A Notify during the flush has already re-armed the gate; only a gate
	// still in the flushing state returns to idle.
	if !g.disposed && g.state == GateFlushing {
		g.state = GateIdle
	}
	g.mu.Unlock()
}

// State returns the current gate state.
func (g *Gate) State() GateState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Pending reports whether a batch is waiting for the window to elapse.
func (g *Gate) Pending() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state == GateArmed
}

// Dispose stops any pending timer and makes all future fires no-ops.
// Safe to call multiple times.
func (g *Gate) Dispose() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.disposed = true
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	g.pending = nil
	g.state = GateIdle
}

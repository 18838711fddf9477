// Package engine owns the per-file problem cache, the debounced change
// processor, the query API, and the lifecycle of the aggregation pipeline.
package engine

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"problemwatch/internal/diag"
	"problemwatch/internal/event"
	"problemwatch/internal/logging"
	"problemwatch/internal/source"
)

// FileErrorHandler receives per-file processing failures. Processing of the
// remaining files in the same batch continues regardless.
type FileErrorHandler func(path string, err error)

// Options configures an Engine.
type Options struct {
	// DebounceWindow is the quiet period before a change batch is processed.
	DebounceWindow time.Duration
	// MaxProblemsPerFile caps stored problems per file; 0 means unlimited.
	MaxProblemsPerFile int
	// Clock drives the debounce timer. Defaults to the system clock.
	Clock Clock
	// Logger receives engine diagnostics. Defaults to a no-op logger.
	Logger *logging.Logger
	// OnFileError is invoked for isolated per-file processing failures.
	OnFileError FileErrorHandler
}

// DefaultDebounceWindow is the quiet period used when none is configured.
const DefaultDebounceWindow = 250 * time.Millisecond

// Engine aggregates diagnostics from an upstream source into the per-file
// cache and republishes consistent state as typed events. It is the single
// logical owner of the cache; live flushes and workspace-analysis merges are
// the only two write paths.
type Engine struct {
	src      source.Source
	log      *logging.Logger
	cache    *cache
	gate     *Gate
	registry *event.Registry
	norm     *diag.Normalizer

	onFileError FileErrorHandler

	mu          sync.Mutex
	unsubscribe source.Unsubscribe
	live        bool
	lastUpdate  time.Time

	disposed atomic.Bool
}

// Health describes the engine's liveness for the export health block.
type Health struct {
	Live       bool      `json:"live"`
	LastUpdate time.Time `json:"lastUpdate"`
	Disposed   bool      `json:"disposed"`
}

// New constructs an engine and subscribes it to the source's change
// notifications. A failing subscribe does not fail construction: the engine
// logs the error and runs in a degraded mode without live updates.
func New(src source.Source, opts Options) *Engine {
	log := opts.Logger
	if log == nil {
		log = logging.Nop
	}
	window := opts.DebounceWindow
	if window <= 0 {
		window = DefaultDebounceWindow
	}

	e := &Engine{
		src:         src,
		log:         log.WithComponent("engine"),
		cache:       newCache(opts.MaxProblemsPerFile),
		registry:    event.NewRegistry(),
		norm:        diag.NewNormalizer(folderResolver{src}),
		onFileError: opts.OnFileError,
	}
	e.gate = NewGate(window, opts.Clock, e.processBatch)

	unsub, err := e.safeSubscribe()
	if err != nil {
		e.log.Error("source subscription failed, live updates disabled: %v", err)
	} else {
		e.mu.Lock()
		e.unsubscribe = unsub
		e.live = true
		e.mu.Unlock()
	}

	return e
}

// Disposed reports whether the engine has been shut down.
func (e *Engine) Disposed() bool { return e.disposed.Load() }

// Dispose shuts the engine down: it unsubscribes from the source (swallowing
// unsubscribe errors), cancels any pending debounce timer, clears the cache,
// and releases all event listeners. Idempotent.
func (e *Engine) Dispose() {
	if !e.disposed.CompareAndSwap(false, true) {
		return
	}

	e.mu.Lock()
	unsub := e.unsubscribe
	e.unsubscribe = nil
	e.live = false
	e.mu.Unlock()

	if unsub != nil {
		if err := safeUnsubscribe(unsub); err != nil {
			e.log.Debug("unsubscribe: %v", err)
		}
	}

	e.gate.Dispose()
	e.cache.clear()
	e.registry.Close()
	e.log.Info("engine disposed")
}

// OnChange registers a listener for per-file change events.
func (e *Engine) OnChange(fn event.ChangeHandler) *event.Subscription {
	if e.disposed.Load() {
		return &event.Subscription{}
	}
	return e.registry.OnChange(fn)
}

// OnRefresh registers a listener for full-workspace refresh events.
func (e *Engine) OnRefresh(fn event.RefreshHandler) *event.Subscription {
	if e.disposed.Load() {
		return &event.Subscription{}
	}
	return e.registry.OnRefresh(fn)
}

// Notify injects a batch of changed file paths, as the source subscription
// does. Exposed for adapters that cannot use Subscribe.
func (e *Engine) Notify(paths []string) {
	if e.disposed.Load() {
		return
	}
	e.gate.Notify(paths)
}

// Normalizer returns the engine's normalizer, shared with workspace analysis
// so folder resolutions are cached once.
func (e *Engine) Normalizer() *diag.Normalizer { return e.norm }

// Health reports liveness for export.
func (e *Engine) Health() Health {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Health{
		Live:       e.live && !e.disposed.Load(),
		LastUpdate: e.lastUpdate,
		Disposed:   e.disposed.Load(),
	}
}

// MergeProblems folds already-normalized problems for one file into the
// cache, collapsing duplicates against whatever the live path has captured.
// This is the workspace analyzer's write path; it deliberately does not emit
// a per-file change event, the analyzer emits one refresh event at the end.
func (e *Engine) MergeProblems(path string, incoming []diag.Problem) []diag.Problem {
	if e.disposed.Load() {
		return nil
	}

	merged := e.cache.merge(path, incoming)
	e.touch()
	return merged
}

// EmitRefresh publishes a refresh event carrying the full current problem
// list and a timestamp.
func (e *Engine) EmitRefresh() {
	if e.disposed.Load() {
		return
	}
	e.registry.EmitRefresh(event.RefreshEvent{
		Problems:  e.cache.all(),
		Timestamp: time.Now(),
	})
}

// processBatch handles one flushed batch: each file is re-fetched,
// re-normalized, and replaced in the cache, then exactly one change event is
// emitted for it. One file's failure never aborts the rest of the batch.
func (e *Engine) processBatch(paths []string) {
	if e.disposed.Load() {
		return
	}

	e.log.Debug("processing %d changed files", len(paths))
	for _, path := range paths {
		if e.disposed.Load() {
			return
		}
		if err := e.processFile(path); err != nil {
			e.log.Error("processing %s: %v", path, err)
			if e.onFileError != nil {
				e.onFileError(path, err)
			}
		}
	}
}

// processFile updates the cache entry for one file and emits its change
// event. The emit happens after the mutation, so a synchronous listener sees
// a cache consistent with the event payload.
func (e *Engine) processFile(path string) error {
	raws, err := e.safeDiagnostics(path)
	if err != nil {
		return fmt.Errorf("fetching diagnostics: %w", err)
	}

	problems := e.norm.NormalizeAll(raws, path)
	e.cache.set(path, problems)
	e.touch()

	e.registry.EmitChange(event.ChangeEvent{
		FilePath: path,
		Problems: e.cache.get(path),
	})
	return nil
}

func (e *Engine) touch() {
	e.mu.Lock()
	e.lastUpdate = time.Now()
	e.mu.Unlock()
}

// safeSubscribe guards the upstream subscribe call against panics.
func (e *Engine) safeSubscribe() (unsub source.Unsubscribe, err error) {
	defer func() {
		if r := recover(); r != nil {
			unsub, err = nil, fmt.Errorf("source subscribe panicked: %v", r)
		}
	}()
	return e.src.Subscribe(func(paths []string) {
		e.Notify(paths)
	})
}

// safeDiagnostics guards the upstream fetch against panics.
func (e *Engine) safeDiagnostics(path string) (raws []diag.RawDiagnostic, err error) {
	defer func() {
		if r := recover(); r != nil {
			raws, err = nil, fmt.Errorf("source panicked: %v", r)
		}
	}()
	return e.src.Diagnostics(path)
}

func safeUnsubscribe(unsub source.Unsubscribe) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unsubscribe panicked: %v", r)
		}
	}()
	return unsub()
}

// folderResolver adapts the source to the normalizer's resolver contract.
type folderResolver struct {
	src source.Source
}

func (r folderResolver) WorkspaceFolderFor(path string) (string, error) {
	return r.src.WorkspaceFolderFor(path)
}

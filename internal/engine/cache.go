package engine

import (
	"sort"
	"sync"

	"problemwatch/internal/diag"
)

// cache is the per-file problem store and the single source of truth for all
// queries. A key is present if and only if its list is non-empty: an empty
// report deletes the key rather than storing an empty list.
type cache struct {
	mu         sync.RWMutex
	entries    map[string][]diag.Problem
	maxPerFile int
}

func newCache(maxPerFile int) *cache {
	return &cache{
		entries:    make(map[string][]diag.Problem),
		maxPerFile: maxPerFile,
	}
}

// set replaces the entry for path wholesale. An empty list deletes the key.
// Lists beyond the per-file cap keep their first maxPerFile entries in
// reported order.
func (c *cache) set(path string, problems []diag.Problem) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(problems) == 0 {
		delete(c.entries, path)
		return
	}
	c.entries[path] = c.capLocked(problems)
}

// merge folds incoming problems into the existing entry using duplicate
// collapsing, and returns the merged list.
func (c *cache) merge(path string, incoming []diag.Problem) []diag.Problem {
	c.mu.Lock()
	defer c.mu.Unlock()

	merged := diag.Merge(c.entries[path], incoming)
	if len(merged) == 0 {
		delete(c.entries, path)
		return nil
	}
	merged = c.capLocked(merged)
	c.entries[path] = merged

	out := make([]diag.Problem, len(merged))
	copy(out, merged)
	return out
}

// get returns a copy of the entry for path, nil when absent.
func (c *cache) get(path string) []diag.Problem {
	c.mu.RLock()
	defer c.mu.RUnlock()

	problems, ok := c.entries[path]
	if !ok {
		return nil
	}
	out := make([]diag.Problem, len(problems))
	copy(out, problems)
	return out
}

// all flattens the cache into one list, ordered by file path.
func (c *cache) all() []diag.Problem {
	c.mu.RLock()
	defer c.mu.RUnlock()

	paths := make([]string, 0, len(c.entries))
	total := 0
	for path, problems := range c.entries {
		paths = append(paths, path)
		total += len(problems)
	}
	sort.Strings(paths)

	out := make([]diag.Problem, 0, total)
	for _, path := range paths {
		out = append(out, c.entries[path]...)
	}
	return out
}

// files returns the sorted paths currently holding problems.
func (c *cache) files() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	paths := make([]string, 0, len(c.entries))
	for path := range c.entries {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

func (c *cache) fileCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *cache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string][]diag.Problem)
}

// capLocked truncates a list to the per-file limit. Caller holds c.mu.
func (c *cache) capLocked(problems []diag.Problem) []diag.Problem {
	if c.maxPerFile > 0 && len(problems) > c.maxPerFile {
		return problems[:c.maxPerFile]
	}
	return problems
}

package engine

import (
	"problemwatch/internal/diag"
)

// Filter narrows FilteredProblems results. Fields are combined with logical
// AND; a zero field imposes no constraint.
type Filter struct {
	Severity        *diag.Severity
	WorkspaceFolder string
	FilePath        string
}

// Summary aggregates the current cache by severity, workspace, and source.
type Summary struct {
	Total       int            `json:"total"`
	BySeverity  map[string]int `json:"bySeverity"`
	ByWorkspace map[string]int `json:"byWorkspace"`
	BySource    map[string]int `json:"bySource"`
}

// Grouping names for SummaryGroup.
const (
	GroupBySeverity  = "severity"
	GroupByWorkspace = "workspace"
	GroupBySource    = "source"
)

// AllProblems flattens the cache into one list ordered by file path.
// Returns an empty result once disposed.
func (e *Engine) AllProblems() []diag.Problem {
	if e.disposed.Load() {
		return nil
	}
	return e.cache.all()
}

// ProblemsForFile returns the problems for one file, empty when absent.
func (e *Engine) ProblemsForFile(path string) []diag.Problem {
	if e.disposed.Load() {
		return nil
	}
	return e.cache.get(path)
}

// ProblemsForWorkspace returns all problems in the named workspace folder.
func (e *Engine) ProblemsForWorkspace(name string) []diag.Problem {
	if e.disposed.Load() {
		return nil
	}

	var out []diag.Problem
	for _, p := range e.cache.all() {
		if p.WorkspaceFolder == name {
			out = append(out, p)
		}
	}
	return out
}

// FilteredProblems returns the problems matching every supplied predicate.
func (e *Engine) FilteredProblems(f Filter) []diag.Problem {
	if e.disposed.Load() {
		return nil
	}

	var out []diag.Problem
	for _, p := range e.cache.all() {
		if f.Severity != nil && p.Severity != *f.Severity {
			continue
		}
		if f.WorkspaceFolder != "" && p.WorkspaceFolder != f.WorkspaceFolder {
			continue
		}
		if f.FilePath != "" && p.FilePath != f.FilePath {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Summary computes the total count and all three groupings. The severity map
// always carries all four severity names, zero-valued when absent.
func (e *Engine) Summary() Summary {
	summary := Summary{
		BySeverity: map[string]int{
			diag.SeverityError.String():       0,
			diag.SeverityWarning.String():     0,
			diag.SeverityInformation.String(): 0,
			diag.SeverityHint.String():        0,
		},
		ByWorkspace: make(map[string]int),
		BySource:    make(map[string]int),
	}
	if e.disposed.Load() {
		return summary
	}

	for _, p := range e.cache.all() {
		summary.Total++
		summary.BySeverity[p.Severity.String()]++
		summary.ByWorkspace[p.WorkspaceFolder]++
		summary.BySource[p.Source]++
	}
	return summary
}

// SummaryGroup returns a single grouping by name ("severity", "workspace",
// or "source"). The second result is false for an unknown grouping, in which
// case callers fall back to the full Summary.
func (e *Engine) SummaryGroup(groupBy string) (map[string]int, bool) {
	summary := e.Summary()
	switch groupBy {
	case GroupBySeverity:
		return summary.BySeverity, true
	case GroupByWorkspace:
		return summary.ByWorkspace, true
	case GroupBySource:
		return summary.BySource, true
	default:
		return nil, false
	}
}

// FilesWithProblems returns the sorted paths currently holding problems.
func (e *Engine) FilesWithProblems() []string {
	if e.disposed.Load() {
		return nil
	}
	return e.cache.files()
}

// FileCount returns the number of files currently holding problems.
func (e *Engine) FileCount() int {
	if e.disposed.Load() {
		return 0
	}
	return e.cache.fileCount()
}

// Package export serializes the current problem snapshot to a crash-safe
// JSON artifact that out-of-process consumers poll or watch.
package export

import (
	"sort"
	"time"

	"problemwatch/internal/diag"
	"problemwatch/internal/engine"
)

// Provider is the engine surface a snapshot is built from.
type Provider interface {
	AllProblems() []diag.Problem
	FileCount() int
	Summary() engine.Summary
	Health() engine.Health
}

// FolderStats summarizes one workspace folder's share of the snapshot.
type FolderStats struct {
	Name         string `json:"name"`
	ProblemCount int    `json:"problemCount"`
	FileCount    int    `json:"fileCount"`
}

// Snapshot is the export-time view of the cache. It is constructed fresh on
// each export and does not outlive the export call.
type Snapshot struct {
	Timestamp        time.Time      `json:"timestamp"`
	ProblemCount     int            `json:"problemCount"`
	FileCount        int            `json:"fileCount"`
	WorkspaceFolders []FolderStats  `json:"workspaceFolders"`
	Problems         []diag.Problem `json:"problems"`
	Summary          engine.Summary `json:"summary"`
	Health           engine.Health  `json:"health"`
}

// BuildSnapshot derives a snapshot from the provider's current state.
func BuildSnapshot(p Provider) *Snapshot {
	problems := p.AllProblems()
	if problems == nil {
		problems = []diag.Problem{}
	}

	type folderAgg struct {
		problems int
		files    map[string]bool
	}
	folders := make(map[string]*folderAgg)
	for _, prob := range problems {
		agg, ok := folders[prob.WorkspaceFolder]
		if !ok {
			agg = &folderAgg{files: make(map[string]bool)}
			folders[prob.WorkspaceFolder] = agg
		}
		agg.problems++
		agg.files[prob.FilePath] = true
	}

	stats := make([]FolderStats, 0, len(folders))
	for name, agg := range folders {
		stats = append(stats, FolderStats{
			Name:         name,
			ProblemCount: agg.problems,
			FileCount:    len(agg.files),
		})
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })

	return &Snapshot{
		Timestamp:        time.Now(),
		ProblemCount:     len(problems),
		FileCount:        p.FileCount(),
		WorkspaceFolders: stats,
		Problems:         problems,
		Summary:          p.Summary(),
		Health:           p.Health(),
	}
}

package source

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"problemwatch/internal/diag"
	"problemwatch/internal/logging"
)

// ReloadCommand rescans every report file under the source root.
const ReloadCommand = "problemwatch.reloadReports"

// Folder names a workspace folder rooted at a directory.
type Folder struct {
	Name string
	Path string
}

// FileSource serves the Source interface from a directory of JSON report
// files written by external tools (linters, compilers, editor exporters).
// A report has the shape:
//
//	{"source": "eslint", "files": [{"path": "src/a.ts", "diagnostics": [...]}]}
//
// Report writes are observed via fsnotify and turned into change
// notifications for exactly the files the report covers.
type FileSource struct {
	mu sync.RWMutex

	root       string
	reportGlob string
	folders    []Folder // sorted by descending path length for prefix matching
	log        *logging.Logger

	watcher *fsnotify.Watcher

	// reports maps report file path to the per-file diagnostics it contributes.
	reports map[string]map[string][]diag.RawDiagnostic
	// index is the combined view: workspace file path to raw diagnostics.
	index map[string][]diag.RawDiagnostic

	subs   map[string]func(paths []string)
	closed bool
	done   chan struct{}
}

// NewFileSource creates a file-report source rooted at root. Existing reports
// are loaded eagerly; subsequent report writes arrive via the watcher.
func NewFileSource(root, reportGlob string, folders []Folder, log *logging.Logger) (*FileSource, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logging.Nop
	}

	resolved := make([]Folder, 0, len(folders))
	for _, f := range folders {
		p := f.Path
		if !filepath.IsAbs(p) {
			p = filepath.Join(absRoot, p)
		}
		resolved = append(resolved, Folder{Name: f.Name, Path: filepath.Clean(p)})
	}
	sort.Slice(resolved, func(i, j int) bool {
		return len(resolved[i].Path) > len(resolved[j].Path)
	})

	s := &FileSource{
		root:       absRoot,
		reportGlob: reportGlob,
		folders:    resolved,
		log:        log.WithComponent("filesource"),
		reports:    make(map[string]map[string][]diag.RawDiagnostic),
		index:      make(map[string][]diag.RawDiagnostic),
		subs:       make(map[string]func(paths []string)),
		done:       make(chan struct{}),
	}

	if _, err := s.rescan(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	s.watcher = watcher
	if err := s.watchTree(absRoot); err != nil {
		s.log.Warn("watch setup incomplete: %v", err)
	}
	go s.watchLoop()

	return s, nil
}

// Subscribe registers a change-notification callback.
func (s *FileSource) Subscribe(fn func(paths []string)) (Unsubscribe, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	id := uuid.NewString()
	s.subs[id] = fn
	return func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
		return nil
	}, nil
}

// Diagnostics returns the combined raw diagnostics for one file.
func (s *FileSource) Diagnostics(path string) ([]diag.RawDiagnostic, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	raws := s.index[s.canonical(path)]
	out := make([]diag.RawDiagnostic, len(raws))
	copy(out, raws)
	return out, nil
}

// AllDiagnostics returns a copy of the full index.
func (s *FileSource) AllDiagnostics() (map[string][]diag.RawDiagnostic, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	out := make(map[string][]diag.RawDiagnostic, len(s.index))
	for path, raws := range s.index {
		list := make([]diag.RawDiagnostic, len(raws))
		copy(list, raws)
		out[path] = list
	}
	return out, nil
}

// WorkspaceFolderFor resolves the workspace folder containing path using
// longest-prefix matching against the configured folders.
func (s *FileSource) WorkspaceFolderFor(path string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return "", ErrClosed
	}

	abs := s.canonical(path)
	for _, f := range s.folders {
		if abs == f.Path || strings.HasPrefix(abs, f.Path+string(filepath.Separator)) {
			return f.Name, nil
		}
	}
	return "", ErrNoWorkspaceFolder
}

// GlobFiles enumerates workspace files under the root matching pattern.
// Paths matching exclude are skipped. Returned paths are absolute.
func (s *FileSource) GlobFiles(pattern, exclude string) ([]string, error) {
	s.mu.RLock()
	root := s.root
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}

	matches, err := doublestar.Glob(os.DirFS(root), pattern)
	if err != nil {
		return nil, err
	}

	var out []string
	for _, rel := range matches {
		if exclude != "" {
			if skip, _ := doublestar.Match(exclude, rel); skip {
				continue
			}
		}
		out = append(out, filepath.Join(root, rel))
	}
	sort.Strings(out)
	return out, nil
}

// OpenInvisibly re-reads every report contributing diagnostics for path, so a
// freshly rewritten report is reflected even if the watcher missed it.
func (s *FileSource) OpenInvisibly(path string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}

	abs := s.canonical(path)
	var covering []string
	for report, files := range s.reports {
		if _, ok := files[abs]; ok {
			covering = append(covering, report)
		}
	}
	s.mu.Unlock()

	var changed []string
	for _, report := range covering {
		paths, err := s.loadReport(report)
		if err != nil {
			return err
		}
		changed = append(changed, paths...)
	}
	s.notify(changed)
	return nil
}

// ExecuteCommand implements the best-effort named-command surface. Only
// ReloadCommand is understood.
func (s *FileSource) ExecuteCommand(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	if name != ReloadCommand {
		return ErrUnsupportedCommand
	}

	changed, err := s.rescan()
	if err != nil {
		return err
	}
	s.notify(changed)
	return nil
}

// Close stops the watcher and releases subscribers.
func (s *FileSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.subs = make(map[string]func(paths []string))
	watcher := s.watcher
	s.mu.Unlock()

	close(s.done)
	if watcher != nil {
		return watcher.Close()
	}
	return nil
}

// rescan reloads every report under the root and rebuilds the index.
// It returns the set of file paths whose diagnostics changed.
func (s *FileSource) rescan() ([]string, error) {
	matches, err := doublestar.Glob(os.DirFS(s.root), s.reportGlob)
	if err != nil {
		return nil, err
	}

	fresh := make(map[string]map[string][]diag.RawDiagnostic, len(matches))
	for _, rel := range matches {
		report := filepath.Join(s.root, rel)
		files, err := s.parseReport(report)
		if err != nil {
			s.log.Warn("skipping report %s: %v", report, err)
			continue
		}
		fresh[report] = files
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	before := s.index
	s.reports = fresh
	s.rebuildIndexLocked()
	return unionKeys(before, s.index), nil
}

// loadReport re-parses one report file and folds it into the index. A missing
// report is treated as removed.
func (s *FileSource) loadReport(report string) ([]string, error) {
	files, err := s.parseReport(report)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	before := s.reports[report]
	switch {
	case err == nil:
		s.reports[report] = files
	case os.IsNotExist(err):
		delete(s.reports, report)
	default:
		return nil, err
	}
	s.rebuildIndexLocked()
	return unionKeys(before, files), nil
}

// parseReport reads and tolerantly parses one report file.
func (s *FileSource) parseReport(report string) (map[string][]diag.RawDiagnostic, error) {
	data, err := os.ReadFile(report)
	if err != nil {
		return nil, err
	}

	tool := gjson.GetBytes(data, "source").String()
	files := make(map[string][]diag.RawDiagnostic)

	gjson.GetBytes(data, "files").ForEach(func(_, entry gjson.Result) bool {
		path := entry.Get("path").String()
		if path == "" {
			return true
		}
		abs := s.canonical(path)

		var raws []diag.RawDiagnostic
		entry.Get("diagnostics").ForEach(func(_, item gjson.Result) bool {
			raw := diag.ParseRaw(item)
			if raw.Source == nil && tool != "" {
				t := tool
				raw.Source = &t
			}
			raws = append(raws, raw)
			return true
		})
		files[abs] = append(files[abs], raws...)
		return true
	})

	return files, nil
}

// rebuildIndexLocked recomputes the combined per-file view from all reports.
// Caller holds s.mu.
func (s *FileSource) rebuildIndexLocked() {
	index := make(map[string][]diag.RawDiagnostic)
	reports := make([]string, 0, len(s.reports))
	for report := range s.reports {
		reports = append(reports, report)
	}
	// Deterministic contribution order across reports.
	sort.Strings(reports)

	for _, report := range reports {
		for path, raws := range s.reports[report] {
			index[path] = append(index[path], raws...)
		}
	}
	s.index = index
}

// watchTree adds watches for root and every subdirectory.
func (s *FileSource) watchTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable subtree, keep going
		}
		if d.IsDir() {
			if err := s.watcher.Add(path); err != nil {
				s.log.Debug("watch %s: %v", path, err)
			}
		}
		return nil
	})
}

func (s *FileSource) watchLoop() {
	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.handleFSEvent(ev)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.log.Warn("watcher error: %v", err)
		}
	}
}

func (s *FileSource) handleFSEvent(ev fsnotify.Event) {
	// New directories need their own watch for reports created later.
	if ev.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			_ = s.watchTree(ev.Name)
			return
		}
	}

	rel, err := filepath.Rel(s.root, ev.Name)
	if err != nil {
		return
	}
	if ok, _ := doublestar.Match(s.reportGlob, filepath.ToSlash(rel)); !ok {
		return
	}

	if ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Write) ||
		ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename) {
		changed, err := s.loadReport(ev.Name)
		if err != nil {
			s.log.Warn("reloading report %s: %v", ev.Name, err)
			return
		}
		s.notify(changed)
	}
}

// notify fans the changed paths out to all subscribers.
func (s *FileSource) notify(paths []string) {
	if len(paths) == 0 {
		return
	}

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return
	}
	subs := make([]func([]string), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.RUnlock()

	for _, fn := range subs {
		fn(paths)
	}
}

// canonical resolves a possibly-relative file path against the root.
func (s *FileSource) canonical(path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(s.root, path)
}

// unionKeys returns the sorted union of file paths present in either map.
// A rewritten report counts every file it covered before or after as changed;
// the engine re-fetches and replaces wholesale, so over-reporting is harmless.
func unionKeys(before, after map[string][]diag.RawDiagnostic) []string {
	changed := make(map[string]bool, len(before)+len(after))
	for path := range before {
		changed[path] = true
	}
	for path := range after {
		changed[path] = true
	}

	out := make([]string, 0, len(changed))
	for path := range changed {
		out = append(out, path)
	}
	sort.Strings(out)
	return out
}

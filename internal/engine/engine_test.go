package engine

import (
	"context"
	"errors"
	"sync"
	"testing"

	"problemwatch/internal/diag"
	"problemwatch/internal/event"
	"problemwatch/internal/source"
)

// fakeSource is a scriptable in-memory source.
type fakeSource struct {
	mu           sync.Mutex
	diags        map[string][]diag.RawDiagnostic
	folders      map[string]string
	diagErr      map[string]error
	subscribeErr error
	notify       func(paths []string)
	unsubscribed bool
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		diags:   make(map[string][]diag.RawDiagnostic),
		folders: make(map[string]string),
		diagErr: make(map[string]error),
	}
}

func (s *fakeSource) Subscribe(fn func(paths []string)) (source.Unsubscribe, error) {
	if s.subscribeErr != nil {
		return nil, s.subscribeErr
	}
	s.mu.Lock()
	s.notify = fn
	s.mu.Unlock()
	return func() error {
		s.mu.Lock()
		s.unsubscribed = true
		s.mu.Unlock()
		return nil
	}, nil
}

func (s *fakeSource) Diagnostics(path string) ([]diag.RawDiagnostic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.diagErr[path]; err != nil {
		return nil, err
	}
	return s.diags[path], nil
}

func (s *fakeSource) AllDiagnostics() (map[string][]diag.RawDiagnostic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]diag.RawDiagnostic, len(s.diags))
	for k, v := range s.diags {
		out[k] = v
	}
	return out, nil
}

func (s *fakeSource) WorkspaceFolderFor(path string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if name, ok := s.folders[path]; ok {
		return name, nil
	}
	return "", source.ErrNoWorkspaceFolder
}

func (s *fakeSource) GlobFiles(string, string) ([]string, error) { return nil, nil }

func (s *fakeSource) OpenInvisibly(string) error { return nil }

func (s *fakeSource) ExecuteCommand(context.Context, string) error {
	return source.ErrUnsupportedCommand
}

func (s *fakeSource) set(path string, raws ...diag.RawDiagnostic) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.diags[path] = raws
}

func rawMessage(msg string, severity int) diag.RawDiagnostic {
	return diag.RawDiagnostic{Message: &msg, Severity: &severity}
}

// newTestEngine builds an engine over a fake clock so batches are flushed by
// firing timers rather than waiting.
func newTestEngine(t *testing.T, src source.Source) (*Engine, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	eng := New(src, Options{Clock: clock})
	t.Cleanup(eng.Dispose)
	return eng, clock
}

func TestEngine_ProcessBatchUpdatesCache(t *testing.T) {
	src := newFakeSource()
	src.folders["/a.go"] = "root"
	src.set("/a.go", rawMessage("broken", 0), rawMessage("style", 1))

	eng, clock := newTestEngine(t, src)

	var events []event.ChangeEvent
	eng.OnChange(func(ev event.ChangeEvent) {
		// The cache must already be consistent with the event.
		if len(eng.ProblemsForFile(ev.FilePath)) != len(ev.Problems) {
			t.Errorf("cache inconsistent with event for %s", ev.FilePath)
		}
		events = append(events, ev)
	})

	src.notify([]string{"/a.go"})
	clock.advance()

	problems := eng.ProblemsForFile("/a.go")
	if len(problems) != 2 {
		t.Fatalf("expected 2 problems, got %d", len(problems))
	}
	if problems[0].WorkspaceFolder != "root" {
		t.Errorf("workspace folder: got %q, want root", problems[0].WorkspaceFolder)
	}
	if len(events) != 1 {
		t.Fatalf("expected exactly 1 change event, got %d", len(events))
	}
	if events[0].FilePath != "/a.go" || len(events[0].Problems) != 2 {
		t.Errorf("unexpected event: %+v", events[0])
	}
}

func TestEngine_EmptyReportRemovesKey(t *testing.T) {
	src := newFakeSource()
	src.set("/a.go", rawMessage("broken", 0))

	eng, clock := newTestEngine(t, src)
	src.notify([]string{"/a.go"})
	clock.advance()

	if len(eng.FilesWithProblems()) != 1 {
		t.Fatal("expected file to be tracked")
	}

	// The file is fixed: diagnostics become empty.
	src.set("/a.go")
	src.notify([]string{"/a.go"})
	clock.advance()

	if got := eng.ProblemsForFile("/a.go"); len(got) != 0 {
		t.Errorf("expected no problems after empty report, got %d", len(got))
	}
	if got := eng.FilesWithProblems(); len(got) != 0 {
		t.Errorf("file with empty diagnostics should drop its key, got %v", got)
	}
}

func TestEngine_DebounceCoalescesBursts(t *testing.T) {
	src := newFakeSource()
	eng, clock := newTestEngine(t, src)

	flushCount := 0
	eng.OnChange(func(event.ChangeEvent) { flushCount++ })

	// N rapid notifications for the same file within the window. Only the
	// diagnostics present at the last notification survive.
	for i := 0; i < 10; i++ {
		src.set("/a.go", rawMessage("stale", 0))
		src.notify([]string{"/a.go"})
	}
	src.set("/a.go", rawMessage("final", 1))
	src.notify([]string{"/a.go"})
	clock.advance()

	if flushCount != 1 {
		t.Fatalf("expected exactly 1 change event, got %d", flushCount)
	}
	problems := eng.ProblemsForFile("/a.go")
	if len(problems) != 1 || problems[0].Message != "final" {
		t.Errorf("expected only the final diagnostics, got %+v", problems)
	}
}

func TestEngine_PerFileErrorIsolation(t *testing.T) {
	src := newFakeSource()
	src.set("/ok.go", rawMessage("fine", 0))
	src.diagErr["/bad.go"] = errors.New("fetch exploded")

	clock := newFakeClock()
	var failedPaths []string
	eng := New(src, Options{
		Clock: clock,
		OnFileError: func(path string, err error) {
			failedPaths = append(failedPaths, path)
		},
	})
	defer eng.Dispose()

	src.notify([]string{"/bad.go", "/ok.go"})
	clock.advance()

	if len(failedPaths) != 1 || failedPaths[0] != "/bad.go" {
		t.Errorf("expected /bad.go to be reported, got %v", failedPaths)
	}
	if got := eng.ProblemsForFile("/ok.go"); len(got) != 1 {
		t.Errorf("failure of one file must not abort the batch, got %d problems", len(got))
	}
}

func TestEngine_SubscribeFailureDegrades(t *testing.T) {
	src := newFakeSource()
	src.subscribeErr = errors.New("no live updates here")

	eng, _ := newTestEngine(t, src)

	if eng.Health().Live {
		t.Error("engine with failed subscription must not report live")
	}
	// Queries still work in degraded mode.
	if got := eng.AllProblems(); len(got) != 0 {
		t.Errorf("expected empty problems, got %d", len(got))
	}
}

func TestEngine_DisposeIdempotent(t *testing.T) {
	src := newFakeSource()
	src.set("/a.go", rawMessage("broken", 0))

	eng, clock := newTestEngine(t, src)
	src.notify([]string{"/a.go"})
	clock.advance()

	eng.Dispose()
	eng.Dispose() // must not panic or double-run side effects

	if !src.unsubscribed {
		t.Error("dispose must unsubscribe from the source")
	}
	if !eng.Disposed() {
		t.Error("Disposed should report true")
	}
	if got := eng.ProblemsForFile("/a.go"); len(got) != 0 {
		t.Errorf("queries after dispose must be empty, got %d", len(got))
	}
	if got := eng.AllProblems(); len(got) != 0 {
		t.Errorf("AllProblems after dispose must be empty, got %d", len(got))
	}
	if got := eng.FilesWithProblems(); len(got) != 0 {
		t.Errorf("FilesWithProblems after dispose must be empty, got %v", got)
	}

	// Late notifications are ignored.
	src.notify([]string{"/a.go"})
	clock.advance()

	health := eng.Health()
	if !health.Disposed || health.Live {
		t.Errorf("health after dispose: %+v", health)
	}
}

func TestEngine_MergeProblems(t *testing.T) {
	src := newFakeSource()
	src.set("/a.go", rawMessage("live", 0))

	eng, clock := newTestEngine(t, src)
	src.notify([]string{"/a.go"})
	clock.advance()

	// Analysis discovers one duplicate of the live problem and one new one.
	discovered := []diag.Problem{
		{FilePath: "/a.go", Message: "live", Severity: diag.SeverityHint},
		{FilePath: "/a.go", Message: "discovered", Severity: diag.SeverityWarning,
			Range: diag.Range{Start: diag.Position{Line: 7}}},
	}
	merged := eng.MergeProblems("/a.go", discovered)

	if len(merged) != 2 {
		t.Fatalf("expected 2 merged problems, got %d", len(merged))
	}
	// The live entry wins over the analysis duplicate.
	if merged[0].Severity != diag.SeverityError {
		t.Errorf("existing live problem should be retained, got severity %s", merged[0].Severity)
	}
	if merged[1].Message != "discovered" {
		t.Errorf("new analysis problem should be appended, got %q", merged[1].Message)
	}
}

func TestEngine_MaxProblemsPerFile(t *testing.T) {
	src := newFakeSource()
	src.set("/a.go",
		rawMessage("one", 0), rawMessage("two", 0),
		rawMessage("three", 0), rawMessage("four", 0))

	clock := newFakeClock()
	eng := New(src, Options{Clock: clock, MaxProblemsPerFile: 2})
	defer eng.Dispose()

	src.notify([]string{"/a.go"})
	clock.advance()

	problems := eng.ProblemsForFile("/a.go")
	if len(problems) != 2 {
		t.Fatalf("expected cap of 2, got %d", len(problems))
	}
	if problems[0].Message != "one" || problems[1].Message != "two" {
		t.Errorf("cap should keep the first entries in reported order, got %+v", problems)
	}
}

func TestEngine_EmitRefresh(t *testing.T) {
	src := newFakeSource()
	src.set("/a.go", rawMessage("broken", 0))

	eng, clock := newTestEngine(t, src)
	src.notify([]string{"/a.go"})
	clock.advance()

	var refreshes []event.RefreshEvent
	eng.OnRefresh(func(ev event.RefreshEvent) { refreshes = append(refreshes, ev) })

	eng.EmitRefresh()

	if len(refreshes) != 1 {
		t.Fatalf("expected 1 refresh event, got %d", len(refreshes))
	}
	if len(refreshes[0].Problems) != 1 {
		t.Errorf("refresh should carry the full problem list, got %d", len(refreshes[0].Problems))
	}
	if refreshes[0].Timestamp.IsZero() {
		t.Error("refresh event must carry a timestamp")
	}
}

package engine

import (
	"testing"

	"problemwatch/internal/diag"
)

// seedEngine loads a fixed set of problems through the normal flush path.
func seedEngine(t *testing.T) *Engine {
	t.Helper()

	src := newFakeSource()
	src.folders["/root/a.go"] = "root"
	src.folders["/root/b.go"] = "root"
	src.folders["/lib/c.go"] = "lib"
	src.set("/root/a.go", rawMessage("broken a", 0), rawMessage("warn a", 1))
	src.set("/root/b.go", rawMessage("broken b", 0))
	src.set("/lib/c.go", rawMessage("hint c", 3))

	eng, clock := newTestEngine(t, src)
	src.notify([]string{"/root/a.go", "/root/b.go", "/lib/c.go"})
	clock.advance()
	return eng
}

func TestAllProblems(t *testing.T) {
	eng := seedEngine(t)

	problems := eng.AllProblems()
	if len(problems) != 4 {
		t.Fatalf("expected 4 problems, got %d", len(problems))
	}
	// Ordered by file path.
	if problems[0].FilePath != "/lib/c.go" {
		t.Errorf("expected path-ordered output, first was %s", problems[0].FilePath)
	}
}

func TestProblemsForFile(t *testing.T) {
	eng := seedEngine(t)

	if got := eng.ProblemsForFile("/root/a.go"); len(got) != 2 {
		t.Errorf("expected 2 problems for /root/a.go, got %d", len(got))
	}
	if got := eng.ProblemsForFile("/never/reported.go"); len(got) != 0 {
		t.Errorf("unreported file should yield empty, got %d", len(got))
	}
}

func TestProblemsForWorkspace(t *testing.T) {
	eng := seedEngine(t)

	if got := eng.ProblemsForWorkspace("root"); len(got) != 3 {
		t.Errorf("expected 3 problems in root, got %d", len(got))
	}
	if got := eng.ProblemsForWorkspace("lib"); len(got) != 1 {
		t.Errorf("expected 1 problem in lib, got %d", len(got))
	}
	if got := eng.ProblemsForWorkspace("nope"); len(got) != 0 {
		t.Errorf("unknown workspace should yield empty, got %d", len(got))
	}
}

func TestFilteredProblems(t *testing.T) {
	eng := seedEngine(t)

	sev := diag.SeverityError
	got := eng.FilteredProblems(Filter{Severity: &sev, WorkspaceFolder: "root"})
	if len(got) != 2 {
		t.Fatalf("expected 2 Error problems in root, got %d", len(got))
	}
	for _, p := range got {
		if p.Severity != diag.SeverityError || p.WorkspaceFolder != "root" {
			t.Errorf("predicate violated: %+v", p)
		}
	}

	// FilePath predicate intersects further.
	got = eng.FilteredProblems(Filter{Severity: &sev, FilePath: "/root/b.go"})
	if len(got) != 1 || got[0].Message != "broken b" {
		t.Errorf("expected only broken b, got %+v", got)
	}

	// Empty filter returns everything.
	if got := eng.FilteredProblems(Filter{}); len(got) != 4 {
		t.Errorf("empty filter should return all, got %d", len(got))
	}
}

func TestSummary(t *testing.T) {
	eng := seedEngine(t)

	summary := eng.Summary()
	if summary.Total != 4 {
		t.Errorf("total: got %d, want 4", summary.Total)
	}

	wantSeverity := map[string]int{"Error": 2, "Warning": 1, "Information": 0, "Hint": 1}
	for name, want := range wantSeverity {
		if got := summary.BySeverity[name]; got != want {
			t.Errorf("BySeverity[%s]: got %d, want %d", name, got, want)
		}
	}

	if got := summary.ByWorkspace["root"]; got != 3 {
		t.Errorf("ByWorkspace[root]: got %d, want 3", got)
	}
	if got := summary.BySource[diag.UnknownSource]; got != 4 {
		t.Errorf("BySource[unknown]: got %d, want 4", got)
	}
}

func TestSummary_SeverityZerosPresent(t *testing.T) {
	src := newFakeSource()
	src.set("/a.go", rawMessage("e1", 0), rawMessage("e2", 0), rawMessage("w1", 1))

	eng, clock := newTestEngine(t, src)
	src.notify([]string{"/a.go"})
	clock.advance()

	group, ok := eng.SummaryGroup(GroupBySeverity)
	if !ok {
		t.Fatal("severity grouping should be known")
	}
	want := map[string]int{"Error": 2, "Warning": 1, "Information": 0, "Hint": 0}
	for name, count := range want {
		got, present := group[name]
		if !present {
			t.Errorf("severity %s missing from grouping", name)
		}
		if got != count {
			t.Errorf("grouping[%s]: got %d, want %d", name, got, count)
		}
	}
}

func TestSummaryGroup_Unknown(t *testing.T) {
	eng := seedEngine(t)

	if _, ok := eng.SummaryGroup("phase-of-moon"); ok {
		t.Error("unknown grouping must report not-ok")
	}
	if group, ok := eng.SummaryGroup(GroupByWorkspace); !ok || group["lib"] != 1 {
		t.Errorf("workspace grouping: ok=%v group=%v", ok, group)
	}
	if group, ok := eng.SummaryGroup(GroupBySource); !ok || group[diag.UnknownSource] != 4 {
		t.Errorf("source grouping: ok=%v group=%v", ok, group)
	}
}

func TestFilesWithProblems(t *testing.T) {
	eng := seedEngine(t)

	files := eng.FilesWithProblems()
	want := []string{"/lib/c.go", "/root/a.go", "/root/b.go"}
	if len(files) != len(want) {
		t.Fatalf("expected %d files, got %d", len(want), len(files))
	}
	for i, path := range want {
		if files[i] != path {
			t.Errorf("files[%d]: got %s, want %s", i, files[i], path)
		}
	}
	if eng.FileCount() != 3 {
		t.Errorf("FileCount: got %d, want 3", eng.FileCount())
	}
}

func TestQueries_AfterDispose(t *testing.T) {
	eng := seedEngine(t)
	eng.Dispose()

	if got := eng.AllProblems(); len(got) != 0 {
		t.Errorf("AllProblems: got %d", len(got))
	}
	if got := eng.ProblemsForWorkspace("root"); len(got) != 0 {
		t.Errorf("ProblemsForWorkspace: got %d", len(got))
	}
	if got := eng.FilteredProblems(Filter{}); len(got) != 0 {
		t.Errorf("FilteredProblems: got %d", len(got))
	}
	summary := eng.Summary()
	if summary.Total != 0 {
		t.Errorf("Summary total: got %d", summary.Total)
	}
	if len(summary.BySeverity) != 4 {
		t.Errorf("severity zeros should survive dispose, got %v", summary.BySeverity)
	}
}

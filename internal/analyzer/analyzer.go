// Package analyzer orchestrates the best-effort, multi-phase workspace scan
// that surfaces diagnostics the live update path has not yet seen.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"problemwatch/internal/diag"
	"problemwatch/internal/logging"
	"problemwatch/internal/source"
)

// Sink is the engine surface the analyzer writes into.
type Sink interface {
	// MergeProblems folds normalized problems for one file into the cache,
	// collapsing duplicates against concurrently-arrived live updates.
	MergeProblems(path string, incoming []diag.Problem) []diag.Problem
	// EmitRefresh publishes the synthetic full-workspace refresh event.
	EmitRefresh()
	// Disposed reports engine shutdown; in-flight phases become no-ops.
	Disposed() bool
}

// Config holds the pacing and scanning knobs.
type Config struct {
	// Patterns are the source-file globs scanned in phase three.
	Patterns []string
	// Exclude skips heavy directories (dependencies, build output, VCS).
	Exclude string
	// BatchSize is the number of files opened per scan batch.
	BatchSize int
	// FileDelay is the settle pause after opening each file.
	FileDelay time.Duration
	// BatchPause is the pause between scan batches, to avoid saturating
	// the diagnostic subsystem.
	BatchPause time.Duration
	// SettleDelay is the phase-four wait for asynchronous diagnostics to land.
	SettleDelay time.Duration
}

// DefaultConfig returns the standard scan configuration.
func DefaultConfig() Config {
	return Config{
		Patterns: []string{
			"**/*.go", "**/*.ts", "**/*.tsx", "**/*.js", "**/*.jsx",
			"**/*.py", "**/*.rs", "**/*.java", "**/*.c", "**/*.cpp",
		},
		Exclude:     "**/{node_modules,vendor,dist,build,out,target,.git}/**",
		BatchSize:   5,
		FileDelay:   10 * time.Millisecond,
		BatchPause:  200 * time.Millisecond,
		SettleDelay: 1000 * time.Millisecond,
	}
}

// Phase names, in execution order.
const (
	PhaseLoadExisting = "load-existing"
	PhaseReload       = "reload-language-services"
	PhaseScan         = "background-scan"
	PhaseSettle       = "settle"
	PhaseRefresh      = "refresh"
)

// PhaseResult records one phase's outcome, so partial failure is inspectable
// rather than only visible in logs.
type PhaseResult struct {
	Name   string
	Err    error
	Detail string
}

// Report is the outcome of one full analysis run.
type Report struct {
	Started  time.Time
	Finished time.Time
	Phases   []PhaseResult
}

// Failed returns the phases that recorded an error.
func (r Report) Failed() []PhaseResult {
	var out []PhaseResult
	for _, p := range r.Phases {
		if p.Err != nil {
			out = append(out, p)
		}
	}
	return out
}

// Analyzer runs the five-phase workspace analysis. Each phase is independently
// fault tolerant: a failing phase is recorded and later phases still run.
type Analyzer struct {
	src  source.Source
	sink Sink
	norm *diag.Normalizer
	log  *logging.Logger
	cfg  Config

	// sleep is injectable for tests; the default honors context cancellation.
	sleep func(ctx context.Context, d time.Duration)

	group singleflight.Group
}

// New creates an analyzer writing into sink via the shared normalizer.
func New(src source.Source, sink Sink, norm *diag.Normalizer, cfg Config, log *logging.Logger) *Analyzer {
	if log == nil {
		log = logging.Nop
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	return &Analyzer{
		src:   src,
		sink:  sink,
		norm:  norm,
		log:   log.WithComponent("analyzer"),
		cfg:   cfg,
		sleep: sleepCtx,
	}
}

// Run executes a full workspace analysis. Concurrent callers do not start a
// second scan: they join the in-flight run and share its report.
func (a *Analyzer) Run(ctx context.Context) Report {
	result, _, _ := a.group.Do("analyze", func() (any, error) {
		return a.run(ctx), nil
	})
	return result.(Report)
}

func (a *Analyzer) run(ctx context.Context) Report {
	report := Report{Started: time.Now()}

	phases := []struct {
		name string
		fn   func(ctx context.Context) (string, error)
	}{
		{PhaseLoadExisting, a.loadExisting},
		{PhaseReload, a.reloadServices},
		{PhaseScan, a.scanWorkspace},
		{PhaseSettle, a.settle},
		{PhaseRefresh, a.refresh},
	}

	for _, phase := range phases {
		if a.sink.Disposed() {
			report.Phases = append(report.Phases, PhaseResult{
				Name:   phase.name,
				Detail: "skipped: engine disposed",
			})
			continue
		}

		detail, err := a.runPhase(ctx, phase.fn)
		if err != nil {
			a.log.Warn("phase %s failed: %v", phase.name, err)
		} else {
			a.log.Debug("phase %s: %s", phase.name, detail)
		}
		report.Phases = append(report.Phases, PhaseResult{
			Name:   phase.name,
			Err:    err,
			Detail: detail,
		})
	}

	report.Finished = time.Now()
	return report
}

// runPhase guards one phase against panics from the upstream source.
func (a *Analyzer) runPhase(ctx context.Context, fn func(ctx context.Context) (string, error)) (detail string, err error) {
	defer func() {
		if r := recover(); r != nil {
			detail, err = "", fmt.Errorf("phase panicked: %v", r)
		}
	}()
	return fn(ctx)
}

// loadExisting merges everything the source already knows about, without
// forcing any recomputation.
func (a *Analyzer) loadExisting(_ context.Context) (string, error) {
	all, err := a.src.AllDiagnostics()
	if err != nil {
		return "", fmt.Errorf("loading existing diagnostics: %w", err)
	}

	files := 0
	for path, raws := range all {
		if a.sink.Disposed() {
			break
		}
		problems := a.norm.NormalizeAll(raws, path)
		if len(problems) == 0 {
			continue
		}
		a.sink.MergeProblems(path, problems)
		files++
	}
	return fmt.Sprintf("merged diagnostics for %d files", files), nil
}

// reloadServices asks the underlying tooling to recompute, best effort.
func (a *Analyzer) reloadServices(ctx context.Context) (string, error) {
	err := a.src.ExecuteCommand(ctx, source.ReloadCommand)
	if errors.Is(err, source.ErrUnsupportedCommand) {
		return "reload command not supported", nil
	}
	if err != nil {
		return "", fmt.Errorf("reload command: %w", err)
	}
	return "reload command issued", nil
}

// scanWorkspace opens matching source files invisibly, in fixed-size batches
// with pacing delays, so diagnostics get computed for files nobody has
// touched yet. Per-file errors are swallowed individually.
func (a *Analyzer) scanWorkspace(ctx context.Context) (string, error) {
	opened, failed := 0, 0

	for _, pattern := range a.cfg.Patterns {
		files, err := a.src.GlobFiles(pattern, a.cfg.Exclude)
		if err != nil {
			a.log.Debug("glob %s: %v", pattern, err)
			failed++
			continue
		}

		for start := 0; start < len(files); start += a.cfg.BatchSize {
			if a.sink.Disposed() || ctx.Err() != nil {
				return fmt.Sprintf("cancelled after opening %d files", opened), nil
			}

			end := start + a.cfg.BatchSize
			if end > len(files) {
				end = len(files)
			}
			for _, file := range files[start:end] {
				if err := a.src.OpenInvisibly(file); err != nil {
					failed++
				} else {
					opened++
				}
				a.sleep(ctx, a.cfg.FileDelay)
			}
			a.sleep(ctx, a.cfg.BatchPause)
		}
	}

	return fmt.Sprintf("opened %d files, %d errors", opened, failed), nil
}

// settle waits for asynchronous diagnostic computation to land.
func (a *Analyzer) settle(ctx context.Context) (string, error) {
	a.sleep(ctx, a.cfg.SettleDelay)
	return fmt.Sprintf("waited %s", a.cfg.SettleDelay), nil
}

// refresh publishes the synthetic full-workspace refresh event.
func (a *Analyzer) refresh(_ context.Context) (string, error) {
	a.sink.EmitRefresh()
	return "refresh emitted", nil
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

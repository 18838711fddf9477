// Package source defines the upstream diagnostic source boundary and the
// file-report adapter that serves it from tool-written JSON reports.
package source

import (
	"context"
	"errors"

	"problemwatch/internal/diag"
)

// Standard errors returned by sources.
var (
	// ErrClosed indicates the source has been closed.
	ErrClosed = errors.New("source closed")

	// ErrUnsupportedCommand indicates the source does not implement the
	// requested named command.
	ErrUnsupportedCommand = errors.New("command not supported by source")

	// ErrNoWorkspaceFolder indicates no workspace folder contains the file.
	ErrNoWorkspaceFolder = errors.New("no workspace folder for file")
)

// Unsubscribe removes a change-notification subscription.
type Unsubscribe func() error

// Source supplies raw diagnostics and workspace facts to the engine. Every
// call may fail; callers guard accordingly and degrade rather than abort.
type Source interface {
	// Subscribe registers a callback invoked with the file paths whose
	// diagnostics changed. The callback may fire from a background goroutine.
	Subscribe(fn func(paths []string)) (Unsubscribe, error)

	// Diagnostics returns the current raw diagnostics for one file.
	Diagnostics(path string) ([]diag.RawDiagnostic, error)

	// AllDiagnostics returns every diagnostic the source already knows
	// about, without forcing recomputation.
	AllDiagnostics() (map[string][]diag.RawDiagnostic, error)

	// WorkspaceFolderFor resolves the workspace folder name for a file.
	WorkspaceFolderFor(path string) (string, error)

	// GlobFiles enumerates workspace files matching pattern, skipping any
	// path matched by exclude.
	GlobFiles(pattern, exclude string) ([]string, error)

	// OpenInvisibly asks the source to (re)examine a file without any
	// user-visible effect, so diagnostics for it get computed.
	OpenInvisibly(path string) error

	// ExecuteCommand runs a named command, best effort. Sources return
	// ErrUnsupportedCommand for names they do not implement.
	ExecuteCommand(ctx context.Context, name string) error
}

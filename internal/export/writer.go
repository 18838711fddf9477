package export

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"problemwatch/internal/logging"
)

// Exporter writes snapshots of a provider's state to a fixed path using the
// atomic write protocol: temp file, then rename. Concurrent exporters racing
// on the rename are expected and absorbed.
type Exporter struct {
	provider Provider
	path     string
	log      *logging.Logger

	// rename is injectable so rename-failure classification is testable.
	rename func(oldpath, newpath string) error
}

// NewExporter creates an exporter targeting path.
func NewExporter(provider Provider, path string, log *logging.Logger) *Exporter {
	if log == nil {
		log = logging.Nop
	}
	return &Exporter{
		provider: provider,
		path:     path,
		log:      log.WithComponent("export"),
		rename:   os.Rename,
	}
}

// Path returns the destination path.
func (x *Exporter) Path() string { return x.path }

// Export builds a fresh snapshot and writes it. Unexpected I/O failures
// propagate; rename races with concurrent exporters do not.
func (x *Exporter) Export() error {
	return x.write(BuildSnapshot(x.provider))
}

// ExportQuiet is the fire-and-forget variant used by the live change hook:
// failures are logged, never propagated.
func (x *Exporter) ExportQuiet() {
	if err := x.Export(); err != nil {
		x.log.Error("export failed: %v", err)
	}
}

// write serializes the snapshot and performs the atomic replace. The temp
// name embeds the pid, a timestamp, and a random suffix so overlapping
// export calls never collide on the temp file itself.
func (x *Exporter) write(snap *Snapshot) error {
	dir := filepath.Dir(x.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating export directory: %w", err)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	tmp := fmt.Sprintf("%s.%d.%d.%s.tmp",
		x.path, os.Getpid(), time.Now().UnixNano(), uuid.NewString()[:8])
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing temp export: %w", err)
	}

	if err := x.rename(tmp, x.path); err != nil {
		// Another exporter may have won the rename; clean up and treat the
		// expected error classes as success.
		_ = os.Remove(tmp)
		if isRenameRace(err) {
			x.log.Debug("export rename race absorbed: %v", err)
			return nil
		}
		return fmt.Errorf("replacing export file: %w", err)
	}

	return nil
}

// isRenameRace classifies rename failures that concurrent exporters are
// expected to produce: the temp vanished, the destination momentarily
// blocked the rename, or a transient permission error on the swap.
func isRenameRace(err error) bool {
	return errors.Is(err, fs.ErrNotExist) ||
		errors.Is(err, fs.ErrExist) ||
		errors.Is(err, fs.ErrPermission)
}

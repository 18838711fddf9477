package diag

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// FolderResolver maps a file path to its workspace folder name. Implementations
// may fail or panic; the normalizer treats either as "unknown".
type FolderResolver interface {
	WorkspaceFolderFor(path string) (string, error)
}

const folderCacheSize = 512

// Normalizer converts validated raw diagnostics into canonical Problems.
// It never fails outward: a panic during conversion degrades the result to a
// valid Problem with Error severity and a generic message.
type Normalizer struct {
	resolver FolderResolver
	folders  *lru.Cache[string, string]
}

// NewNormalizer creates a normalizer. resolver may be nil, in which case every
// problem carries the "unknown" workspace folder.
func NewNormalizer(resolver FolderResolver) *Normalizer {
	cache, err := lru.New[string, string](folderCacheSize)
	if err != nil {
		// Only possible with a non-positive size.
		panic(err)
	}
	return &Normalizer{resolver: resolver, folders: cache}
}

// Normalize converts one raw diagnostic plus its file identity into a Problem.
func (n *Normalizer) Normalize(raw RawDiagnostic, filePath string) (p Problem) {
	folder := n.resolveFolder(filePath)

	defer func() {
		if r := recover(); r != nil {
			p = Problem{
				FilePath:        filePath,
				WorkspaceFolder: folder,
				Severity:        SeverityError,
				Message:         ErrorMessage,
				Source:          UnknownSource,
			}
		}
	}()

	if raw.Unparsable {
		return Problem{
			FilePath:        filePath,
			WorkspaceFolder: folder,
			Severity:        SeverityError,
			Message:         ErrorMessage,
			Source:          UnknownSource,
		}
	}

	p = Problem{
		FilePath:        filePath,
		WorkspaceFolder: folder,
		Severity:        SeverityError,
		Message:         MissingMessage,
		Source:          UnknownSource,
		Code:            raw.Code,
	}

	if raw.Severity != nil {
		p.Severity = SeverityFromCode(*raw.Severity)
	}
	if raw.Message != nil && *raw.Message != "" {
		p.Message = *raw.Message
	}
	if raw.Source != nil && *raw.Source != "" {
		p.Source = *raw.Source
	}
	if raw.Range != nil {
		p.Range = Range{
			Start: clampPosition(raw.Range.Start),
			End:   clampPosition(raw.Range.End),
		}
	}
	if raw.Related != nil {
		p.Related = make([]RelatedInformation, 0, len(raw.Related))
		for _, rel := range raw.Related {
			p.Related = append(p.Related, RelatedInformation{
				Location: Location{
					URI: rel.URI,
					Range: Range{
						Start: clampPosition(rel.Range.Start),
						End:   clampPosition(rel.Range.End),
					},
				},
				Message: rel.Message,
			})
		}
	}

	return p
}

// NormalizeAll converts a list of raw diagnostics for one file.
func (n *Normalizer) NormalizeAll(raws []RawDiagnostic, filePath string) []Problem {
	if len(raws) == 0 {
		return nil
	}
	problems := make([]Problem, 0, len(raws))
	for _, raw := range raws {
		problems = append(problems, n.Normalize(raw, filePath))
	}
	return problems
}

// InvalidateFolder drops a cached workspace-folder resolution, for callers
// that learn a file moved between folders.
func (n *Normalizer) InvalidateFolder(path string) {
	n.folders.Remove(path)
}

// resolveFolder looks up the workspace folder for a path, caching results.
// Resolver errors and panics both degrade to "unknown" and are not cached, so
// a transiently failing resolver can recover on a later call.
func (n *Normalizer) resolveFolder(path string) string {
	if n.resolver == nil {
		return UnknownFolder
	}
	if cached, ok := n.folders.Get(path); ok {
		return cached
	}

	name, ok := n.safeResolve(path)
	if !ok {
		return UnknownFolder
	}
	n.folders.Add(path, name)
	return name
}

func (n *Normalizer) safeResolve(path string) (name string, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			name, ok = "", false
		}
	}()

	name, err := n.resolver.WorkspaceFolderFor(path)
	if err != nil || name == "" {
		return "", false
	}
	return name, true
}

func clampPosition(pos RawPosition) Position {
	p := Position{Line: pos.Line, Character: pos.Character}
	if p.Line < 0 {
		p.Line = 0
	}
	if p.Character < 0 {
		p.Character = 0
	}
	return p
}

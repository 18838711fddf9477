package diag

// dedupKey identifies a problem for duplicate detection during merge.
type dedupKey struct {
	message   string
	line      int
	character int
}

func keyOf(p Problem) dedupKey {
	return dedupKey{
		message:   p.Message,
		line:      p.Range.Start.Line,
		character: p.Range.Start.Character,
	}
}

// Merge combines two problem lists for the same file, collapsing duplicates
// by (message, start line, start character). The first occurrence wins, so
// existing entries are retained over incoming duplicates, and relative order
// is preserved. Used by workspace analysis, which must fold newly discovered
// problems into whatever the live update path has already captured.
func Merge(existing, incoming []Problem) []Problem {
	if len(existing) == 0 && len(incoming) == 0 {
		return nil
	}

	seen := make(map[dedupKey]bool, len(existing)+len(incoming))
	merged := make([]Problem, 0, len(existing)+len(incoming))

	for _, list := range [][]Problem{existing, incoming} {
		for _, p := range list {
			key := keyOf(p)
			if seen[key] {
				continue
			}
			seen[key] = true
			merged = append(merged, p)
		}
	}

	return merged
}

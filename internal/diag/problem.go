// Package diag defines the canonical Problem model, boundary validation for
// raw diagnostic payloads, normalization, and duplicate merging.
package diag

import (
	"encoding/json"
	"fmt"
)

// Severity classifies a problem. The numeric values match the severity codes
// reported by editor diagnostic APIs (0-3).
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
	SeverityInformation
	SeverityHint
)

// severityNames is the fixed code-to-name table. Codes outside 0-3 map to Error.
var severityNames = [...]string{"Error", "Warning", "Information", "Hint"}

// SeverityFromCode maps a raw severity code to a Severity. Any code outside
// the 0-3 table, including negative values, maps to SeverityError.
func SeverityFromCode(code int) Severity {
	if code < 0 || code >= len(severityNames) {
		return SeverityError
	}
	return Severity(code)
}

// ParseSeverity maps a severity name back to its value.
func ParseSeverity(name string) (Severity, bool) {
	for i, n := range severityNames {
		if n == name {
			return Severity(i), true
		}
	}
	return SeverityError, false
}

// String returns the severity name.
func (s Severity) String() string {
	if s < 0 || int(s) >= len(severityNames) {
		return severityNames[SeverityError]
	}
	return severityNames[s]
}

// MarshalJSON encodes the severity as its name.
func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON accepts either a severity name or a numeric code.
func (s *Severity) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		parsed, ok := ParseSeverity(name)
		if !ok {
			return fmt.Errorf("unknown severity %q", name)
		}
		*s = parsed
		return nil
	}
	var code int
	if err := json.Unmarshal(data, &code); err != nil {
		return fmt.Errorf("severity must be a name or a code: %w", err)
	}
	*s = SeverityFromCode(code)
	return nil
}

// Position is a zero-based line/character offset in a document.
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// Range is a start/end position pair.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// Location points into a resource.
type Location struct {
	URI   string `json:"uri"`
	Range Range  `json:"range"`
}

// RelatedInformation links a problem to a supporting location.
type RelatedInformation struct {
	Location Location `json:"location"`
	Message  string   `json:"message"`
}

// Fallback values applied by the normalizer when a raw diagnostic omits or
// mangles a field.
const (
	UnknownFolder  = "unknown"
	UnknownSource  = "unknown"
	MissingMessage = "no message provided"
	ErrorMessage   = "diagnostic conversion error"
)

// Problem is the canonical, normalized representation of one diagnostic
// finding. Values are immutable once produced by the normalizer.
type Problem struct {
	FilePath        string               `json:"filePath"`
	WorkspaceFolder string               `json:"workspaceFolder"`
	Range           Range                `json:"range"`
	Severity        Severity             `json:"severity"`
	Message         string               `json:"message"`
	Source          string               `json:"source"`
	Code            any                  `json:"code,omitempty"` // string or number
	Related         []RelatedInformation `json:"relatedInformation,omitempty"`
}

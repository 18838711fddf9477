package diag

import "github.com/tidwall/gjson"

// RawDiagnostic is the validated shape of one raw diagnostic element.
// Pointer fields are nil when the payload omitted the field; the normalizer
// supplies defaults. An element that is not a JSON object at all becomes the
// explicit Unparsable variant instead of a partially-filled value.
type RawDiagnostic struct {
	Severity *int
	Message  *string
	Range    *RawRange
	Source   *string
	Code     any // string, float64, or nil

	// Related is nil when the field is absent or wholly unparsable. An
	// explicitly-empty array yields a non-nil empty slice.
	Related []RawRelated

	Unparsable bool
}

// RawRange mirrors Range before validation.
type RawRange struct {
	Start RawPosition
	End   RawPosition
}

// RawPosition mirrors Position before validation.
type RawPosition struct {
	Line      int
	Character int
}

// RawRelated is one validated related-information entry.
type RawRelated struct {
	URI     string
	Range   RawRange
	Message string
}

// ParseRawList validates a JSON array of diagnostics. Elements that are not
// objects come back as Unparsable variants rather than being dropped, so the
// caller sees one raw value per reported element.
func ParseRawList(data []byte) []RawDiagnostic {
	parsed := gjson.ParseBytes(data)
	if !parsed.IsArray() {
		return nil
	}

	var out []RawDiagnostic
	parsed.ForEach(func(_, item gjson.Result) bool {
		out = append(out, ParseRaw(item))
		return true
	})
	return out
}

// ParseRaw validates a single raw diagnostic value.
func ParseRaw(item gjson.Result) RawDiagnostic {
	if !item.IsObject() {
		return RawDiagnostic{Unparsable: true}
	}

	var raw RawDiagnostic

	if sev := item.Get("severity"); sev.Exists() && sev.Type == gjson.Number {
		code := int(sev.Int())
		raw.Severity = &code
	}

	if msg := item.Get("message"); msg.Exists() && msg.Type == gjson.String {
		s := msg.String()
		raw.Message = &s
	}

	if rng := item.Get("range"); rng.IsObject() {
		parsed := parseRawRange(rng)
		raw.Range = &parsed
	}

	if src := item.Get("source"); src.Exists() && src.Type == gjson.String {
		s := src.String()
		raw.Source = &s
	}

	switch code := item.Get("code"); code.Type {
	case gjson.String:
		raw.Code = code.String()
	case gjson.Number:
		raw.Code = code.Float()
	}

	if rel := item.Get("relatedInformation"); rel.IsArray() {
		raw.Related = []RawRelated{}
		rel.ForEach(func(_, entry gjson.Result) bool {
			if !entry.IsObject() {
				return true
			}
			raw.Related = append(raw.Related, RawRelated{
				URI:     entry.Get("location.uri").String(),
				Range:   parseRawRange(entry.Get("location.range")),
				Message: entry.Get("message").String(),
			})
			return true
		})
	}

	return raw
}

// parseRawRange reads start/end positions, tolerating missing members.
func parseRawRange(rng gjson.Result) RawRange {
	return RawRange{
		Start: RawPosition{
			Line:      int(rng.Get("start.line").Int()),
			Character: int(rng.Get("start.character").Int()),
		},
		End: RawPosition{
			Line:      int(rng.Get("end.line").Int()),
			Character: int(rng.Get("end.character").Int()),
		},
	}
}

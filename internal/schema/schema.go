// Package schema infers a field-level type schema from a corpus of
// frontmatter values, re-derived on every ingest (§4.11). It is a
// read-only summary of what frontmatter fields exist and how they're
// shaped; the query layer does not consult it, callers do.
package schema

import (
	"regexp"
	"sort"

	"github.com/kestrel-dev/mdvdb/internal/jsonvalue"
)

// FieldType classifies the observed shape of a frontmatter field.
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeNumber  FieldType = "number"
	TypeBoolean FieldType = "boolean"
	TypeList    FieldType = "list"
	TypeDate    FieldType = "date"
	TypeMixed   FieldType = "mixed"
)

// maxSamples bounds how many unique sample values a field keeps (§4.11).
const maxSamples = 20

var datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}(T\d{2}:\d{2}:\d{2})?$`)

// Field is the inferred shape of one top-level frontmatter field.
type Field struct {
	Name    string
	Type    FieldType
	Count   int
	Samples []string
}

// Overlay is an optional, user-supplied annotation for a field, merged on
// top of the inferred Field without changing the inference itself.
type Overlay struct {
	Description   string
	TypeOverride  FieldType
	AllowedValues []string
	Required      bool
}

// Schema is the corpus-wide inferred field set, keyed by field name.
type Schema struct {
	Fields map[string]Field
}

// builder accumulates per-field observations while scanning every file's
// frontmatter, then finalizes into a Schema.
type builder struct {
	types   map[string]map[FieldType]bool
	counts  map[string]int
	samples map[string]map[string]bool
	order   []string
}

func newBuilder() *builder {
	return &builder{
		types:   make(map[string]map[FieldType]bool),
		counts:  make(map[string]int),
		samples: make(map[string]map[string]bool),
	}
}

// Infer classifies every top-level field across every file's frontmatter
// value, producing one Schema for the whole corpus. Non-map frontmatter
// values (including absent frontmatter) contribute nothing.
func Infer(frontmatters []jsonvalue.Value) Schema {
	b := newBuilder()
	for _, fm := range frontmatters {
		m, ok := fm.AsMap()
		if !ok {
			continue
		}
		for _, key := range sortedKeys(m) {
			b.observe(key, m[key])
		}
	}
	return b.finalize()
}

func sortedKeys(m map[string]jsonvalue.Value) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (b *builder) observe(field string, v jsonvalue.Value) {
	if v.IsNull() {
		return
	}
	if _, seen := b.types[field]; !seen {
		b.order = append(b.order, field)
		b.types[field] = make(map[FieldType]bool)
		b.samples[field] = make(map[string]bool)
	}

	t, sample := classify(v)
	b.types[field][t] = true
	b.counts[field]++

	if sample != "" && len(b.samples[field]) < maxSamples {
		b.samples[field][sample] = true
	}
}

func classify(v jsonvalue.Value) (FieldType, string) {
	switch v.Kind() {
	case jsonvalue.KindString:
		s, _ := v.AsString()
		if datePattern.MatchString(s) {
			return TypeDate, s
		}
		return TypeString, s
	case jsonvalue.KindNumber:
		n, _ := v.AsNumber()
		return TypeNumber, jsonvalue.Number(n).String()
	case jsonvalue.KindBool:
		bv, _ := v.AsBool()
		if bv {
			return TypeBoolean, "true"
		}
		return TypeBoolean, "false"
	case jsonvalue.KindList:
		return TypeList, v.String()
	case jsonvalue.KindMap:
		return TypeMixed, ""
	default:
		return TypeMixed, ""
	}
}

func (b *builder) finalize() Schema {
	fields := make(map[string]Field, len(b.order))
	for _, name := range b.order {
		types := b.types[name]
		var fieldType FieldType
		if len(types) == 1 {
			for t := range types {
				fieldType = t
			}
		} else {
			fieldType = TypeMixed
		}

		samples := make([]string, 0, len(b.samples[name]))
		for s := range b.samples[name] {
			samples = append(samples, s)
		}
		sort.Strings(samples)

		fields[name] = Field{
			Name:    name,
			Type:    fieldType,
			Count:   b.counts[name],
			Samples: samples,
		}
	}
	return Schema{Fields: fields}
}

// Merge overlays user annotations onto an inferred schema. Overlay entries
// for fields absent from the inferred schema are dropped: an overlay
// describes existing fields, it does not invent new ones.
type MergedField struct {
	Field
	Overlay
}

func Merge(s Schema, overlays map[string]Overlay) map[string]MergedField {
	out := make(map[string]MergedField, len(s.Fields))
	for name, f := range s.Fields {
		merged := MergedField{Field: f}
		if ov, ok := overlays[name]; ok {
			merged.Overlay = ov
			if ov.TypeOverride != "" {
				merged.Field.Type = ov.TypeOverride
			}
		}
		out[name] = merged
	}
	return out
}

// Package jsonvalue provides a dynamic JSON value for frontmatter and filter
// evaluation. Go has no built-in "any JSON shape" type with the ergonomics of
// a tagged union, so this package supplies one: a sum type over
// Null/Bool/Number/String/List/Map, serializable to and from the standard
// encoding/json representation.
package jsonvalue

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Kind identifies which variant a Value holds.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindList
	KindMap
)

// Value is a dynamic JSON value: the leaves of frontmatter and filter
// literals are one of Null, Bool, Number, String, List, or Map.
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string
	list []Value
	m    map[string]Value
}

func Null() Value                  { return Value{kind: KindNull} }
func Bool(b bool) Value            { return Value{kind: KindBool, b: b} }
func Number(n float64) Value       { return Value{kind: KindNumber, n: n} }
func String(s string) Value        { return Value{kind: KindString, s: s} }
func List(items []Value) Value     { return Value{kind: KindList, list: items} }
func Map(m map[string]Value) Value { return Value{kind: KindMap, m: m} }

func (v Value) Kind() Kind { return v.kind }
func (v Value) IsNull() bool {
	return v.kind == KindNull
}

func (v Value) AsBool() (bool, bool)            { return v.b, v.kind == KindBool }
func (v Value) AsNumber() (float64, bool)       { return v.n, v.kind == KindNumber }
func (v Value) AsString() (string, bool)        { return v.s, v.kind == KindString }
func (v Value) AsList() ([]Value, bool)         { return v.list, v.kind == KindList }
func (v Value) AsMap() (map[string]Value, bool) { return v.m, v.kind == KindMap }

// Get returns the field of a map value, or Null if absent or not a map.
func (v Value) Get(field string) Value {
	if v.kind != KindMap {
		return Null()
	}
	if val, ok := v.m[field]; ok {
		return val
	}
	return Null()
}

// Has reports whether a map value has a non-null field.
func (v Value) Has(field string) bool {
	if v.kind != KindMap {
		return false
	}
	val, ok := v.m[field]
	return ok && val.kind != KindNull
}

// Equal performs deep structural equality, matching JSON semantics (e.g.
// number 1 equals 1.0).
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNull:
		return true
	case KindBool:
		return a.b == b.b
	case KindNumber:
		return a.n == b.n
	case KindString:
		return a.s == b.s
	case KindList:
		if len(a.list) != len(b.list) {
			return false
		}
		for i := range a.list {
			if !Equal(a.list[i], b.list[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(a.m) != len(b.m) {
			return false
		}
		for k, av := range a.m {
			bv, ok := b.m[k]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	}
	return false
}

// Keys returns the sorted field names of a map value.
func (v Value) Keys() []string {
	if v.kind != KindMap {
		return nil
	}
	keys := make([]string, 0, len(v.m))
	for k := range v.m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return json.Marshal(v.b)
	case KindNumber:
		return json.Marshal(v.n)
	case KindString:
		return json.Marshal(v.s)
	case KindList:
		return json.Marshal(v.list)
	case KindMap:
		return json.Marshal(v.m)
	default:
		return nil, fmt.Errorf("jsonvalue: unknown kind %d", v.kind)
	}
}

// UnmarshalJSON implements json.Unmarshaler, decoding arbitrary JSON into the
// sum type using encoding/json's native any-decoding plus a conversion pass.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*v = FromAny(raw)
	return nil
}

// FromAny converts a value produced by encoding/json's default decoding
// (map[string]any, []any, float64, string, bool, nil) into a Value.
func FromAny(raw any) Value {
	switch t := raw.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(t)
	case float64:
		return Number(t)
	case string:
		return String(t)
	case []any:
		items := make([]Value, len(t))
		for i, item := range t {
			items[i] = FromAny(item)
		}
		return List(items)
	case map[string]any:
		m := make(map[string]Value, len(t))
		for k, item := range t {
			m[k] = FromAny(item)
		}
		return Map(m)
	default:
		return Null()
	}
}

// GobEncode implements gob.GobEncoder so a Value can be stored directly in
// a gob-encoded structure (its fields are unexported and would otherwise be
// invisible to encoding/gob).
func (v Value) GobEncode() ([]byte, error) {
	return json.Marshal(v)
}

// GobDecode implements gob.GobDecoder.
func (v *Value) GobDecode(data []byte) error {
	return v.UnmarshalJSON(data)
}

// Parse decodes a JSON document into a Value.
func Parse(data []byte) (Value, error) {
	var v Value
	if err := json.Unmarshal(data, &v); err != nil {
		return Value{}, err
	}
	return v, nil
}

// String formats a Value for diagnostics (not canonical JSON).
func (v Value) String() string {
	b, err := json.Marshal(v)
	if err != nil {
		return "<invalid>"
	}
	return string(b)
}

// Package clip holds the schema-less keyed record that flows through
// transformation pipelines, together with the helpers used to read,
// compare and coerce its values.
package clip

import (
	"slices"
	"strconv"
	"strings"
)

type undefinedValue struct{}

func (undefinedValue) String() string { return "undefined" }

// Undefined marks a value that is absent. It is distinct from an explicit
// null (nil): a record field may hold nil, while a missing field or a path
// that cannot be followed resolves to Undefined.
var Undefined any = undefinedValue{}

// IsUndefined reports whether v is the absent marker.
func IsUndefined(v any) bool {
	_, ok := v.(undefinedValue)
	return ok
}

// Record is an ordered string-keyed structure. Values are drawn from nil,
// bool, int64, float64, string, []any, *Record or Undefined.
//
// Records are treated as immutable once handed to another component:
// operators build new records rather than editing their inputs. The zero
// value and a nil *Record are both empty and safe to read.
type Record struct {
	keys   []string
	values map[string]any
}

// NewRecord returns an empty record with room for n keys.
func NewRecord(n int) *Record {
	return &Record{keys: make([]string, 0, n), values: make(map[string]any, n)}
}

// RecordOf builds a record from alternating key/value arguments. Values are
// normalized. It panics when given an odd number of arguments or a
// non-string key, so it is intended for literals in code and tests.
func RecordOf(kv ...any) *Record {
	if len(kv)%2 != 0 {
		panic("clip.RecordOf: odd number of arguments")
	}
	r := NewRecord(len(kv) / 2)
	for i := 0; i < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			panic("clip.RecordOf: key must be a string")
		}
		r.Set(key, Normalize(kv[i+1]))
	}
	return r
}

// Len returns the number of keys.
func (r *Record) Len() int {
	if r == nil {
		return 0
	}
	return len(r.keys)
}

// Keys returns the keys in insertion order.
func (r *Record) Keys() []string {
	if r == nil {
		return nil
	}
	return slices.Clone(r.keys)
}

// Get returns the value stored under key.
func (r *Record) Get(key string) (any, bool) {
	if r == nil || r.values == nil {
		return nil, false
	}
	v, ok := r.values[key]
	return v, ok
}

// Value returns the value stored under key, or Undefined.
func (r *Record) Value(key string) any {
	if v, ok := r.Get(key); ok {
		return v
	}
	return Undefined
}

// Has reports whether key is present.
func (r *Record) Has(key string) bool {
	_, ok := r.Get(key)
	return ok
}

// Set stores value under key. New keys are appended; existing keys keep
// their position.
func (r *Record) Set(key string, value any) {
	if r.values == nil {
		r.values = make(map[string]any)
	}
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = value
}

// Delete removes key, preserving the order of the remaining keys.
func (r *Record) Delete(key string) {
	if r == nil || r.values == nil {
		return
	}
	if _, ok := r.values[key]; !ok {
		return
	}
	delete(r.values, key)
	if idx := slices.Index(r.keys, key); idx >= 0 {
		r.keys = slices.Delete(r.keys, idx, idx+1)
	}
}

// Clone returns a shallow copy. Nested values are shared.
func (r *Record) Clone() *Record {
	if r == nil {
		return NewRecord(0)
	}
	out := NewRecord(len(r.keys))
	for _, k := range r.keys {
		out.Set(k, r.values[k])
	}
	return out
}

// Range calls fn for each key in order until fn returns false.
func (r *Record) Range(fn func(key string, value any) bool) {
	if r == nil {
		return
	}
	for _, k := range r.keys {
		if !fn(k, r.values[k]) {
			return
		}
	}
}

// Lookup follows a dot-separated path through nested records. Numeric
// segments index into arrays. Missing segments resolve to Undefined.
func (r *Record) Lookup(path string) any {
	return LookupPath(r, path)
}

// LookupPath follows path starting at v.
func LookupPath(v any, path string) any {
	current := v
	for _, segment := range strings.Split(path, ".") {
		switch node := current.(type) {
		case *Record:
			if node == nil {
				return Undefined
			}
			next, ok := node.Get(segment)
			if !ok {
				return Undefined
			}
			current = next
		case []any:
			idx, err := strconv.Atoi(segment)
			if err != nil || idx < 0 || idx >= len(node) {
				return Undefined
			}
			current = node[idx]
		default:
			return Undefined
		}
	}
	return current
}

// Equal reports whether two records hold the same keys in the same order
// with equal values.
func (r *Record) Equal(other *Record) bool {
	if r.Len() != other.Len() {
		return false
	}
	for i, k := range r.keys {
		if other.keys[i] != k {
			return false
		}
		if !ValuesEqual(r.values[k], other.values[k]) {
			return false
		}
	}
	return true
}

// Map converts the record into a plain map, recursively. Undefined values
// are dropped.
func (r *Record) Map() map[string]any {
	out := make(map[string]any, r.Len())
	r.Range(func(k string, v any) bool {
		if !IsUndefined(v) {
			out[k] = plain(v)
		}
		return true
	})
	return out
}

func plain(v any) any {
	switch t := v.(type) {
	case *Record:
		return t.Map()
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			if IsUndefined(item) {
				out[i] = nil
				continue
			}
			out[i] = plain(item)
		}
		return out
	default:
		return v
	}
}

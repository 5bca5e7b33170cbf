package clip

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Normalize converts common Go values into the closed value set used by
// records: ints collapse to int64, floats to float64, maps to *Record
// (keys sorted), slices to []any.
func Normalize(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case undefinedValue, bool, string, int64, float64:
		return t
	case *Record:
		return t
	case Record:
		return t.Clone()
	case int:
		return int64(t)
	case int8:
		return int64(t)
	case int16:
		return int64(t)
	case int32:
		return int64(t)
	case uint:
		return normalizeUint(uint64(t))
	case uint8:
		return int64(t)
	case uint16:
		return int64(t)
	case uint32:
		return int64(t)
	case uint64:
		return normalizeUint(t)
	case float32:
		return float64(t)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case time.Time:
		return t.UnixMilli()
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = Normalize(item)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = item
		}
		return out
	case []*Record:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = item
		}
		return out
	case map[string]any:
		return FromMap(t)
	case map[string]string:
		r := NewRecord(len(t))
		for _, k := range sortedKeys(t) {
			r.Set(k, t[k])
		}
		return r
	case json.RawMessage:
		decoded, err := DecodeValue(t)
		if err != nil {
			return string(t)
		}
		return decoded
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		decoded, err := DecodeValue(raw)
		if err != nil {
			return fmt.Sprint(t)
		}
		return decoded
	}
}

func normalizeUint(u uint64) any {
	if u > math.MaxInt64 {
		return float64(u)
	}
	return int64(u)
}

// FromMap builds a record from a map. Keys are sorted since map iteration
// order carries no meaning.
func FromMap(m map[string]any) *Record {
	r := NewRecord(len(m))
	for _, k := range sortedKeys(m) {
		r.Set(k, Normalize(m[k]))
	}
	return r
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// IsNumber reports whether v is an int64 or float64.
func IsNumber(v any) bool {
	switch v.(type) {
	case int64, float64:
		return true
	}
	return false
}

// ToFloat coerces v into a float64. Numeric strings are parsed; every other
// kind fails.
func ToFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int64:
		return float64(t), true
	case float64:
		return t, true
	case int:
		return float64(t), true
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// String renders v the way a loosely typed runtime would when concatenating
// it into text. Structured values render as JSON.
func String(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case undefinedValue:
		return "undefined"
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return FormatFloat(t)
	case *Record, []any:
		raw, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(raw)
	default:
		return fmt.Sprint(t)
	}
}

// FormatFloat renders f without exponent or trailing zeros.
func FormatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// ValuesEqual compares two record values. Numbers compare numerically
// regardless of their int64/float64 representation; every other kind must
// match exactly.
func ValuesEqual(a, b any) bool {
	if IsNumber(a) && IsNumber(b) {
		fa, _ := ToFloat(a)
		fb, _ := ToFloat(b)
		return fa == fb
	}
	switch ta := a.(type) {
	case nil:
		return b == nil
	case undefinedValue:
		return IsUndefined(b)
	case bool:
		tb, ok := b.(bool)
		return ok && ta == tb
	case string:
		tb, ok := b.(string)
		return ok && ta == tb
	case *Record:
		tb, ok := b.(*Record)
		return ok && ta.Equal(tb)
	case []any:
		tb, ok := b.([]any)
		if !ok || len(ta) != len(tb) {
			return false
		}
		for i := range ta {
			if !ValuesEqual(ta[i], tb[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// DecodeValue parses JSON into the record value set. Objects keep their
// key order.
func DecodeValue(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := decodeToken(dec)
	if err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("unexpected trailing data after JSON value")
	}
	return v, nil
}

func decodeToken(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			r := NewRecord(4)
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return nil, fmt.Errorf("expected object key, got %v", keyTok)
				}
				value, err := decodeToken(dec)
				if err != nil {
					return nil, err
				}
				r.Set(key, value)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return r, nil
		case '[':
			out := make([]any, 0)
			for dec.More() {
				value, err := decodeToken(dec)
				if err != nil {
					return nil, err
				}
				out = append(out, value)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return out, nil
		default:
			return nil, fmt.Errorf("unexpected delimiter %v", t)
		}
	case json.Number:
		return Normalize(t), nil
	default:
		return t, nil
	}
}

// MarshalJSON writes keys in insertion order. Undefined values are omitted.
func (r *Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	var err error
	r.Range(func(k string, v any) bool {
		if IsUndefined(v) {
			return true
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false
		var keyRaw, valueRaw []byte
		if keyRaw, err = json.Marshal(k); err != nil {
			return false
		}
		if valueRaw, err = marshalValue(v); err != nil {
			return false
		}
		buf.Write(keyRaw)
		buf.WriteByte(':')
		buf.Write(valueRaw)
		return true
	})
	if err != nil {
		return nil, err
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func marshalValue(v any) ([]byte, error) {
	switch t := v.(type) {
	case undefinedValue:
		return []byte("null"), nil
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return []byte("null"), nil
		}
		return json.Marshal(t)
	case []any:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, item := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			raw, err := marshalValue(item)
			if err != nil {
				return nil, err
			}
			buf.Write(raw)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	default:
		return json.Marshal(t)
	}
}

// UnmarshalJSON reads a JSON object, keeping key order.
func (r *Record) UnmarshalJSON(data []byte) error {
	decoded, err := DecodeValue(data)
	if err != nil {
		return err
	}
	rec, ok := decoded.(*Record)
	if !ok {
		return fmt.Errorf("expected JSON object, got %T", decoded)
	}
	*r = *rec
	return nil
}

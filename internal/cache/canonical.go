package cache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Canonicalize renders descriptor as JSON with object keys sorted and array
// elements sorted by their own canonical form. Arrays are therefore treated
// as unordered: descriptors that differ only in element order are equal.
func Canonicalize(descriptor any) ([]byte, error) {
	raw, err := encode(descriptor)
	if err != nil {
		return nil, fmt.Errorf("failed to encode cache descriptor: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("failed to decode cache descriptor: %w", err)
	}
	normalized, err := normalize(generic)
	if err != nil {
		return nil, err
	}
	out, err := encode(normalized)
	if err != nil {
		return nil, fmt.Errorf("failed to encode canonical descriptor: %w", err)
	}
	return out, nil
}

// normalize returns json.RawMessage for arrays so sorted element order
// survives the final marshal; encoding/json already sorts map keys.
func normalize(v any) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			n, err := normalize(item)
			if err != nil {
				return nil, err
			}
			out[k] = n
		}
		return out, nil
	case []any:
		encoded := make([][]byte, len(t))
		for i, item := range t {
			n, err := normalize(item)
			if err != nil {
				return nil, err
			}
			b, err := encode(n)
			if err != nil {
				return nil, fmt.Errorf("failed to encode descriptor element: %w", err)
			}
			encoded[i] = b
		}
		sort.Slice(encoded, func(i, j int) bool { return bytes.Compare(encoded[i], encoded[j]) < 0 })
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, b := range encoded {
			if i > 0 {
				buf.WriteByte(',')
			}
			buf.Write(b)
		}
		buf.WriteByte(']')
		return json.RawMessage(buf.Bytes()), nil
	default:
		return v, nil
	}
}

// encode marshals v without HTML escaping so <, > and & keep their literal
// form in the canonical text.
func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Hash returns the hex SHA-256 of the canonical descriptor together with the
// canonical bytes.
func Hash(descriptor any) (string, []byte, error) {
	canonical, err := Canonicalize(descriptor)
	if err != nil {
		return "", nil, err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), canonical, nil
}

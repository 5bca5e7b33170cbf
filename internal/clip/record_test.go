package clip

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestRecordPreservesInsertionOrder(t *testing.T) {
	r := NewRecord(0)
	r.Set("b", int64(1))
	r.Set("a", int64(2))
	r.Set("b", int64(3))

	if diff := cmp.Diff([]string{"b", "a"}, r.Keys()); diff != "" {
		t.Fatalf("unexpected keys (-want +got):\n%s", diff)
	}
	if v, _ := r.Get("b"); v != int64(3) {
		t.Fatalf("expected b to be overwritten, got %v", v)
	}

	r.Delete("b")
	if r.Has("b") || r.Len() != 1 {
		t.Fatalf("expected b to be removed, keys %v", r.Keys())
	}
}

func TestLookupDistinguishesAbsentFromNull(t *testing.T) {
	r := RecordOf(
		"life", RecordOf("deletedTime", nil, "createdTime", 10),
		"tags", []any{"x", "y"},
	)

	if v := r.Lookup("life.deletedTime"); v != nil {
		t.Fatalf("expected explicit null, got %v", v)
	}
	if v := r.Lookup("life.missing"); !IsUndefined(v) {
		t.Fatalf("expected undefined for missing key, got %v", v)
	}
	if v := r.Lookup("life.deletedTime.deeper"); !IsUndefined(v) {
		t.Fatalf("expected undefined when walking through null, got %v", v)
	}
	if v := r.Lookup("life.createdTime"); v != int64(10) {
		t.Fatalf("expected normalized int64 10, got %#v", v)
	}
	if v := r.Lookup("tags.1"); v != "y" {
		t.Fatalf("expected array index lookup, got %v", v)
	}
}

func TestRecordJSONKeepsKeyOrder(t *testing.T) {
	input := `{"z":1,"a":{"y":2.5,"b":[true,null,"s"]},"m":null}`

	var r Record
	if err := json.Unmarshal([]byte(input), &r); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	out, err := json.Marshal(&r)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(out) != input {
		t.Fatalf("expected %s, got %s", input, out)
	}
	if v := r.Lookup("z"); v != int64(1) {
		t.Fatalf("expected integral numbers to decode as int64, got %#v", v)
	}
}

func TestMarshalOmitsUndefined(t *testing.T) {
	r := RecordOf("a", 1)
	r.Set("b", Undefined)
	r.Set("c", []any{Undefined, int64(2)})

	out, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(out) != `{"a":1,"c":[null,2]}` {
		t.Fatalf("unexpected JSON %s", out)
	}
}

func TestValuesEqualComparesNumbersNumerically(t *testing.T) {
	cases := []struct {
		name string
		a, b any
		want bool
	}{
		{"int and float", int64(2), float64(2), true},
		{"string and number", "2", int64(2), false},
		{"null and undefined", nil, Undefined, false},
		{"nested", RecordOf("x", []any{1, "a"}), RecordOf("x", []any{1.0, "a"}), true},
		{"key order matters", RecordOf("a", 1, "b", 2), RecordOf("b", 2, "a", 1), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ValuesEqual(Normalize(tc.a), Normalize(tc.b)); got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestStringRendersScalars(t *testing.T) {
	cases := map[string]any{
		"42":        int64(42),
		"1.5":       1.5,
		"true":      true,
		"null":      nil,
		"undefined": Undefined,
		`{"a":1}`:   RecordOf("a", 1),
	}
	for want, v := range cases {
		if got := String(v); got != want {
			t.Fatalf("expected %q, got %q", want, got)
		}
	}
}

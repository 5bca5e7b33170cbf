package transformations

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rpattn/studyclips/internal/clip"
)

// ErrShapeMismatch is returned when an operation receives flat data where
// it needs groups, or the other way around.
var ErrShapeMismatch = errors.New("data shape mismatch")

// Data is the value passed between pipeline steps: either a flat list of
// records or a list of groups.
type Data struct {
	flat    []*clip.Record
	groups  [][]*clip.Record
	grouped bool
}

// Flat wraps records as flat data.
func Flat(records []*clip.Record) Data {
	return Data{flat: records}
}

// Grouped wraps groups as grouped data.
func Grouped(groups [][]*clip.Record) Data {
	return Data{groups: groups, grouped: true}
}

// IsGrouped reports whether d holds groups.
func (d Data) IsGrouped() bool { return d.grouped }

// Records returns the flat records, or nil for grouped data.
func (d Data) Records() []*clip.Record { return d.flat }

// Groups returns the groups, or nil for flat data.
func (d Data) Groups() [][]*clip.Record { return d.groups }

// Len returns the number of top-level elements.
func (d Data) Len() int {
	if d.grouped {
		return len(d.groups)
	}
	return len(d.flat)
}

// Equal compares shape and contents. Empty data compares equal regardless
// of shape.
func (d Data) Equal(other Data) bool {
	if d.Len() == 0 && other.Len() == 0 {
		return true
	}
	if d.grouped != other.grouped || d.Len() != other.Len() {
		return false
	}
	if !d.grouped {
		return recordsEqual(d.flat, other.flat)
	}
	for i := range d.groups {
		if !recordsEqual(d.groups[i], other.groups[i]) {
			return false
		}
	}
	return true
}

func recordsEqual(a, b []*clip.Record) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

// flatRecords returns d as a flat list. Empty input is accepted in either
// shape.
func (d Data) flatRecords(op Operation) ([]*clip.Record, error) {
	if d.grouped && len(d.groups) > 0 {
		return nil, fmt.Errorf("%w: %s expects a flat list of records", ErrShapeMismatch, op)
	}
	return d.flat, nil
}

// groupedRecords returns d as a list of groups. Empty input is accepted in
// either shape.
func (d Data) groupedRecords(op Operation) ([][]*clip.Record, error) {
	if !d.grouped && len(d.flat) > 0 {
		return nil, fmt.Errorf("%w: %s expects grouped records", ErrShapeMismatch, op)
	}
	return d.groups, nil
}

// MarshalJSON renders flat data as an array of objects and grouped data as
// an array of arrays.
func (d Data) MarshalJSON() ([]byte, error) {
	if d.grouped {
		groups := d.groups
		if groups == nil {
			groups = [][]*clip.Record{}
		}
		out := make([][]*clip.Record, len(groups))
		for i, g := range groups {
			if g == nil {
				g = []*clip.Record{}
			}
			out[i] = g
		}
		return json.Marshal(out)
	}
	records := d.flat
	if records == nil {
		records = []*clip.Record{}
	}
	return json.Marshal(records)
}

// UnmarshalJSON infers the shape from the first element.
func (d *Data) UnmarshalJSON(raw []byte) error {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return fmt.Errorf("failed to decode data: %w", err)
	}
	if len(items) > 0 && bytes.HasPrefix(bytes.TrimSpace(items[0]), []byte("[")) {
		var groups [][]*clip.Record
		if err := json.Unmarshal(raw, &groups); err != nil {
			return fmt.Errorf("failed to decode grouped data: %w", err)
		}
		*d = Grouped(groups)
		return nil
	}
	var records []*clip.Record
	if err := json.Unmarshal(raw, &records); err != nil {
		return fmt.Errorf("failed to decode records: %w", err)
	}
	*d = Flat(records)
	return nil
}

package domain

import (
	"sort"

	"github.com/google/uuid"

	"github.com/rpattn/studyclips/internal/expression"
)

// DataType describes how raw clip values are parsed for a field.
type DataType string

const (
	DataTypeInteger     DataType = "INTEGER"
	DataTypeDecimal     DataType = "DECIMAL"
	DataTypeString      DataType = "STRING"
	DataTypeBoolean     DataType = "BOOLEAN"
	DataTypeDatetime    DataType = "DATETIME"
	DataTypeJSON        DataType = "JSON"
	DataTypeFile        DataType = "FILE"
	DataTypeCategorical DataType = "CATEGORICAL"
)

// CategoricalOption is one allowed code of a categorical field.
type CategoricalOption struct {
	Code        string `json:"code"`
	Description string `json:"description,omitempty"`
}

// FieldProperty declares a property that clips of a field may carry.
type FieldProperty struct {
	Name     string                  `json:"name"`
	Verifier [][]expression.Verifier `json:"verifier,omitempty"`
	Required bool                    `json:"required"`
}

// Field is a versioned field definition. Like data records, definitions are
// append-only and the latest non-deleted one wins.
type Field struct {
	ID                 uuid.UUID               `json:"id"`
	StudyID            uuid.UUID               `json:"studyId"`
	FieldID            string                  `json:"fieldId"`
	FieldName          string                  `json:"fieldName"`
	DataType           DataType                `json:"dataType"`
	CategoricalOptions []CategoricalOption     `json:"categoricalOptions,omitempty"`
	Unit               string                  `json:"unit,omitempty"`
	Comments           string                  `json:"comments,omitempty"`
	Verifier           [][]expression.Verifier `json:"verifier,omitempty"`
	Properties         []FieldProperty         `json:"properties,omitempty"`
	DataVersion        *string                 `json:"dataVersion"`
	Life               Life                    `json:"life"`
}

// LatestFields keeps, per field id, the most recently created definition and
// drops field ids whose latest definition is a deletion. The result is
// ordered by field id.
func LatestFields(fields []Field) []Field {
	latest := make(map[string]Field, len(fields))
	for _, f := range fields {
		current, ok := latest[f.FieldID]
		if !ok || f.Life.CreatedTime.After(current.Life.CreatedTime) {
			latest[f.FieldID] = f
		}
	}
	out := make([]Field, 0, len(latest))
	for _, f := range latest {
		if f.Life.Deleted() {
			continue
		}
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FieldID < out[j].FieldID })
	return out
}

package domain

import (
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/studyclips/internal/clip"
)

// Life tracks creation and deletion of a stored entry.
type Life struct {
	CreatedTime time.Time  `json:"createdTime"`
	CreatedUser string     `json:"createdUser"`
	DeletedTime *time.Time `json:"deletedTime,omitempty"`
	DeletedUser *string    `json:"deletedUser,omitempty"`
}

// Deleted reports whether the entry carries a deletion mark.
func (l Life) Deleted() bool { return l.DeletedTime != nil }

// DataRecord is one stored data clip. Records are append-only: updates and
// deletions are new rows, and the versioning pipeline reduces them to the
// latest state.
type DataRecord struct {
	ID          uuid.UUID      `json:"id"`
	StudyID     uuid.UUID      `json:"studyId"`
	FieldID     string         `json:"fieldId"`
	DataVersion *string        `json:"dataVersion"`
	Value       any            `json:"value"`
	Properties  map[string]any `json:"properties,omitempty"`
	Life        Life           `json:"life"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// ToClip converts the stored record into the keyed shape used by
// transformation pipelines. Timestamps become epoch milliseconds so they can
// be scored numerically.
func (d DataRecord) ToClip() *clip.Record {
	life := clip.NewRecord(4)
	life.Set("createdTime", d.Life.CreatedTime.UnixMilli())
	life.Set("createdUser", d.Life.CreatedUser)
	if d.Life.DeletedTime != nil {
		life.Set("deletedTime", d.Life.DeletedTime.UnixMilli())
	} else {
		life.Set("deletedTime", nil)
	}
	if d.Life.DeletedUser != nil {
		life.Set("deletedUser", *d.Life.DeletedUser)
	} else {
		life.Set("deletedUser", nil)
	}

	r := clip.NewRecord(8)
	r.Set("id", d.ID.String())
	r.Set("studyId", d.StudyID.String())
	r.Set("fieldId", d.FieldID)
	if d.DataVersion != nil {
		r.Set("dataVersion", *d.DataVersion)
	} else {
		r.Set("dataVersion", nil)
	}
	r.Set("value", clip.Normalize(d.Value))
	properties := d.Properties
	if properties == nil {
		properties = map[string]any{}
	}
	r.Set("properties", clip.FromMap(properties))
	r.Set("life", life)
	metadata := d.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	r.Set("metadata", clip.FromMap(metadata))
	return r
}

// ToClips converts a slice of stored records.
func ToClips(records []DataRecord) []*clip.Record {
	out := make([]*clip.Record, len(records))
	for i, r := range records {
		out[i] = r.ToClip()
	}
	return out
}

// DataSummary counts stored clips for a study.
type DataSummary struct {
	VersionedCount   int `json:"versionedCount"`
	UnversionedCount int `json:"unversionedCount"`
	AddedCount       int `json:"addedCount"`
	DeletedCount     int `json:"deletedCount"`
}

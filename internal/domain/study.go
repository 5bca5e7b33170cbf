package domain

import (
	"time"

	"github.com/google/uuid"
)

// Study configuration defaults.
const (
	DefaultMissingValueRepresentation = "99999"
	DefaultVersioningKey              = "fieldId"
)

// DataVersion is one published snapshot of a study's data.
type DataVersion struct {
	ID        string    `json:"id"`
	Version   string    `json:"version"`
	Tag       string    `json:"tag,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// StudyConfig holds per-study settings that drive ingestion and versioning.
type StudyConfig struct {
	// DefaultVersioningKeys identifies clips that are versions of the same
	// value.
	DefaultVersioningKeys                []string `json:"defaultVersioningKeys"`
	DefaultRepresentationForMissingValue string   `json:"defaultRepresentationForMissingValue"`
}

// DefaultStudyConfig returns the settings used when a study has none stored.
func DefaultStudyConfig() StudyConfig {
	return StudyConfig{
		DefaultVersioningKeys:                []string{DefaultVersioningKey},
		DefaultRepresentationForMissingValue: DefaultMissingValueRepresentation,
	}
}

// WithDefaults fills unset settings.
func (c StudyConfig) WithDefaults() StudyConfig {
	defaults := DefaultStudyConfig()
	if len(c.DefaultVersioningKeys) == 0 {
		c.DefaultVersioningKeys = defaults.DefaultVersioningKeys
	}
	if c.DefaultRepresentationForMissingValue == "" {
		c.DefaultRepresentationForMissingValue = defaults.DefaultRepresentationForMissingValue
	}
	return c
}

// Study groups fields, data and roles.
type Study struct {
	ID           uuid.UUID     `json:"id"`
	Name         string        `json:"name"`
	Description  string        `json:"description,omitempty"`
	DataVersions []DataVersion `json:"dataVersions"`
	// CurrentDataVersion indexes DataVersions; -1 means nothing is published.
	CurrentDataVersion int         `json:"currentDataVersion"`
	Config             StudyConfig `json:"config"`
	CreatedAt          time.Time   `json:"createdAt"`
	DeletedAt          *time.Time  `json:"deletedAt,omitempty"`
}

// AvailableVersions lists the published version ids up to and including the
// current one. A nil entry stands for unversioned data and is appended when
// includeUnversioned is set.
func (s Study) AvailableVersions(includeUnversioned bool) []*string {
	versions := make([]*string, 0, len(s.DataVersions)+1)
	if s.CurrentDataVersion >= 0 {
		for i, v := range s.DataVersions {
			if i > s.CurrentDataVersion {
				break
			}
			id := v.ID
			versions = append(versions, &id)
		}
	}
	if includeUnversioned {
		versions = append(versions, nil)
	}
	return versions
}

// HasUnversioned reports whether versions contains the nil entry.
func HasUnversioned(versions []*string) bool {
	for _, v := range versions {
		if v == nil {
			return true
		}
	}
	return false
}

// VersionIDs returns the non-nil version ids.
func VersionIDs(versions []*string) []string {
	ids := make([]string, 0, len(versions))
	for _, v := range versions {
		if v != nil {
			ids = append(ids, *v)
		}
	}
	return ids
}

package retrieval

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/rpattn/studyclips/internal/domain"
)

// VersionSelector chooses the data versions a request reads. The zero value
// means "the study's published chain"; an explicit selection may contain nil
// for unversioned data.
type VersionSelector struct {
	versions []*string
	set      bool
}

// Versions selects exactly the given versions. A nil entry selects
// unversioned data.
func Versions(versions ...*string) VersionSelector {
	out := make([]*string, len(versions))
	copy(out, versions)
	return VersionSelector{versions: out, set: true}
}

// Unversioned selects unversioned data only.
func Unversioned() VersionSelector {
	return Versions(nil)
}

// IsSet reports whether the selection is explicit.
func (v VersionSelector) IsSet() bool { return v.set }

// Resolve returns the versions to read for study.
func (v VersionSelector) Resolve(study domain.Study) []*string {
	if v.set {
		return v.versions
	}
	return study.AvailableVersions(false)
}

// UnmarshalJSON accepts null, a version id, or an array of ids and nulls.
func (v *VersionSelector) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	switch {
	case bytes.Equal(trimmed, []byte("null")):
		*v = Unversioned()
		return nil
	case len(trimmed) > 0 && trimmed[0] == '"':
		var id string
		if err := json.Unmarshal(trimmed, &id); err != nil {
			return fmt.Errorf("invalid data version: %w", err)
		}
		*v = Versions(&id)
		return nil
	}
	var ids []*string
	if err := json.Unmarshal(trimmed, &ids); err != nil {
		return fmt.Errorf("dataVersion must be null, a string or an array: %w", err)
	}
	*v = Versions(ids...)
	return nil
}

// descriptor renders the selection the way it was requested, for cache
// keys. ok is false for the zero value.
func (v VersionSelector) descriptor() (any, bool) {
	if !v.set {
		return nil, false
	}
	if len(v.versions) == 1 {
		if v.versions[0] == nil {
			return nil, true
		}
		return *v.versions[0], true
	}
	out := make([]any, len(v.versions))
	for i, version := range v.versions {
		if version != nil {
			out[i] = *version
		}
	}
	return out, true
}

package permission

import (
	"context"
	"errors"
	"regexp"
	"sort"

	"github.com/google/uuid"

	"github.com/rpattn/studyclips/internal/clip"
	"github.com/rpattn/studyclips/internal/domain"
)

// ErrNoPermission is returned when a requester holds no role granting the
// requested access.
var ErrNoPermission = errors.New("no permission")

type propertyPatterns struct {
	key      string
	raw      []string
	patterns []*regexp.Regexp
}

// RoleSource lists the live roles a user holds in a study.
type RoleSource interface {
	ListByUser(ctx context.Context, studyID uuid.UUID, userID string) ([]domain.Role, error)
}

// Entry is a compiled data permission.
type Entry struct {
	fieldPatterns      []string
	fields             []*regexp.Regexp
	properties         []propertyPatterns
	includeUnversioned bool
	grant              domain.DataPermission
}

// Role is a compiled role. Entries without field patterns are dropped at
// compile time, so a role with no entries grants nothing.
type Role struct {
	ID      uuid.UUID
	Name    string
	entries []Entry
}

// Checker compiles roles and answers access questions about records and
// fields.
type Checker struct {
	patterns *PatternCache
}

// NewChecker returns a checker backed by patterns. A nil cache compiles on
// every call.
func NewChecker(patterns *PatternCache) *Checker {
	return &Checker{patterns: patterns}
}

// Compile turns stored roles into their matchable form.
func (c *Checker) Compile(roles []domain.Role) ([]Role, error) {
	out := make([]Role, 0, len(roles))
	for _, role := range roles {
		compiled := Role{ID: role.ID, Name: role.Name}
		for _, dp := range role.DataPermissions {
			if len(dp.Fields) == 0 {
				continue
			}
			entry := Entry{
				fieldPatterns:      dp.Fields,
				includeUnversioned: dp.IncludeUnversioned,
				grant:              dp,
			}
			for _, pattern := range dp.Fields {
				re, err := c.compile(pattern)
				if err != nil {
					return nil, err
				}
				entry.fields = append(entry.fields, re)
			}
			keys := make([]string, 0, len(dp.DataProperties))
			for key := range dp.DataProperties {
				keys = append(keys, key)
			}
			sort.Strings(keys)
			for _, key := range keys {
				prop := propertyPatterns{key: key, raw: dp.DataProperties[key]}
				for _, pattern := range dp.DataProperties[key] {
					re, err := c.compile(pattern)
					if err != nil {
						return nil, err
					}
					prop.patterns = append(prop.patterns, re)
				}
				entry.properties = append(entry.properties, prop)
			}
			compiled.entries = append(compiled.entries, entry)
		}
		out = append(out, compiled)
	}
	return out, nil
}

func (c *Checker) compile(pattern string) (*regexp.Regexp, error) {
	return c.patterns.Compile(pattern)
}

// Readable reports whether the role exposes rec to a fetch: some entry
// granting read matches the field and properties, and unversioned records
// additionally need an entry that includes unversioned data.
func (r Role) Readable(rec domain.DataRecord) bool {
	for _, entry := range r.entries {
		if !entry.readable() {
			continue
		}
		if rec.DataVersion == nil && !entry.includeUnversioned {
			continue
		}
		if entry.matchesField(rec.FieldID) && entry.matchesProperties(rec.Properties) {
			return true
		}
	}
	return false
}

func (e Entry) readable() bool {
	return e.grant.Grants(domain.PermissionRead)
}

// ReadableByAny reports whether any role exposes rec.
func ReadableByAny(roles []Role, rec domain.DataRecord) bool {
	for _, role := range roles {
		if role.Readable(rec) {
			return true
		}
	}
	return false
}

// Allowed reports whether some entry of roles matching the record's field and
// properties grants bit. Versioning is not considered.
func (c *Checker) Allowed(roles []domain.Role, rec domain.DataRecord, bit int) (bool, error) {
	compiled, err := c.Compile(roles)
	if err != nil {
		return false, err
	}
	return AllowedCompiled(compiled, rec, bit), nil
}

// AllowedCompiled is Allowed for roles that are already compiled.
func AllowedCompiled(roles []Role, rec domain.DataRecord, bit int) bool {
	for _, role := range roles {
		for _, entry := range role.entries {
			if !entry.grant.Grants(bit) {
				continue
			}
			if entry.matchesField(rec.FieldID) && entry.matchesProperties(rec.Properties) {
				return true
			}
		}
	}
	return false
}

// FieldAllowed reports whether some entry granting bit matches fieldID.
func FieldAllowed(roles []Role, fieldID string, bit int) bool {
	for _, role := range roles {
		for _, entry := range role.entries {
			if entry.grant.Grants(bit) && entry.matchesField(fieldID) {
				return true
			}
		}
	}
	return false
}

func (e Entry) matchesField(fieldID string) bool {
	for _, re := range e.fields {
		if re.MatchString(fieldID) {
			return true
		}
	}
	return false
}

// matchesProperties requires every declared property to match at least one
// of its patterns. Missing properties never match.
func (e Entry) matchesProperties(properties map[string]any) bool {
	for _, prop := range e.properties {
		value, ok := properties[prop.key]
		if !ok || value == nil {
			return false
		}
		text := clip.String(clip.Normalize(value))
		matched := false
		for _, re := range prop.patterns {
			if re.MatchString(text) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

package permission

import (
	"regexp"
	"strings"

	sq "github.com/Masterminds/squirrel"
)

// Column names used by SQL predicates.
const (
	ColumnFieldID     = "field_id"
	ColumnProperties  = "properties"
	ColumnDataVersion = "data_version"
)

// Predicate renders the read predicate for roles: an OR over roles of an OR
// over their entries that grant read. ok is false when no role grants read
// access, in which case callers should return no rows without querying.
//
// Patterns are evaluated by PostgreSQL's regex engine, which accepts a
// superset of the RE2 syntax used for in-memory matching.
func Predicate(roles []Role) (pred sq.Sqlizer, ok bool) {
	var anyRole sq.Or
	for _, role := range roles {
		var anyEntry sq.Or
		for _, entry := range role.entries {
			if !entry.readable() {
				continue
			}
			anyEntry = append(anyEntry, entry.predicate())
		}
		if len(anyEntry) == 0 {
			continue
		}
		anyRole = append(anyRole, anyEntry)
	}
	if len(anyRole) == 0 {
		return nil, false
	}
	return anyRole, true
}

func (e Entry) predicate() sq.Sqlizer {
	clause := sq.And{regexAny(ColumnFieldID, e.fieldPatterns)}
	for _, prop := range e.properties {
		var anyPattern sq.Or
		for _, pattern := range prop.raw {
			anyPattern = append(anyPattern, sq.Expr(ColumnProperties+" ->> ? ~ ?", prop.key, pattern))
		}
		if len(anyPattern) == 0 {
			clause = append(clause, sq.Expr("FALSE"))
			continue
		}
		clause = append(clause, anyPattern)
	}
	if !e.includeUnversioned {
		clause = append(clause, sq.NotEq{ColumnDataVersion: nil})
	}
	return clause
}

func regexAny(column string, patterns []string) sq.Or {
	var out sq.Or
	for _, pattern := range patterns {
		out = append(out, sq.Expr(column+" ~ ?", pattern))
	}
	return out
}

// VersionPredicate matches data_version against versions, where a nil entry
// matches unversioned rows. ok is false for an empty list.
func VersionPredicate(versions []*string) (pred sq.Sqlizer, ok bool) {
	ids := make([]string, 0, len(versions))
	includeNull := false
	for _, v := range versions {
		if v == nil {
			includeNull = true
			continue
		}
		ids = append(ids, *v)
	}
	var clause sq.Or
	if len(ids) > 0 {
		clause = append(clause, sq.Eq{ColumnDataVersion: ids})
	}
	if includeNull {
		clause = append(clause, sq.Eq{ColumnDataVersion: nil})
	}
	if len(clause) == 0 {
		return nil, false
	}
	return clause, true
}

// FieldFilter restricts a fetch to certain field ids. Entries written as
// anchored patterns (^...$) are regular expressions; the rest are exact ids.
type FieldFilter struct {
	ids      []string
	patterns []string
	compiled []*regexp.Regexp
}

// ParseFieldFilter builds a filter from entries. An empty list means no
// restriction.
func ParseFieldFilter(entries []string, cache *PatternCache) (FieldFilter, error) {
	var filter FieldFilter
	for _, entry := range entries {
		if isAnchored(entry) {
			re, err := cache.Compile(entry)
			if err != nil {
				return FieldFilter{}, err
			}
			filter.patterns = append(filter.patterns, entry)
			filter.compiled = append(filter.compiled, re)
			continue
		}
		filter.ids = append(filter.ids, entry)
	}
	return filter, nil
}

func isAnchored(entry string) bool {
	return len(entry) >= 2 && strings.HasPrefix(entry, "^") && strings.HasSuffix(entry, "$")
}

// Empty reports whether the filter places no restriction.
func (f FieldFilter) Empty() bool {
	return len(f.ids) == 0 && len(f.patterns) == 0
}

// Matches reports whether fieldID passes the filter.
func (f FieldFilter) Matches(fieldID string) bool {
	if f.Empty() {
		return true
	}
	for _, id := range f.ids {
		if id == fieldID {
			return true
		}
	}
	for _, re := range f.compiled {
		if re.MatchString(fieldID) {
			return true
		}
	}
	return false
}

// Predicate renders the filter, or nil when it is empty.
func (f FieldFilter) Predicate() sq.Sqlizer {
	if f.Empty() {
		return nil
	}
	clause := regexAny(ColumnFieldID, f.patterns)
	if len(f.ids) > 0 {
		clause = append(clause, sq.Eq{ColumnFieldID: f.ids})
	}
	return clause
}

// FieldFilter parses entries with the checker's pattern cache.
func (c *Checker) FieldFilter(entries []string) (FieldFilter, error) {
	return ParseFieldFilter(entries, c.patterns)
}

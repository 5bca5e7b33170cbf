package repository

import (
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/rpattn/studyclips/internal/domain"
	"github.com/rpattn/studyclips/internal/permission"
)

func compileRoles(t *testing.T, roles ...domain.Role) []permission.Role {
	t.Helper()
	cache, err := permission.NewPatternCache(16)
	if err != nil {
		t.Fatalf("pattern cache: %v", err)
	}
	compiled, err := permission.NewChecker(cache).Compile(roles)
	if err != nil {
		t.Fatalf("compile roles: %v", err)
	}
	return compiled
}

func ptr(s string) *string { return &s }

func TestBuildFetchQuery_CombinesPredicates(t *testing.T) {
	roles := compileRoles(t, domain.Role{
		Name: "reader",
		DataPermissions: []domain.DataPermission{{
			Fields:         []string{"^1.*$"},
			DataProperties: map[string][]string{"participantId": {"^I.*$"}},
			Permission:     domain.PermissionRead,
		}},
	})
	fields, err := permission.ParseFieldFilter([]string{"31", "^4.*$"}, nil)
	if err != nil {
		t.Fatalf("parse field filter: %v", err)
	}

	sql, args, ok, err := BuildFetchQuery(DataQuery{
		StudyID:  uuid.New(),
		Versions: []*string{ptr("v1"), nil},
		Fields:   fields,
		Roles:    roles,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatalf("expected query to be sendable")
	}

	for _, fragment := range []string{
		"FROM data_records",
		"study_id = $1",
		"data_version IN",
		"data_version IS NULL",
		"field_id ~",
		"properties ->>",
		"data_version IS NOT NULL",
		"ORDER BY created_time ASC, id ASC",
	} {
		if !strings.Contains(sql, fragment) {
			t.Fatalf("expected %q in query:\n%s", fragment, sql)
		}
	}
	if len(args) == 0 {
		t.Fatalf("expected bound arguments")
	}
	for _, arg := range args {
		if s, isString := arg.(string); isString && strings.Contains(sql, s) && strings.HasPrefix(s, "^") {
			t.Fatalf("pattern %q inlined into SQL instead of bound", s)
		}
	}
}

func TestBuildFetchQuery_NoRolesSkipsQuery(t *testing.T) {
	_, _, ok, err := BuildFetchQuery(DataQuery{
		StudyID:  uuid.New(),
		Versions: []*string{ptr("v1")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected no query without roles")
	}
}

func TestBuildFetchQuery_NoVersionsSkipsQuery(t *testing.T) {
	roles := compileRoles(t, domain.Role{
		DataPermissions: []domain.DataPermission{{Fields: []string{"^.*$"}, Permission: domain.PermissionRead}},
	})
	_, _, ok, err := BuildFetchQuery(DataQuery{StudyID: uuid.New(), Roles: roles})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected no query without versions")
	}
}

func TestRepositoriesRequirePool(t *testing.T) {
	if _, err := NewDataRepository(nil, nil).Fetch(t.Context(), DataQuery{}); err == nil {
		t.Fatalf("expected error from uninitialised data repository")
	}
	if _, err := NewCacheRepository(nil).LatestInUse(t.Context(), "abc"); err == nil {
		t.Fatalf("expected error from uninitialised cache repository")
	}
	if _, err := NewRoleRepository(nil).ListByUser(t.Context(), uuid.New(), "u"); err == nil {
		t.Fatalf("expected error from uninitialised role repository")
	}
}

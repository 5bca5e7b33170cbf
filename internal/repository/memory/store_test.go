package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/studyclips/internal/domain"
	"github.com/rpattn/studyclips/internal/permission"
	"github.com/rpattn/studyclips/internal/repository"
)

func ptr(s string) *string { return &s }

func compile(t *testing.T, roles ...domain.Role) []permission.Role {
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

func TestFetch_ExcludesUnversionedWithoutGrant(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	studyID := uuid.New()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	if err := store.Data().InsertBatch(ctx, []domain.DataRecord{
		{StudyID: studyID, FieldID: "age", DataVersion: ptr("v1"), Value: 30, Life: domain.Life{CreatedTime: base}},
		{StudyID: studyID, FieldID: "age", Value: 31, Life: domain.Life{CreatedTime: base.Add(time.Hour)}},
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	roles := compile(t, domain.Role{
		DataPermissions: []domain.DataPermission{{Fields: []string{"^.*$"}, Permission: domain.PermissionRead}},
	})
	records, err := store.Data().Fetch(ctx, repository.DataQuery{
		StudyID:  studyID,
		Versions: []*string{ptr("v1"), nil},
		Roles:    roles,
	})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].DataVersion == nil || *records[0].DataVersion != "v1" {
		t.Fatalf("expected the versioned record, got %+v", records[0])
	}
}

func TestFetch_IncludesUnversionedWhenGranted(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	studyID := uuid.New()

	if err := store.Data().InsertBatch(ctx, []domain.DataRecord{
		{StudyID: studyID, FieldID: "age", Value: 31, Life: domain.Life{CreatedTime: time.Now()}},
		{StudyID: studyID, FieldID: "height", Value: 180, Life: domain.Life{CreatedTime: time.Now()}},
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	roles := compile(t, domain.Role{
		DataPermissions: []domain.DataPermission{{
			Fields:             []string{"^.*$"},
			IncludeUnversioned: true,
			Permission:         domain.PermissionRead,
		}},
	})
	fields, err := permission.ParseFieldFilter([]string{"age"}, nil)
	if err != nil {
		t.Fatalf("field filter: %v", err)
	}
	records, err := store.Data().Fetch(ctx, repository.DataQuery{
		StudyID:  studyID,
		Versions: []*string{nil},
		Fields:   fields,
		Roles:    roles,
	})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(records) != 1 || records[0].FieldID != "age" {
		t.Fatalf("expected only the age record, got %+v", records)
	}
}

func TestSummary_CountsLogs(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	studyID := uuid.New()
	deleted := time.Now()

	if err := store.Data().InsertBatch(ctx, []domain.DataRecord{
		{StudyID: studyID, FieldID: "a", DataVersion: ptr("v1")},
		{StudyID: studyID, FieldID: "a"},
		{StudyID: studyID, FieldID: "b"},
		{StudyID: studyID, FieldID: "a", Life: domain.Life{DeletedTime: &deleted}},
		{StudyID: uuid.New(), FieldID: "a"},
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	summary, err := store.Data().Summary(ctx, studyID)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	want := domain.DataSummary{VersionedCount: 1, UnversionedCount: 3, AddedCount: 2, DeletedCount: 1}
	if summary != want {
		t.Fatalf("expected %+v, got %+v", want, summary)
	}
}

func TestRoles_ListByUsersSkipsDeletedAndOtherStudies(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	studyID := uuid.New()
	deleted := time.Now()

	for _, role := range []domain.Role{
		{StudyID: studyID, Name: "reader", Users: []string{"alice", "bob"}},
		{StudyID: studyID, Name: "gone", Users: []string{"alice"}, DeletedAt: &deleted},
		{StudyID: uuid.New(), Name: "elsewhere", Users: []string{"alice"}},
	} {
		if _, err := store.Roles().Create(ctx, role); err != nil {
			t.Fatalf("create role: %v", err)
		}
	}

	byUser, err := store.Roles().ListByUsers(ctx, studyID, []string{"alice", "carol"})
	if err != nil {
		t.Fatalf("list roles: %v", err)
	}
	if len(byUser["alice"]) != 1 || byUser["alice"][0].Name != "reader" {
		t.Fatalf("unexpected roles for alice: %+v", byUser["alice"])
	}
	if len(byUser["carol"]) != 0 {
		t.Fatalf("expected no roles for carol, got %+v", byUser["carol"])
	}
}

func TestCache_LatestInUse(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	if _, err := store.Cache().LatestInUse(ctx, "k"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	for _, entry := range []domain.CacheEntry{
		{KeyHash: "k", ArtifactLocation: "old", CreatedAt: base},
		{KeyHash: "k", ArtifactLocation: "new", CreatedAt: base.Add(time.Minute)},
		{KeyHash: "k", ArtifactLocation: "stale", Status: domain.CacheStatusOutdated, CreatedAt: base.Add(time.Hour)},
	} {
		if _, err := store.Cache().Create(ctx, entry); err != nil {
			t.Fatalf("create entry: %v", err)
		}
	}

	latest, err := store.Cache().LatestInUse(ctx, "k")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.ArtifactLocation != "new" {
		t.Fatalf("expected newest in-use entry, got %q", latest.ArtifactLocation)
	}
}

func TestStudies_GetByIDNotFound(t *testing.T) {
	store := NewStore()
	if _, err := store.Studies().GetByID(context.Background(), uuid.New()); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestIngestionLogs_ListNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	studyID := uuid.New()
	for _, code := range []string{"A", "B", "C"} {
		if err := store.IngestionLogs().Record(ctx, domain.IngestionLogEntry{StudyID: studyID, Code: code}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	logs, err := store.IngestionLogs().List(ctx, studyID, 2, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(logs) != 2 || logs[0].Code != "C" || logs[1].Code != "B" {
		t.Fatalf("unexpected logs: %+v", logs)
	}
}

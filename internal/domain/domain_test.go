package domain

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
)

func TestAvailableVersionsStopsAtCurrent(t *testing.T) {
	study := Study{
		DataVersions:       []DataVersion{{ID: "v1"}, {ID: "v2"}, {ID: "v3"}},
		CurrentDataVersion: 1,
	}

	got := VersionIDs(study.AvailableVersions(false))
	if diff := cmp.Diff([]string{"v1", "v2"}, got); diff != "" {
		t.Fatalf("unexpected versions (-want +got):\n%s", diff)
	}

	withNull := study.AvailableVersions(true)
	if !HasUnversioned(withNull) || len(withNull) != 3 {
		t.Fatalf("expected null to be appended, got %d entries", len(withNull))
	}

	study.CurrentDataVersion = -1
	if got := study.AvailableVersions(false); len(got) != 0 {
		t.Fatalf("expected no versions for an unpublished study, got %d", len(got))
	}
}

func TestLatestFieldsIsTombstoneAware(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	deletedAt := base.Add(3 * time.Hour)
	fields := []Field{
		{FieldID: "age", FieldName: "Age v1", Life: Life{CreatedTime: base}},
		{FieldID: "age", FieldName: "Age v2", Life: Life{CreatedTime: base.Add(time.Hour)}},
		{FieldID: "sex", FieldName: "Sex", Life: Life{CreatedTime: base}},
		{FieldID: "sex", Life: Life{CreatedTime: base.Add(3 * time.Hour), DeletedTime: &deletedAt}},
	}

	latest := LatestFields(fields)
	if len(latest) != 1 {
		t.Fatalf("expected one live field, got %d", len(latest))
	}
	if latest[0].FieldName != "Age v2" {
		t.Fatalf("expected latest definition to win, got %q", latest[0].FieldName)
	}
}

func TestDataRecordToClip(t *testing.T) {
	version := "v1"
	created := time.UnixMilli(1700000000000)
	record := DataRecord{
		ID:          uuid.New(),
		StudyID:     uuid.New(),
		FieldID:     "age",
		DataVersion: &version,
		Value:       42,
		Properties:  map[string]any{"visit": "1"},
		Life:        Life{CreatedTime: created, CreatedUser: "u1"},
	}

	c := record.ToClip()
	if got := c.Lookup("life.createdTime"); got != int64(1700000000000) {
		t.Fatalf("expected epoch millis, got %#v", got)
	}
	if got := c.Lookup("life.deletedTime"); got != nil {
		t.Fatalf("expected explicit null deletedTime, got %#v", got)
	}
	if got := c.Lookup("properties.visit"); got != "1" {
		t.Fatalf("expected property visit, got %#v", got)
	}
	if got := c.Lookup("value"); got != int64(42) {
		t.Fatalf("expected normalized value, got %#v", got)
	}
	if got := c.Lookup("dataVersion"); got != "v1" {
		t.Fatalf("expected version v1, got %#v", got)
	}
}

func TestStudyConfigDefaults(t *testing.T) {
	cfg := StudyConfig{}.WithDefaults()
	if diff := cmp.Diff(DefaultStudyConfig(), cfg); diff != "" {
		t.Fatalf("unexpected defaults (-want +got):\n%s", diff)
	}
}

func TestPermissionGrants(t *testing.T) {
	p := DataPermission{Permission: PermissionRead | PermissionWrite}
	if !p.Grants(PermissionRead) || !p.Grants(PermissionWrite) || p.Grants(PermissionDelete) {
		t.Fatalf("unexpected grants for %d", p.Permission)
	}
}

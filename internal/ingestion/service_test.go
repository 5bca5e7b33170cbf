package ingestion

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"github.com/rpattn/studyclips/internal/domain"
	"github.com/rpattn/studyclips/internal/expression"
	"github.com/rpattn/studyclips/internal/permission"
	"github.com/rpattn/studyclips/internal/repository"
	"github.com/rpattn/studyclips/internal/repository/memory"
	"github.com/rpattn/studyclips/internal/retrieval"
)

type harness struct {
	store   *memory.Store
	service *Service
	study   domain.Study
}

func newHarness(t *testing.T, opts ...Option) harness {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()

	study, err := store.Studies().Create(ctx, domain.Study{Name: "cohort", CurrentDataVersion: -1})
	if err != nil {
		t.Fatalf("create study: %v", err)
	}

	roles := []domain.Role{
		{
			StudyID: study.ID,
			Name:    "editor",
			Users:   []string{"alice"},
			DataPermissions: []domain.DataPermission{{
				Fields:             []string{"^.*$"},
				IncludeUnversioned: true,
				Permission:         domain.PermissionRead | domain.PermissionWrite | domain.PermissionDelete,
			}},
		},
		{
			StudyID: study.ID,
			Name:    "viewer",
			Users:   []string{"bob"},
			DataPermissions: []domain.DataPermission{{
				Fields:             []string{"^.*$"},
				IncludeUnversioned: true,
				Permission:         domain.PermissionRead,
			}},
		},
	}
	for _, role := range roles {
		if _, err := store.Roles().Create(ctx, role); err != nil {
			t.Fatalf("create role: %v", err)
		}
	}

	fields := []domain.Field{
		{FieldID: "age", DataType: domain.DataTypeInteger, Verifier: [][]expression.Verifier{{
			{Formula: expression.Self(), Condition: expression.ConditionNumericalNotLessThan, Value: 0},
			{Formula: expression.Self(), Condition: expression.ConditionNumericalLessThan, Value: 150},
		}}},
		{FieldID: "weight", DataType: domain.DataTypeDecimal},
		{FieldID: "smoker", DataType: domain.DataTypeBoolean},
		{FieldID: "visit", DataType: domain.DataTypeDatetime},
		{FieldID: "sex", DataType: domain.DataTypeCategorical, CategoricalOptions: []domain.CategoricalOption{{Code: "M"}, {Code: "F"}}},
		{FieldID: "notes", DataType: domain.DataTypeJSON},
		{FieldID: "site", DataType: domain.DataTypeString, Properties: []domain.FieldProperty{{
			Name:     "participantId",
			Required: true,
			Verifier: [][]expression.Verifier{{
				{Formula: expression.Self(), Condition: expression.ConditionStringRegexMatch, Value: "^P[0-9]+$"},
			}},
		}}},
	}
	for _, field := range fields {
		field.StudyID = study.ID
		field.Life.CreatedTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		if _, err := store.Fields().Create(ctx, field); err != nil {
			t.Fatalf("create field: %v", err)
		}
	}

	patterns, err := permission.NewPatternCache(64)
	if err != nil {
		t.Fatalf("pattern cache: %v", err)
	}
	checker := permission.NewChecker(patterns)
	reader := retrieval.NewService(store.Studies(), store.Fields(), store.Data(), store.Roles(), checker)
	service := NewService(store.Studies(), store.Data(), store.IngestionLogs(), store.Roles(), reader, checker, opts...)
	return harness{store: store, service: service, study: study}
}

func (h harness) stored(t *testing.T) []domain.DataRecord {
	t.Helper()
	cache, _ := permission.NewPatternCache(4)
	roles, err := permission.NewChecker(cache).Compile([]domain.Role{{
		DataPermissions: []domain.DataPermission{{Fields: []string{"^.*$"}, IncludeUnversioned: true, Permission: domain.PermissionRead}},
	}})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	records, err := h.store.Data().Fetch(context.Background(), repository.DataQuery{
		StudyID:  h.study.ID,
		Versions: []*string{nil},
		Roles:    roles,
	})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	return records
}

func TestUploadData_ParsesEachDataType(t *testing.T) {
	h := newHarness(t)
	results, err := h.service.UploadData(context.Background(), "alice", h.study.ID, []DataInput{
		{FieldID: "age", Value: "42"},
		{FieldID: "weight", Value: "70.5"},
		{FieldID: "smoker", Value: "TRUE"},
		{FieldID: "visit", Value: "2024-03-01T09:30:00Z"},
		{FieldID: "sex", Value: "F"},
		{FieldID: "notes", Value: `{"a":[1,2]}`},
		{FieldID: "site", Value: "London", Properties: map[string]any{"participantId": "P17"}},
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	for _, r := range results {
		if !r.Successful {
			t.Fatalf("expected clip %d to succeed: %+v", r.Index, r)
		}
	}

	got := map[string]any{}
	for _, rec := range h.stored(t) {
		if rec.DataVersion != nil {
			t.Fatalf("uploaded records must be unversioned")
		}
		if rec.Life.CreatedUser != "alice" {
			t.Fatalf("expected created user alice, got %q", rec.Life.CreatedUser)
		}
		got[rec.FieldID] = rec.Value
	}
	if got["age"] != int64(42) || got["weight"] != 70.5 || got["smoker"] != true || got["sex"] != "F" || got["site"] != "London" {
		t.Fatalf("unexpected parsed values: %#v", got)
	}
	if got["visit"] != "2024-03-01T09:30:00Z" {
		t.Fatalf("unexpected datetime value: %#v", got["visit"])
	}
}

func TestUploadData_PartialFailureLedger(t *testing.T) {
	h := newHarness(t)
	results, err := h.service.UploadData(context.Background(), "alice", h.study.ID, []DataInput{
		{FieldID: "age", Value: "42"},
		{FieldID: "unknown", Value: "1"},
		{FieldID: "age", Value: "forty"},
		{FieldID: "age", Value: "200"},
		{FieldID: "smoker", Value: "yes"},
		{FieldID: "visit", Value: "01/03/2024"},
		{FieldID: "sex", Value: "X"},
		{FieldID: "site", Value: "London"},
		{FieldID: "site", Value: "London", Properties: map[string]any{"participantId": "Q1"}},
		{FieldID: "age", Value: "99999"},
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	type outcome struct {
		Successful bool
		Code       string
	}
	got := make([]outcome, len(results))
	for i, r := range results {
		if r.Index != i {
			t.Fatalf("result %d carries index %d", i, r.Index)
		}
		got[i] = outcome{r.Successful, r.Code}
	}
	want := []outcome{
		{true, ""},
		{false, CodeNonExistentEntry},
		{false, CodeMalformedInput},
		{false, CodeMalformedInput},
		{false, CodeMalformedInput},
		{false, CodeMalformedInput},
		{false, CodeMalformedInput},
		{false, CodeMalformedInput},
		{false, CodeMalformedInput},
		{true, ""},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected ledger (-want +got):\n%s", diff)
	}

	records := h.stored(t)
	if len(records) != 2 {
		t.Fatalf("expected 2 stored records, got %d", len(records))
	}
	if records[1].Value != domain.DefaultMissingValueRepresentation {
		t.Fatalf("missing value should be stored verbatim, got %#v", records[1].Value)
	}

	logs, err := h.store.IngestionLogs().List(context.Background(), h.study.ID, 100, 0)
	if err != nil {
		t.Fatalf("list logs: %v", err)
	}
	if len(logs) != 8 {
		t.Fatalf("expected 8 logged rejections, got %d", len(logs))
	}
}

func TestUploadData_RequiresWritePermission(t *testing.T) {
	h := newHarness(t)
	results, err := h.service.UploadData(context.Background(), "bob", h.study.ID, []DataInput{{FieldID: "age", Value: "42"}})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if len(results) != 1 || results[0].Successful || results[0].Code != CodeNoPermission {
		t.Fatalf("expected permission rejection, got %+v", results)
	}
	if len(h.stored(t)) != 0 {
		t.Fatalf("nothing should be stored")
	}
}

func TestUploadData_Errors(t *testing.T) {
	h := newHarness(t)
	if _, err := h.service.UploadData(context.Background(), "mallory", h.study.ID, nil); !errors.Is(err, retrieval.ErrNoPermission) {
		t.Fatalf("expected ErrNoPermission, got %v", err)
	}
	if _, err := h.service.UploadData(context.Background(), "alice", uuid.New(), nil); !errors.Is(err, retrieval.ErrStudyNotFound) {
		t.Fatalf("expected ErrStudyNotFound, got %v", err)
	}
}

type countingData struct {
	repository.DataRepository
	batches []int
}

func (c *countingData) InsertBatch(ctx context.Context, records []domain.DataRecord) error {
	c.batches = append(c.batches, len(records))
	return c.DataRepository.InsertBatch(ctx, records)
}

func TestUploadData_FlushesInBatches(t *testing.T) {
	h := newHarness(t)
	counting := &countingData{DataRepository: h.store.Data()}
	h.service.data = counting
	h.service.batchSize = 2

	inputs := make([]DataInput, 5)
	for i := range inputs {
		inputs[i] = DataInput{FieldID: "age", Value: "1"}
	}
	if _, err := h.service.UploadData(context.Background(), "alice", h.study.ID, inputs); err != nil {
		t.Fatalf("upload: %v", err)
	}
	if diff := cmp.Diff([]int{2, 2, 1}, counting.batches); diff != "" {
		t.Fatalf("unexpected batches (-want +got):\n%s", diff)
	}
}

func TestDeleteData_AppendsTombstone(t *testing.T) {
	h := newHarness(t)
	tick := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	h.service.now = func() time.Time {
		tick = tick.Add(time.Minute)
		return tick
	}
	ctx := context.Background()

	if _, err := h.service.UploadData(ctx, "alice", h.study.ID, []DataInput{{FieldID: "age", Value: "42"}}); err != nil {
		t.Fatalf("upload: %v", err)
	}
	if err := h.service.DeleteData(ctx, "bob", h.study.ID, "age", nil); !errors.Is(err, retrieval.ErrNoPermission) {
		t.Fatalf("expected ErrNoPermission for viewer, got %v", err)
	}
	if err := h.service.DeleteData(ctx, "alice", h.study.ID, "age", nil); err != nil {
		t.Fatalf("delete: %v", err)
	}

	records := h.stored(t)
	if len(records) != 2 {
		t.Fatalf("expected original record plus tombstone, got %d", len(records))
	}
	if records[0].Life.Deleted() {
		t.Fatalf("original record must not be modified")
	}
	tombstone := records[1]
	if !tombstone.Life.Deleted() || tombstone.Value != nil || tombstone.DataVersion != nil {
		t.Fatalf("unexpected tombstone %+v", tombstone)
	}
	if tombstone.Life.DeletedUser == nil || *tombstone.Life.DeletedUser != "alice" {
		t.Fatalf("expected deleted user alice")
	}
}

package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/rpattn/studyclips/internal/auth"
	"github.com/rpattn/studyclips/internal/cache"
	"github.com/rpattn/studyclips/internal/domain"
	"github.com/rpattn/studyclips/internal/ingestion"
	"github.com/rpattn/studyclips/internal/objectstore"
	"github.com/rpattn/studyclips/internal/permission"
	"github.com/rpattn/studyclips/internal/repository/memory"
	"github.com/rpattn/studyclips/internal/retrieval"
)

type testServer struct {
	handler http.Handler
	study   domain.Study
}

func newTestServer(t *testing.T) testServer {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()

	study, err := store.Studies().Create(ctx, domain.Study{Name: "cohort", CurrentDataVersion: -1})
	if err != nil {
		t.Fatalf("create study: %v", err)
	}
	if _, err := store.Roles().Create(ctx, domain.Role{
		StudyID: study.ID,
		Name:    "manager",
		Users:   []string{"alice"},
		DataPermissions: []domain.DataPermission{{
			Fields:             []string{"^.*$"},
			IncludeUnversioned: true,
			Permission:         domain.PermissionRead | domain.PermissionWrite | domain.PermissionDelete,
		}},
	}); err != nil {
		t.Fatalf("create role: %v", err)
	}
	if _, err := store.Fields().Create(ctx, domain.Field{StudyID: study.ID, FieldID: "age", DataType: domain.DataTypeInteger}); err != nil {
		t.Fatalf("create field: %v", err)
	}

	patterns, err := permission.NewPatternCache(16)
	if err != nil {
		t.Fatalf("pattern cache: %v", err)
	}
	checker := permission.NewChecker(patterns)
	c := cache.New(store.Cache(), objectstore.NewMemoryStore(), nil)
	reader := retrieval.NewService(store.Studies(), store.Fields(), store.Data(), store.Roles(), checker, retrieval.WithCache(c))
	writer := ingestion.NewService(store.Studies(), store.Data(), store.IngestionLogs(), store.Roles(), reader, checker)

	handler := NewHandler(Deps{
		Retrieval:      reader,
		Ingestion:      writer,
		Cache:          c,
		Roles:          store.Roles(),
		AllowedOrigins: []string{"http://localhost:3000"},
	})
	return testServer{handler: handler, study: study}
}

func (s testServer) do(t *testing.T, method, path, requester string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if requester != "" {
		req.Header.Set(auth.RequesterHeader, requester)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func rawValues(t *testing.T, rec *httptest.ResponseRecorder) []any {
	t.Helper()
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var payload map[string][]map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	var out []any
	for _, r := range payload["raw"] {
		out = append(out, r["value"])
	}
	return out
}

func TestUploadQueryDeleteRoundTrip(t *testing.T) {
	s := newTestServer(t)
	studyID := s.study.ID.String()

	upload := s.do(t, http.MethodPost, "/api/data/upload", "alice", map[string]any{
		"studyId": studyID,
		"data":    []map[string]any{{"fieldId": "age", "value": "42"}},
	})
	if upload.Code != http.StatusOK {
		t.Fatalf("upload: %d %s", upload.Code, upload.Body.String())
	}

	query := map[string]any{"studyId": studyID, "dataVersion": nil}
	got := rawValues(t, s.do(t, http.MethodPost, "/api/data/query", "alice", query))
	if len(got) != 1 || got[0] != float64(42) {
		t.Fatalf("unexpected values %v", got)
	}

	del := s.do(t, http.MethodPost, "/api/data/delete", "alice", map[string]any{"studyId": studyID, "fieldId": "age"})
	if del.Code != http.StatusOK {
		t.Fatalf("delete: %d %s", del.Code, del.Body.String())
	}
	if got := rawValues(t, s.do(t, http.MethodPost, "/api/data/query", "alice", query)); len(got) != 0 {
		t.Fatalf("expected deleted clip to disappear, got %v", got)
	}

	summary := s.do(t, http.MethodGet, "/api/data/summary?studyId="+studyID, "alice", nil)
	var counts domain.DataSummary
	if err := json.Unmarshal(summary.Body.Bytes(), &counts); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if counts.UnversionedCount != 2 || counts.AddedCount != 1 || counts.DeletedCount != 1 {
		t.Fatalf("unexpected summary %+v", counts)
	}
}

func TestQueryUsesCache(t *testing.T) {
	s := newTestServer(t)
	studyID := s.study.ID.String()
	s.do(t, http.MethodPost, "/api/data/upload", "alice", map[string]any{
		"studyId": studyID,
		"data":    []map[string]any{{"fieldId": "age", "value": "7"}},
	})

	query := map[string]any{"studyId": studyID, "dataVersion": nil, "useCache": true}
	first := s.do(t, http.MethodPost, "/api/data/query", "alice", query)
	var entry struct {
		Cache domain.CacheEntry `json:"cache"`
		Hit   bool              `json:"hit"`
	}
	if err := json.Unmarshal(first.Body.Bytes(), &entry); err != nil {
		t.Fatalf("decode cache response: %v", err)
	}
	if entry.Hit || entry.Cache.Status != domain.CacheStatusInUse {
		t.Fatalf("expected fresh in-use entry, got %+v", entry)
	}

	query["download"] = true
	got := rawValues(t, s.do(t, http.MethodPost, "/api/data/query", "alice", query))
	if len(got) != 1 || got[0] != float64(7) {
		t.Fatalf("unexpected artifact values %v", got)
	}
}

func TestQueryRunsNamedPipelines(t *testing.T) {
	s := newTestServer(t)
	studyID := s.study.ID.String()
	s.do(t, http.MethodPost, "/api/data/upload", "alice", map[string]any{
		"studyId": studyID,
		"data":    []map[string]any{{"fieldId": "age", "value": "30"}},
	})

	rec := s.do(t, http.MethodPost, "/api/data/query", "alice", map[string]any{
		"studyId":     studyID,
		"dataVersion": nil,
		"aggregation": map[string]any{
			"byField": []map[string]any{{"operationName": "GROUP", "params": map[string]any{"keys": []string{"fieldId"}}}},
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("query: %d %s", rec.Code, rec.Body.String())
	}
	var payload map[string][][]map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	groups := payload["byField"]
	if len(groups) != 1 || len(groups[0]) != 1 || groups[0][0]["value"] != float64(30) {
		t.Fatalf("expected one group holding the age clip, got %v", groups)
	}
}

func TestFieldsEndpoint(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/api/study/fields", "alice", map[string]any{"studyId": s.study.ID.String(), "dataVersion": nil})
	if rec.Code != http.StatusOK {
		t.Fatalf("fields: %d %s", rec.Code, rec.Body.String())
	}
	var fields []domain.Field
	if err := json.Unmarshal(rec.Body.Bytes(), &fields); err != nil {
		t.Fatalf("decode fields: %v", err)
	}
	if len(fields) != 1 || fields[0].FieldID != "age" {
		t.Fatalf("unexpected fields %+v", fields)
	}
}

func TestRequestRejections(t *testing.T) {
	s := newTestServer(t)
	studyID := s.study.ID.String()

	cases := []struct {
		name      string
		method    string
		path      string
		requester string
		body      any
		want      int
	}{
		{"anonymous", http.MethodPost, "/api/data/query", "", map[string]any{"studyId": studyID}, http.StatusUnauthorized},
		{"wrong method", http.MethodGet, "/api/data/query", "alice", nil, http.StatusMethodNotAllowed},
		{"bad study id", http.MethodPost, "/api/data/query", "alice", map[string]any{"studyId": "nope"}, http.StatusBadRequest},
		{"no role", http.MethodPost, "/api/data/query", "mallory", map[string]any{"studyId": studyID}, http.StatusForbidden},
		{"other study", http.MethodPost, "/api/data/query", "alice", map[string]any{"studyId": uuid.NewString()}, http.StatusForbidden},
		{"unknown operation", http.MethodPost, "/api/data/query", "alice", map[string]any{
			"studyId":     studyID,
			"aggregation": map[string]any{"x": []map[string]any{{"operationName": "Explode", "params": map[string]any{}}}},
		}, http.StatusBadRequest},
		{"delete without field", http.MethodPost, "/api/data/delete", "alice", map[string]any{"studyId": studyID}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := s.do(t, tc.method, tc.path, tc.requester, tc.body)
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestCORSAllowsConfiguredOrigin(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/data/query", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Fatalf("expected allowed origin header, got %q", got)
	}
}

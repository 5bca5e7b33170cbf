package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rpattn/studyclips/internal/auth"
	"github.com/rpattn/studyclips/internal/cache"
	"github.com/rpattn/studyclips/internal/domain"
	"github.com/rpattn/studyclips/internal/expression"
	"github.com/rpattn/studyclips/internal/ingestion"
	"github.com/rpattn/studyclips/internal/logger"
	"github.com/rpattn/studyclips/internal/objectstore"
	"github.com/rpattn/studyclips/internal/retrieval"
	"github.com/rpattn/studyclips/internal/transformations"
)

const maxBodyBytes = 4 << 20

type api struct {
	retrieval *retrieval.Service
	ingestion *ingestion.Service
	cache     *cache.Cache
	log       logger.Logger
}

// queryRequest is the body of /api/data/query. Download streams the cached
// artifact instead of describing the cache entry.
type queryRequest struct {
	StudyID     string                     `json:"studyId"`
	FieldIDs    []string                   `json:"fieldIds"`
	DataVersion retrieval.VersionSelector  `json:"dataVersion"`
	Aggregation map[string]json.RawMessage `json:"aggregation"`
	UseCache    bool                       `json:"useCache"`
	ForceUpdate bool                       `json:"forceUpdate"`
	Download    bool                       `json:"download"`
}

type deleteRequest struct {
	StudyID    string         `json:"studyId"`
	FieldID    string         `json:"fieldId"`
	Properties map[string]any `json:"properties"`
}

type fieldsRequest struct {
	StudyID     string                    `json:"studyId"`
	DataVersion retrieval.VersionSelector `json:"dataVersion"`
	FieldIDs    []string                  `json:"fieldIds"`
}

func (a *api) handleQuery(w http.ResponseWriter, r *http.Request) {
	requester, ok := a.begin(w, r, http.MethodPost)
	if !ok {
		return
	}
	var req queryRequest
	if !decodeBody(w, r, &req) {
		return
	}
	studyID, ok := parseStudyID(w, req.StudyID)
	if !ok {
		return
	}
	aggregation, err := decodeAggregation(req.Aggregation)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	resp, err := a.retrieval.GetData(r.Context(), retrieval.Request{
		Requester:    requester,
		StudyID:      studyID,
		FieldIDs:     req.FieldIDs,
		DataVersions: req.DataVersion,
		Aggregation:  aggregation,
		UseCache:     req.UseCache,
		ForceUpdate:  req.ForceUpdate,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}

	if resp.Cache == nil {
		writeJSON(w, http.StatusOK, resp.Data)
		return
	}
	if !req.Download || a.cache == nil {
		writeJSON(w, http.StatusOK, cacheResponse{Entry: resp.Cache.Entry, Hit: resp.Cache.Hit})
		return
	}

	artifact, err := a.cache.Load(r.Context(), resp.Cache.Entry)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	defer artifact.Close()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, artifact); err != nil {
		a.log.WarnWithContext(r.Context(), "failed to stream artifact", zap.Error(err))
	}
}

type cacheResponse struct {
	Entry domain.CacheEntry `json:"cache"`
	Hit   bool              `json:"hit"`
}

func (a *api) handleDelete(w http.ResponseWriter, r *http.Request) {
	requester, ok := a.begin(w, r, http.MethodPost)
	if !ok {
		return
	}
	var req deleteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	studyID, ok := parseStudyID(w, req.StudyID)
	if !ok {
		return
	}
	if strings.TrimSpace(req.FieldID) == "" {
		http.Error(w, "fieldId is required", http.StatusBadRequest)
		return
	}

	if err := a.ingestion.DeleteData(r.Context(), requester, studyID, req.FieldID, req.Properties); err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"successful": true})
}

func (a *api) handleFields(w http.ResponseWriter, r *http.Request) {
	requester, ok := a.begin(w, r, http.MethodPost)
	if !ok {
		return
	}
	var req fieldsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	studyID, ok := parseStudyID(w, req.StudyID)
	if !ok {
		return
	}

	fields, err := a.retrieval.StudyFields(r.Context(), requester, studyID, req.DataVersion, req.FieldIDs)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fields)
}

func (a *api) handleSummary(w http.ResponseWriter, r *http.Request) {
	requester, ok := a.begin(w, r, http.MethodGet)
	if !ok {
		return
	}
	studyID, ok := parseStudyID(w, r.URL.Query().Get("studyId"))
	if !ok {
		return
	}

	summary, err := a.retrieval.Summary(r.Context(), requester, studyID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// begin checks the method and the authenticated requester.
func (a *api) begin(w http.ResponseWriter, r *http.Request, method string) (string, bool) {
	if r.Method != method {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return "", false
	}
	requester, err := auth.RequireRequester(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return "", false
	}
	return requester, true
}

func (a *api) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		a.log.ErrorWithContext(r.Context(), "request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	http.Error(w, err.Error(), status)
}

// decodeAggregation decodes each named pipeline. A nil map stays nil so the
// query returns the raw versioned records.
func decodeAggregation(raw map[string]json.RawMessage) (map[string][]transformations.Step, error) {
	if raw == nil {
		return nil, nil
	}
	out := make(map[string][]transformations.Step, len(raw))
	for name, pipeline := range raw {
		steps, err := transformations.StepsFromJSON(pipeline)
		if err != nil {
			return nil, fmt.Errorf("invalid pipeline %q: %w", name, err)
		}
		out[name] = steps
	}
	return out, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return false
	}
	return true
}

func parseStudyID(w http.ResponseWriter, raw string) (uuid.UUID, bool) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid study id: %v", err), http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, retrieval.ErrNoPermission):
		return http.StatusForbidden
	case errors.Is(err, retrieval.ErrStudyNotFound), errors.Is(err, objectstore.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, transformations.ErrShapeMismatch),
		errors.Is(err, expression.ErrMalformedExpression),
		errors.Is(err, expression.ErrInvalidNodeType):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

package ingestion

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/rpattn/studyclips/internal/auth"
	"github.com/rpattn/studyclips/internal/retrieval"
)

const maxUploadBytes = 32 << 20

// Handler exposes data upload as an HTTP endpoint. It accepts either a JSON
// body {"studyId", "data": [...]} or a multipart form with studyId and a
// CSV/XLSX file.
type Handler struct {
	service *Service
}

// NewHTTPHandler wraps the service with a POST endpoint.
func NewHTTPHandler(service *Service) http.Handler {
	return &Handler{service: service}
}

type uploadRequest struct {
	StudyID string      `json:"studyId"`
	Data    []DataInput `json:"data"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	requester, err := auth.RequireRequester(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	var (
		studyRaw string
		inputs   []DataInput
	)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		studyRaw, inputs, err = readMultipart(r)
	} else {
		studyRaw, inputs, err = readJSON(r)
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	studyID, err := uuid.Parse(strings.TrimSpace(studyRaw))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid study id: %v", err), http.StatusBadRequest)
		return
	}

	results, err := h.service.UploadData(r.Context(), requester, studyID, inputs)
	if err != nil {
		http.Error(w, err.Error(), statusForError(err))
		return
	}

	writeJSON(w, http.StatusOK, results)
}

func readJSON(r *http.Request) (string, []DataInput, error) {
	var req uploadRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxUploadBytes)).Decode(&req); err != nil {
		return "", nil, fmt.Errorf("invalid request body: %w", err)
	}
	return req.StudyID, req.Data, nil
}

func readMultipart(r *http.Request) (string, []DataInput, error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return "", nil, fmt.Errorf("invalid form data: %w", err)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return "", nil, fmt.Errorf("file required: %w", err)
	}
	defer file.Close()

	payload, err := io.ReadAll(file)
	if err != nil {
		return "", nil, fmt.Errorf("failed to read file: %w", err)
	}
	inputs, err := ParseTable(header.Filename, payload)
	if err != nil {
		return "", nil, err
	}
	return r.FormValue("studyId"), inputs, nil
}

// statusForError maps service errors onto HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, retrieval.ErrNoPermission):
		return http.StatusForbidden
	case errors.Is(err, retrieval.ErrStudyNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON encodes payload with the given status.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}

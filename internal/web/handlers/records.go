package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/reunite/internal/constants"
	"github.com/kozaktomas/reunite/internal/database"
	"github.com/kozaktomas/reunite/internal/fingerprint"
	"github.com/kozaktomas/reunite/internal/registry"
	"github.com/kozaktomas/reunite/internal/web/middleware"
)

// EmbeddingExtractor turns an uploaded image into a face embedding.
type EmbeddingExtractor interface {
	ExtractEmbedding(ctx context.Context, image []byte) (fingerprint.Embedding, error)
}

// RecordsHandler handles missing person and sighting records.
type RecordsHandler struct {
	registry *registry.Registry
	faces    EmbeddingExtractor
}

// NewRecordsHandler creates a new records handler. faces may be nil, which disables image submission.
func NewRecordsHandler(reg *registry.Registry, faces EmbeddingExtractor) *RecordsHandler {
	return &RecordsHandler{
		registry: reg,
		faces:    faces,
	}
}

// RecordResponse is a record as returned by the API. The vector is never exposed.
type RecordResponse struct {
	ID          string     `json:"id"`
	Pool        string     `json:"pool"`
	Valid       bool       `json:"valid"`
	Lifecycle   string     `json:"lifecycle"`
	LinkedID    string     `json:"linked_id,omitempty"`
	Label       string     `json:"label,omitempty"`
	Location    string     `json:"location,omitempty"`
	SubmittedBy string     `json:"submitted_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
}

func toRecordResponse(rec *database.EmbeddingRecord) RecordResponse {
	return RecordResponse{
		ID:          rec.ID,
		Pool:        string(rec.Pool),
		Valid:       rec.Valid,
		Lifecycle:   string(rec.Lifecycle),
		LinkedID:    rec.LinkedID,
		Label:       rec.Label,
		Location:    rec.Location,
		SubmittedBy: rec.SubmittedBy,
		CreatedAt:   rec.CreatedAt,
		ResolvedAt:  rec.ResolvedAt,
	}
}

// SubmitRecordRequest is a record submitted together with its embedding.
type SubmitRecordRequest struct {
	Pool        string    `json:"pool"`
	Vector      []float32 `json:"vector"`
	Valid       *bool     `json:"valid,omitempty"` // Provider verdict, defaults to true
	Label       string    `json:"label"`
	Location    string    `json:"location"`
	SubmittedBy string    `json:"submitted_by"`
}

// submitBodyLimit bounds a JSON submission: dim encoded floats plus the descriptive fields.
func submitBodyLimit(dim int) int64 {
	return int64(dim)*constants.MaxFloatJSONBytes + constants.MaxRecordFieldsBytes
}

// Submit stores a record from a precomputed embedding.
func (h *RecordsHandler) Submit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, submitBodyLimit(h.registry.Dim()))

	var req SubmitRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	pool, err := database.ParsePool(req.Pool)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	valid := true
	if req.Valid != nil {
		valid = *req.Valid
	}

	rec, err := h.registry.SubmitRecord(r.Context(), registry.SubmitRequest{
		Pool:        pool,
		Vector:      req.Vector,
		Valid:       valid,
		Label:       req.Label,
		Location:    req.Location,
		SubmittedBy: req.SubmittedBy,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, toRecordResponse(rec))
}

// SubmitImage stores a record from an uploaded photo. The face embedding is
// extracted by the embedding server; a photo without a face is stored as invalid.
func (h *RecordsHandler) SubmitImage(w http.ResponseWriter, r *http.Request) {
	if h.faces == nil {
		respondError(w, http.StatusServiceUnavailable, "embedding provider not configured")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxUploadSize)
	if err := r.ParseMultipartForm(constants.MaxUploadSize); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}

	pool, err := database.ParsePool(r.FormValue("pool"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read file")
		return
	}

	emb, err := h.faces.ExtractEmbedding(r.Context(), data)
	if err != nil {
		respondError(w, http.StatusBadGateway, "embedding extraction failed: "+err.Error())
		return
	}

	rec, err := h.registry.SubmitRecord(r.Context(), registry.SubmitRequest{
		Pool:        pool,
		Vector:      emb.Vector,
		Valid:       emb.Valid,
		Label:       r.FormValue("label"),
		Location:    r.FormValue("location"),
		SubmittedBy: r.FormValue("submitted_by"),
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{
		"record":      toRecordResponse(rec),
		"faces_count": emb.FacesCount,
	})
}

// List returns records. Resolved records are only listed for operators asking for all=true.
func (h *RecordsHandler) List(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	pool, err := parseOptionalPool(query.Get("pool"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	limit, err := parseLimit(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	includeResolved := false
	if raw := query.Get("all"); raw != "" {
		includeResolved, err = strconv.ParseBool(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "all must be a boolean")
			return
		}
	}
	if includeResolved && !middleware.IsOperator(r.Context()) {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	recs, err := h.registry.ListRecords(r.Context(), database.RecordFilter{
		Pool:            pool,
		Query:           query.Get("q"),
		IncludeResolved: includeResolved,
		Limit:           limit,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}

	result := make([]RecordResponse, len(recs))
	for i := range recs {
		result[i] = toRecordResponse(&recs[i])
	}
	respondJSON(w, http.StatusOK, result)
}

// Get returns a single record. Resolved records are only visible to operators.
func (h *RecordsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "missing record ID")
		return
	}

	rec, err := h.registry.GetRecord(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if rec.Lifecycle == database.LifecycleResolved && !middleware.IsOperator(r.Context()) {
		respondServiceError(w, database.ErrNotFound)
		return
	}
	respondJSON(w, http.StatusOK, toRecordResponse(rec))
}

// Invalidate excludes a record from all future matching.
func (h *RecordsHandler) Invalidate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "missing record ID")
		return
	}

	if err := h.registry.InvalidateRecord(r.Context(), id); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"id": id, "invalidated": true})
}

package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/kozaktomas/reunite/internal/database"
	"github.com/kozaktomas/reunite/internal/registry"
)

// MatchesHandler handles candidate review and confirmation.
type MatchesHandler struct {
	registry *registry.Registry
}

// NewMatchesHandler creates a new matches handler.
func NewMatchesHandler(reg *registry.Registry) *MatchesHandler {
	return &MatchesHandler{registry: reg}
}

// CandidateResponse is a stored match candidate.
type CandidateResponse struct {
	MissingID  string    `json:"missing_id"`
	SightingID string    `json:"sighting_id"`
	Distance   float64   `json:"distance"`
	Confidence float64   `json:"confidence"`
	Tier       string    `json:"tier"`
	Reviewed   bool      `json:"reviewed"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// List returns stored candidates. Nothing is computed here.
func (h *MatchesHandler) List(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	pool, err := parseOptionalPool(query.Get("pool"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	var tier database.Tier
	if raw := query.Get("tier"); raw != "" {
		if tier, err = database.ParseTier(raw); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	limit, err := parseLimit(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	candidates, err := h.registry.ListMatches(r.Context(), database.CandidateFilter{
		Pool:     pool,
		RecordID: query.Get("record_id"),
		Tier:     tier,
		Limit:    limit,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}

	result := make([]CandidateResponse, len(candidates))
	for i, c := range candidates {
		result[i] = CandidateResponse{
			MissingID:  c.MissingID,
			SightingID: c.SightingID,
			Distance:   c.Distance,
			Confidence: c.Confidence,
			Tier:       string(c.Tier),
			Reviewed:   c.Reviewed,
			CreatedAt:  c.CreatedAt,
			UpdatedAt:  c.UpdatedAt,
		}
	}
	respondJSON(w, http.StatusOK, result)
}

// ConfirmRequest names the pair an operator confirms.
type ConfirmRequest struct {
	MissingID  string `json:"missing_id"`
	SightingID string `json:"sighting_id"`
}

// Confirm resolves both records of a candidate pair.
func (h *MatchesHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	var req ConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	if err := h.registry.ConfirmMatch(r.Context(), req.MissingID, req.SightingID); err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"missing_id":  req.MissingID,
		"sighting_id": req.SightingID,
		"confirmed":   true,
	})
}

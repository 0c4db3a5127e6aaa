package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kozaktomas/reunite/internal/database"
	"github.com/kozaktomas/reunite/internal/registry"
)

// RescanHandler handles full rescan jobs.
type RescanHandler struct {
	registry   *registry.Registry
	jobManager *JobManager
}

// NewRescanHandler creates a new rescan handler
func NewRescanHandler(reg *registry.Registry, jm *JobManager) *RescanHandler {
	return &RescanHandler{
		registry:   reg,
		jobManager: jm,
	}
}

// RescanRequest represents a rescan start request
type RescanRequest struct {
	Pool        string  `json:"pool"`
	MaxDistance float64 `json:"max_distance"` // Overrides the configured threshold when positive
}

// Start starts a new rescan job
func (h *RescanHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req RescanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	pool, err := database.ParsePool(req.Pool)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.MaxDistance < 0 || req.MaxDistance > 2 {
		respondError(w, http.StatusBadRequest, "max_distance must be within (0, 2]")
		return
	}

	jobID := uuid.New().String()
	job := h.jobManager.CreateJob(jobID, pool, req.MaxDistance)
	if job == nil {
		respondError(w, http.StatusConflict, fmt.Sprintf("a rescan of the %s pool is already running", pool))
		return
	}

	// The job must outlive the request.
	ctx, cancel := context.WithCancel(context.Background())
	job.setCancel(cancel)
	go h.runRescanJob(ctx, job)

	respondJSON(w, http.StatusAccepted, map[string]string{
		"job_id": jobID,
		"pool":   string(pool),
		"status": string(JobStatusPending),
	})
}

// Status returns the status of a rescan job
func (h *RescanHandler) Status(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	if jobID == "" {
		respondError(w, http.StatusBadRequest, "missing job ID")
		return
	}

	job := h.jobManager.GetJob(jobID)
	if job == nil {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}

	respondJSON(w, http.StatusOK, job.Snapshot())
}

// Events streams job events via SSE
func (h *RescanHandler) Events(w http.ResponseWriter, r *http.Request) {
	streamSSEEvents(w, r,
		func(id string) SSEJob {
			job := h.jobManager.GetJob(id)
			if job == nil {
				return nil
			}
			return job
		},
		func(job SSEJob) any {
			return job.(*RescanJob).Snapshot()
		},
	)
}

// Cancel cancels a rescan job
func (h *RescanHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	if jobID == "" {
		respondError(w, http.StatusBadRequest, "missing job ID")
		return
	}

	job := h.jobManager.GetJob(jobID)
	if job == nil {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}

	if isJobTerminal(job.GetStatus()) {
		respondError(w, http.StatusConflict, "job already finished")
		return
	}

	job.Cancel()
	respondJSON(w, http.StatusOK, map[string]bool{"cancelled": true})
}

// runRescanJob runs the rescan in the background
func (h *RescanHandler) runRescanJob(ctx context.Context, job *RescanJob) {
	defer job.Cancel()

	job.setStatus(JobStatusRunning)
	job.SendEvent(JobEvent{Type: "started", Message: fmt.Sprintf("Rescan of %s pool started", job.Pool)})

	progress := func(p registry.RescanProgress) {
		job.setProgress(p)
		job.SendEvent(JobEvent{Type: "progress", Data: p})
	}

	result, err := h.registry.RunFullRescan(ctx, job.Pool, job.MaxDistance, progress)
	if err != nil && ctx.Err() != nil {
		result = &registry.RescanResult{Pool: job.Pool, Cancelled: true}
		err = nil
	}
	if err != nil {
		slog.Error("rescan job failed", "job_id", job.ID, "pool", job.Pool, "error", err)
		job.finish(JobStatusFailed, nil, err.Error())
		job.SendEvent(JobEvent{Type: "job_error", Message: err.Error()})
		return
	}

	if result.Cancelled {
		job.finish(JobStatusCancelled, result, "")
		job.SendEvent(JobEvent{Type: "cancelled", Message: "Rescan cancelled", Data: result})
		return
	}

	job.finish(JobStatusCompleted, result, "")
	job.SendEvent(JobEvent{Type: "completed", Message: "Rescan completed", Data: result})
}

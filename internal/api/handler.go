// Package api provides the HTTP API handlers and routing for the bridge service.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"batchbridge/internal/apperrors"
	"batchbridge/internal/health"
	"batchbridge/internal/job"
)

// maxRequestBodySize limits request body to 1MB to prevent memory exhaustion
const maxRequestBodySize = 1 << 20 // 1 MB

// Backend is the adapter surface the API exposes.
type Backend interface {
	Submit(ctx context.Context, spec *job.Spec) (*job.Handle, error)
	Poll(ctx context.Context, jobID string) (job.StatusReport, error)
	Kill(ctx context.Context, jobID string) error
	Status(jobID string) (job.StatusReport, error)
	List() []job.StatusReport
}

// Handler contains HTTP handlers for the jobs API.
type Handler struct {
	backend Backend
	health  *health.Checker
}

// NewHandler creates a new API handler.
func NewHandler(backend Backend, healthChecker *health.Checker) *Handler {
	return &Handler{
		backend: backend,
		health:  healthChecker,
	}
}

// SubmitJob handles POST /v1/jobs. The submit call blocks through gate
// acquisition and one submission round-trip, so the request context drives
// cancellation for callers that give up waiting for a slot.
func (h *Handler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var spec job.Spec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	handle, err := h.backend.Submit(r.Context(), &spec)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusAccepted, handle)
}

// ListJobs handles GET /v1/jobs.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, job.ListReport{Jobs: h.backend.List()})
}

// GetJob handles GET /v1/jobs/{jobId} - the cached status, no scheduler
// round-trip.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobId")
	if jobID == "" {
		h.writeError(w, http.StatusBadRequest, "Job ID is required")
		return
	}

	report, err := h.backend.Status(jobID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, report)
}

// PollJob handles POST /v1/jobs/{jobId}/poll - one check-alive round-trip.
func (h *Handler) PollJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobId")
	if jobID == "" {
		h.writeError(w, http.StatusBadRequest, "Job ID is required")
		return
	}

	report, err := h.backend.Poll(r.Context(), jobID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, report)
}

// DeleteJob handles DELETE /v1/jobs/{jobId} - kills the job.
func (h *Handler) DeleteJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobId")
	if jobID == "" {
		h.writeError(w, http.StatusBadRequest, "Job ID is required")
		return
	}

	if err := h.backend.Kill(r.Context(), jobID); err != nil {
		h.handleError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Livez handles GET /livez - liveness probe.
func (h *Handler) Livez(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.health.Liveness(r.Context()))
}

// Readyz handles GET /readyz - readiness probe.
// Returns 503 if the runner backend is unavailable or shutdown began.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	response := h.health.Readiness(r.Context())

	status := http.StatusOK
	if !response.IsHealthy() {
		status = http.StatusServiceUnavailable
	}

	h.writeJSON(w, status, response)
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeError writes an error response
func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// handleError handles errors from the backend with appropriate HTTP status codes.
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	if status >= 500 {
		slog.Error("Backend error", "error", err, "path", r.URL.Path)
	} else {
		slog.Warn("Client error", "error", err, "path", r.URL.Path, "status", status)
	}
	h.writeError(w, status, err.Error())
}

package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/costwarden/costwarden/internal/infrastructure/http/middleware"
	"github.com/costwarden/costwarden/internal/infrastructure/http/response"
)

// ListDeadLetter lists dead-lettered jobs, newest first. Admin only.
func (h *JobHandler) ListDeadLetter(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		parsed, err := strconv.Atoi(s)
		if err != nil || parsed < 1 || parsed > 100 {
			response.ValidationError(w, "limit", "must be between 1 and 100")
			return
		}
		limit = parsed
	}

	list, err := h.store.ListDeadLetter(r.Context(), limit)
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.OK(w, map[string]any{"jobs": toJobResponses(list)})
}

// RetryDeadLetter returns a dead-lettered job to pending with a fresh retry
// budget. Admin only.
func (h *JobHandler) RetryDeadLetter(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.ValidationError(w, "id", "invalid job id")
		return
	}

	if err := h.store.RetryDeadLetter(r.Context(), jobID); err != nil {
		response.FromDomainError(w, r, err)
		return
	}

	slog.InfoContext(r.Context(), "dead letter job requeued via HTTP", "job_id", jobID)
	response.OK(w, map[string]any{"id": jobID, "status": "pending"})
}

// DiscardDeadLetter soft-deletes a dead-lettered job after review. Admin only.
func (h *JobHandler) DiscardDeadLetter(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.ValidationError(w, "id", "invalid job id")
		return
	}

	if err := h.store.DiscardDeadLetter(r.Context(), jobID); err != nil {
		response.FromDomainError(w, r, err)
		return
	}

	slog.InfoContext(r.Context(), "dead letter job discarded via HTTP", "job_id", jobID)
	response.NoContent(w)
}

// hardDeleteRequest is the body for the admin hard-delete endpoint.
type hardDeleteRequest struct {
	Reason string `json:"reason"`
}

// HardDelete destroys a job record and writes an audit row. Admin only; a
// reason is required.
func (h *JobHandler) HardDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		response.Unauthorized(w, "missing authentication")
		return
	}

	jobID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.ValidationError(w, "id", "invalid job id")
		return
	}

	var req hardDeleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if req.Reason == "" {
		response.ValidationError(w, "reason", "required field missing")
		return
	}

	deletedBy := "api_key:" + id.KeyID.String()
	if err := h.store.HardDelete(r.Context(), jobID, deletedBy, req.Reason); err != nil {
		response.FromDomainError(w, r, err)
		return
	}

	slog.InfoContext(r.Context(), "job hard-deleted via HTTP",
		"job_id", jobID, "deleted_by", deletedBy, "reason", req.Reason)
	response.NoContent(w)
}

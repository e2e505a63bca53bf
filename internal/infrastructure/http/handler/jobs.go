package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/costwarden/costwarden/internal/application/jobs"
	"github.com/costwarden/costwarden/internal/domain"
	"github.com/costwarden/costwarden/internal/infrastructure/http/middleware"
	"github.com/costwarden/costwarden/internal/infrastructure/http/response"
)

// enqueueRequest is the POST /v1/jobs request body.
type enqueueRequest struct {
	Type         domain.JobType `json:"type"`
	Payload      map[string]any `json:"payload,omitempty"`
	Priority     int            `json:"priority,omitempty"`
	ScheduledFor *time.Time     `json:"scheduled_for,omitempty"`
	DedupKey     *string        `json:"dedup_key,omitempty"`
	MaxAttempts  int            `json:"max_attempts,omitempty"`
}

// Enqueue inserts a new job for the caller's tenant. Members may only
// enqueue the user subset of job types; admins may enqueue any type.
func (h *JobHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		response.Unauthorized(w, "missing authentication")
		return
	}

	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}

	if !req.Type.Valid() {
		response.FromDomainError(w, r, domain.ErrInvalidJobType)
		return
	}
	if id.Role != domain.APIKeyRoleAdmin && !req.Type.UserEnqueueable() {
		slog.WarnContext(r.Context(), "enqueue refused: type not user enqueueable",
			"tenant_id", id.TenantID, "job_type", req.Type)
		response.Forbidden(w, "job type cannot be enqueued directly")
		return
	}

	tenantID := id.TenantID
	job, err := h.store.Enqueue(r.Context(), jobs.EnqueueParams{
		Type:         req.Type,
		TenantID:     &tenantID,
		Payload:      req.Payload,
		Priority:     req.Priority,
		ScheduledFor: req.ScheduledFor,
		DedupKey:     req.DedupKey,
		MaxAttempts:  req.MaxAttempts,
	})
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}

	slog.InfoContext(r.Context(), "job enqueued via HTTP",
		"job_id", job.ID, "job_type", job.Type, "tenant_id", tenantID)
	response.Created(w, toJobResponse(job))
}

// List returns the caller's jobs, filtered and ordered by query parameters.
func (h *JobHandler) List(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		response.Unauthorized(w, "missing authentication")
		return
	}

	params := domain.ListJobsParams{
		OrderBy:  r.URL.Query().Get("order_by"),
		OrderDir: r.URL.Query().Get("order_dir"),
		Limit:    50,
	}
	if s := r.URL.Query().Get("status"); s != "" {
		status := domain.JobStatus(s)
		params.Status = &status
	}
	if s := r.URL.Query().Get("limit"); s != "" {
		limit, err := strconv.Atoi(s)
		if err != nil {
			response.FromDomainError(w, r, domain.ErrInvalidLimit)
			return
		}
		params.Limit = limit
	}

	list, err := h.store.ListByTenant(r.Context(), id.TenantID, params)
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}

	response.OK(w, map[string]any{"jobs": toJobResponses(list)})
}

// StatusCounts returns the caller's non-deleted job counts by status.
func (h *JobHandler) StatusCounts(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		response.Unauthorized(w, "missing authentication")
		return
	}

	counts, err := h.store.CountByStatus(r.Context(), id.TenantID)
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.OK(w, counts)
}

// Cancel flags one of the caller's jobs for cancellation.
func (h *JobHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	job, ok := h.ownedJob(w, r)
	if !ok {
		return
	}

	if err := h.store.RequestCancel(r.Context(), job.ID); err != nil {
		response.FromDomainError(w, r, err)
		return
	}

	slog.InfoContext(r.Context(), "job cancellation requested via HTTP", "job_id", job.ID)
	response.Accepted(w, map[string]any{"id": job.ID, "cancel_requested": true})
}

// SoftDelete hides one of the caller's jobs from all listings.
func (h *JobHandler) SoftDelete(w http.ResponseWriter, r *http.Request) {
	job, ok := h.ownedJob(w, r)
	if !ok {
		return
	}

	if err := h.store.SoftDelete(r.Context(), job.ID); err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.NoContent(w)
}

// ownedJob resolves the {id} path parameter to a job owned by the caller's
// tenant. Jobs belonging to other tenants (or to the system) read as not
// found so ids never leak across tenants. Admins see every job.
func (h *JobHandler) ownedJob(w http.ResponseWriter, r *http.Request) (*domain.Job, bool) {
	id, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		response.Unauthorized(w, "missing authentication")
		return nil, false
	}

	jobID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.ValidationError(w, "id", "invalid job id")
		return nil, false
	}

	job, err := h.store.FindByID(r.Context(), jobID)
	if err != nil {
		response.FromDomainError(w, r, err)
		return nil, false
	}

	if id.Role != domain.APIKeyRoleAdmin {
		if job.TenantID == nil || *job.TenantID != id.TenantID {
			response.NotFound(w, "job")
			return nil, false
		}
	}
	return job, true
}

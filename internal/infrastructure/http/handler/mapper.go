package handler

import (
	"time"

	"github.com/google/uuid"

	"github.com/costwarden/costwarden/internal/domain"
)

// jobResponse is the wire representation of a job. Error messages are
// sanitized before leaving the system.
type jobResponse struct {
	ID           uuid.UUID      `json:"id"`
	Type         domain.JobType `json:"type"`
	TenantID     *uuid.UUID     `json:"tenant_id,omitempty"`
	Status       string         `json:"status"`
	Priority     int            `json:"priority"`
	DedupKey     *string        `json:"dedup_key,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
	Result       map[string]any `json:"result,omitempty"`
	Attempts     int            `json:"attempts"`
	MaxAttempts  int            `json:"max_attempts"`
	ScheduledFor time.Time      `json:"scheduled_for"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	Error        string         `json:"error,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

func toJobResponse(job *domain.Job) jobResponse {
	return jobResponse{
		ID:           job.ID,
		Type:         job.Type,
		TenantID:     job.TenantID,
		Status:       string(job.Status),
		Priority:     job.Priority,
		DedupKey:     job.DedupKey,
		Payload:      job.Payload,
		Result:       job.Result,
		Attempts:     job.Attempts,
		MaxAttempts:  job.MaxAttempts,
		ScheduledFor: job.ScheduledFor,
		StartedAt:    job.StartedAt,
		CompletedAt:  job.CompletedAt,
		Error:        job.SanitizedError(),
		CreatedAt:    job.CreatedAt,
	}
}

func toJobResponses(jobs []*domain.Job) []jobResponse {
	out := make([]jobResponse, len(jobs))
	for i, job := range jobs {
		out[i] = toJobResponse(job)
	}
	return out
}

package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// JobType identifies the handler a job is dispatched to. The set is closed:
// enqueue rejects unknown types.
type JobType string

const (
	JobTypeFinOpsAnalysis   JobType = "finops_analysis"
	JobTypeZombieScan       JobType = "zombie_scan"
	JobTypeZombieAnalysis   JobType = "zombie_analysis"
	JobTypeRemediation      JobType = "remediation"
	JobTypeWebhookRetry     JobType = "webhook_retry"
	JobTypeNotification     JobType = "notification"
	JobTypeCostIngestion    JobType = "cost_ingestion"
	JobTypeRecurringBilling JobType = "recurring_billing"
	JobTypeReportGeneration JobType = "report_generation"
	JobTypeCostForecast     JobType = "cost_forecast"
	JobTypeCostExport       JobType = "cost_export"
	JobTypeCostAggregation  JobType = "cost_aggregation"
	JobTypeDunning          JobType = "dunning"
)

// AllJobTypes lists every valid job type.
var AllJobTypes = []JobType{
	JobTypeFinOpsAnalysis,
	JobTypeZombieScan,
	JobTypeZombieAnalysis,
	JobTypeRemediation,
	JobTypeWebhookRetry,
	JobTypeNotification,
	JobTypeCostIngestion,
	JobTypeRecurringBilling,
	JobTypeReportGeneration,
	JobTypeCostForecast,
	JobTypeCostExport,
	JobTypeCostAggregation,
	JobTypeDunning,
}

// userEnqueueable is the subset of job types an authenticated tenant may
// enqueue directly. Everything else is system-only.
var userEnqueueable = map[JobType]bool{
	JobTypeFinOpsAnalysis: true,
	JobTypeZombieScan:     true,
	JobTypeNotification:   true,
}

// Valid reports whether t is a member of the closed job-type set.
func (t JobType) Valid() bool {
	for _, jt := range AllJobTypes {
		if t == jt {
			return true
		}
	}
	return false
}

// UserEnqueueable reports whether an authenticated tenant may enqueue this
// type directly via the API.
func (t JobType) UserEnqueueable() bool {
	return userEnqueueable[t]
}

// JobStatus is the queue lifecycle state of a job.
// Transitions are strictly pending -> running -> {completed | pending | dead_letter}.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusRunning    JobStatus = "running"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusDeadLetter JobStatus = "dead_letter"
)

// AllJobStatuses lists every job status, in lifecycle order.
var AllJobStatuses = []JobStatus{
	JobStatusPending,
	JobStatusRunning,
	JobStatusCompleted,
	JobStatusFailed,
	JobStatusDeadLetter,
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusCompleted, JobStatusFailed, JobStatusDeadLetter:
		return true
	}
	return false
}

// Terminal reports whether the status is final. Terminal jobs carry a
// completed_at timestamp and are never claimed again.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusDeadLetter
}

// DefaultMaxAttempts is the retry budget for jobs that do not override it.
const DefaultMaxAttempts = 3

// DefaultWebhookMaxAttempts is the retry budget for webhook_retry jobs
// (overridable via WEBHOOK_MAX_ATTEMPTS).
const DefaultWebhookMaxAttempts = 5

// Job is a persistent queue record. Mutated only by the processor during
// claim/complete/fail and by checkpoint writes from long-running handlers.
type Job struct {
	ID              uuid.UUID
	Type            JobType
	TenantID        *uuid.UUID // nil for system-wide jobs
	Status          JobStatus
	Priority        int     // higher runs earlier; 0 = normal
	DedupKey        *string // globally unique among non-deleted jobs
	Payload         map[string]any
	Result          map[string]any
	Attempts        int
	MaxAttempts     int
	ScheduledFor    time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
	ErrorMessage    *string
	CancelRequested bool
	CreatedAt       time.Time
	IsDeleted       bool
}

// Terminal reports whether the job reached a final state.
func (j *Job) Terminal() bool {
	return j.Status.Terminal()
}

// PriorityClass buckets the numeric priority for metric labels.
func (j *Job) PriorityClass() string {
	switch {
	case j.Priority > 0:
		return "high"
	case j.Priority < 0:
		return "low"
	default:
		return "normal"
	}
}

// SanitizedError returns the stored error message with internal detail
// stripped: everything after the first colon is dropped before the message
// leaves the system.
func (j *Job) SanitizedError() string {
	if j.ErrorMessage == nil {
		return ""
	}
	msg := *j.ErrorMessage
	if idx := strings.Index(msg, ":"); idx >= 0 {
		msg = msg[:idx]
	}
	return strings.TrimSpace(msg)
}

// Job list sort columns accepted by the admin surface.
const (
	JobOrderByCreatedAt    = "created_at"
	JobOrderByScheduledFor = "scheduled_for"
	JobOrderByStatus       = "status"
)

// ListJobsParams filters and orders a tenant's job listing.
type ListJobsParams struct {
	Status   *JobStatus
	OrderBy  string // created_at, scheduled_for, status (default created_at)
	OrderDir string // asc or desc (default desc)
	Limit    int    // 1..100
}

// Validate normalizes defaults and rejects out-of-range parameters.
func (p *ListJobsParams) Validate() error {
	if p.Status != nil && !p.Status.Valid() {
		return ErrInvalidJobStatus
	}
	switch p.OrderBy {
	case "":
		p.OrderBy = JobOrderByCreatedAt
	case JobOrderByCreatedAt, JobOrderByScheduledFor, JobOrderByStatus:
	default:
		return ErrInvalidOrderBy
	}
	switch strings.ToLower(p.OrderDir) {
	case "":
		p.OrderDir = "desc"
	case "asc", "desc":
		p.OrderDir = strings.ToLower(p.OrderDir)
	default:
		return ErrInvalidOrderBy
	}
	if p.Limit < 1 || p.Limit > 100 {
		return ErrInvalidLimit
	}
	return nil
}

// StatusCounts maps each status to the number of non-deleted jobs in it.
type StatusCounts map[JobStatus]int

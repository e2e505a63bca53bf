package jobs

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/costwarden/costwarden/internal/domain"
)

// EnqueueParams describes a job to insert. Zero values fall back to
// defaults: scheduled_for = now, max_attempts = 3 (5 for webhook_retry),
// priority = 0.
type EnqueueParams struct {
	Type         domain.JobType
	TenantID     *uuid.UUID
	Payload      map[string]any
	ScheduledFor *time.Time
	MaxAttempts  int
	Priority     int
	DedupKey     *string
}

// Store is the persistent job queue. It is the only shared mutable resource
// between workers; every mutation relies on row locks with skip-locked
// semantics so concurrent claimers partition the work.
type Store interface {
	// Enqueue inserts a new pending job. An unknown type fails with
	// domain.ErrInvalidJobType. When DedupKey collides with a live row the
	// existing row is returned unchanged and nothing is written.
	Enqueue(ctx context.Context, params EnqueueParams) (*domain.Job, error)

	// ClaimDue atomically claims up to limit due pending rows, ordered
	// priority DESC, scheduled_for ASC, id ASC. Claimed rows transition to
	// running with started_at set and attempts incremented; concurrent
	// callers never receive the same row.
	ClaimDue(ctx context.Context, limit int) ([]*domain.Job, error)

	// FindByID returns a job by id, including soft-deleted rows excluded.
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Job, error)

	// MarkCompleted records a successful terminal state with the handler's
	// result and clears error_message.
	MarkCompleted(ctx context.Context, id uuid.UUID, result map[string]any) error

	// ScheduleRetry returns a failed job to pending, scheduled delay from
	// now, recording errMsg.
	ScheduleRetry(ctx context.Context, id uuid.UUID, errMsg string, delay time.Duration) error

	// ScheduleCancelled returns a cancelled job to pending at now + delay
	// and refunds the attempt the claim consumed, so cancellation never
	// burns retry budget.
	ScheduleCancelled(ctx context.Context, id uuid.UUID, errMsg string, delay time.Duration) error

	// MarkDeadLetter records the terminal failure state with completed_at
	// set.
	MarkDeadLetter(ctx context.Context, id uuid.UUID, errMsg string) error

	// SaveCheckpoint merges a partial-progress value into the job's payload
	// under the given key, outside any handler transaction, so a crash
	// surfaces already-computed work to the next attempt.
	SaveCheckpoint(ctx context.Context, id uuid.UUID, key string, value any) error

	// RequestCancel flags a pending or running job for cancellation and
	// notifies workers. Terminal jobs fail with domain.ErrJobNotCancellable.
	RequestCancel(ctx context.Context, id uuid.UUID) error

	// SubscribeCancellations yields job ids whose cancellation was requested
	// while they were running. The channel closes when ctx is cancelled.
	SubscribeCancellations(ctx context.Context) (<-chan uuid.UUID, error)

	// ListByTenant returns the tenant's non-deleted jobs filtered and
	// ordered per params.
	ListByTenant(ctx context.Context, tenantID uuid.UUID, params domain.ListJobsParams) ([]*domain.Job, error)

	// CountByStatus partitions the tenant's non-deleted jobs by status.
	CountByStatus(ctx context.Context, tenantID uuid.UUID) (domain.StatusCounts, error)

	// SoftDelete hides a job from all queries without destroying the record.
	SoftDelete(ctx context.Context, id uuid.UUID) error

	// HardDelete destroys a job record and writes a job_delete_audit row in
	// the same transaction. This is the sole hard-delete code path.
	HardDelete(ctx context.Context, id uuid.UUID, deletedBy, reason string) error

	// ListDeadLetter returns up to limit dead-lettered jobs, newest first.
	ListDeadLetter(ctx context.Context, limit int) ([]*domain.Job, error)

	// RetryDeadLetter resets a dead-lettered job to pending with a fresh
	// retry budget.
	RetryDeadLetter(ctx context.Context, id uuid.UUID) error

	// DiscardDeadLetter soft-deletes a dead-lettered job after review.
	DiscardDeadLetter(ctx context.Context, id uuid.UUID) error

	// ReapStale returns running jobs whose claim is older than olderThan to
	// pending, recovering work lost to crashed workers.
	ReapStale(ctx context.Context, olderThan time.Duration) (int, error)

	// ArchiveTerminal soft-deletes terminal jobs completed before the
	// retention horizon. Reports how many rows were archived.
	ArchiveTerminal(ctx context.Context, retention time.Duration) (int, error)
}

// Enqueuer is the narrow enqueue-only view of the Store handed to
// collaborators that must schedule follow-up work.
type Enqueuer interface {
	Enqueue(ctx context.Context, params EnqueueParams) (*domain.Job, error)
}

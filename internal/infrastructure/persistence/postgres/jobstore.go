package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/costwarden/costwarden/internal/application/jobs"
	"github.com/costwarden/costwarden/internal/domain"
)

// cancellationChannel is the pg_notify channel carrying cancellation
// requests to workers with the job in flight.
const cancellationChannel = "job_cancellations"

// Enqueue inserts a pending job. A dedup-key collision with a live row is
// not an error: the existing row is returned and nothing is written.
func (s *Store) Enqueue(ctx context.Context, params jobs.EnqueueParams) (*domain.Job, error) {
	if !params.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidJobType, params.Type)
	}

	scheduledFor := time.Now().UTC()
	if params.ScheduledFor != nil {
		scheduledFor = params.ScheduledFor.UTC()
	}
	maxAttempts := params.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = domain.DefaultMaxAttempts
		if params.Type == domain.JobTypeWebhookRetry {
			maxAttempts = s.webhookMaxAttempts
		}
	}

	payload, err := marshalJSON(params.Payload)
	if err != nil {
		return nil, err
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO jobs (id, type, tenant_id, status, priority, dedup_key, payload, attempts, max_attempts, scheduled_for)
		VALUES ($1, $2, $3, 'pending', $4, $5, $6, 0, $7, $8)
		ON CONFLICT (dedup_key) WHERE dedup_key IS NOT NULL AND NOT is_deleted DO NOTHING
		RETURNING `+jobColumns,
		uuid.New(), params.Type, params.TenantID, params.Priority,
		params.DedupKey, payload, maxAttempts, scheduledFor)

	job, err := scanJob(row)
	if err == nil {
		s.enqueued.Add(ctx, 1, metric.WithAttributes(
			attribute.String("job_type", string(job.Type)),
			attribute.String("priority_class", job.PriorityClass())))
		return job, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, wrapError(fmt.Errorf("failed to enqueue job: %w", err))
	}

	// Dedup collision: fetch the surviving row.
	existing, err := scanJob(s.pool.QueryRow(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE dedup_key = $1 AND NOT is_deleted`, *params.DedupKey))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch deduplicated job: %w", err)
	}
	slog.DebugContext(ctx, "enqueue deduplicated onto existing job",
		"job_id", existing.ID, "dedup_key", *params.DedupKey)
	return existing, nil
}

// ClaimDue claims up to limit due pending jobs. Row locks with skip-locked
// semantics partition the queue between concurrent workers; no job is ever
// handed to two claimers. Jobs already at their retry budget are skipped:
// a final-attempt claim that the stale reaper returned to pending must not
// be claimed again with attempts past max_attempts.
func (s *Store) ClaimDue(ctx context.Context, limit int) ([]*domain.Job, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE jobs
		SET status = 'running', started_at = now(), attempts = attempts + 1
		WHERE id IN (
			SELECT id FROM jobs
			WHERE status = 'pending' AND scheduled_for <= now()
			  AND attempts < max_attempts AND NOT is_deleted
			ORDER BY priority DESC, scheduled_for ASC, id ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobColumns, limit)
	if err != nil {
		return nil, wrapError(fmt.Errorf("failed to claim due jobs: %w", err))
	}
	return collectJobs(rows)
}

// FindByID returns a non-deleted job by id.
func (s *Store) FindByID(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	job, err := scanJob(s.pool.QueryRow(ctx, `
		SELECT `+jobColumns+` FROM jobs WHERE id = $1 AND NOT is_deleted`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find job: %w", err)
	}
	return job, nil
}

// MarkCompleted records the successful terminal state.
func (s *Store) MarkCompleted(ctx context.Context, id uuid.UUID, result map[string]any) error {
	data, err := marshalJSON(result)
	if err != nil {
		return err
	}
	return s.updateOne(ctx, `
		UPDATE jobs
		SET status = 'completed', result = $2, completed_at = now(), error_message = NULL
		WHERE id = $1 AND NOT is_deleted`, id, data)
}

// ScheduleRetry returns a failed job to pending, due delay from now.
func (s *Store) ScheduleRetry(ctx context.Context, id uuid.UUID, errMsg string, delay time.Duration) error {
	return s.updateOne(ctx, `
		UPDATE jobs
		SET status = 'pending', scheduled_for = now() + $3, error_message = $2,
		    started_at = NULL
		WHERE id = $1 AND NOT is_deleted`, id, errMsg, delay)
}

// ScheduleCancelled reschedules a cancelled job and refunds the attempt the
// claim consumed, so cancellation never burns retry budget.
func (s *Store) ScheduleCancelled(ctx context.Context, id uuid.UUID, errMsg string, delay time.Duration) error {
	return s.updateOne(ctx, `
		UPDATE jobs
		SET status = 'pending', scheduled_for = now() + $3, error_message = $2,
		    started_at = NULL, cancel_requested = FALSE,
		    attempts = GREATEST(attempts - 1, 0)
		WHERE id = $1 AND NOT is_deleted`, id, errMsg, delay)
}

// MarkDeadLetter records the terminal failure state.
func (s *Store) MarkDeadLetter(ctx context.Context, id uuid.UUID, errMsg string) error {
	return s.updateOne(ctx, `
		UPDATE jobs
		SET status = 'dead_letter', completed_at = now(), error_message = $2
		WHERE id = $1 AND NOT is_deleted`, id, errMsg)
}

// SaveCheckpoint merges a progress value into the job's payload under key.
// Runs outside any handler transaction so the checkpoint survives a later
// rollback or crash.
func (s *Store) SaveCheckpoint(ctx context.Context, id uuid.UUID, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint value: %w", err)
	}
	return s.updateOne(ctx, `
		UPDATE jobs
		SET payload = COALESCE(payload, '{}'::jsonb) || jsonb_build_object($2::text, $3::jsonb)
		WHERE id = $1 AND NOT is_deleted`, id, key, data)
}

// RequestCancel flags a live job for cancellation and notifies workers via
// the cancellation channel. Terminal jobs are rejected.
func (s *Store) RequestCancel(ctx context.Context, id uuid.UUID) error {
	job, err := s.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if job.Terminal() {
		return domain.ErrJobNotCancellable
	}

	return s.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE jobs SET cancel_requested = TRUE
			WHERE id = $1 AND status IN ('pending', 'running') AND NOT is_deleted`, id)
		if err != nil {
			return fmt.Errorf("failed to flag cancellation: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrJobNotCancellable
		}
		// Wake workers that may have the job in flight. Delivered on commit.
		if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, cancellationChannel, id.String()); err != nil {
			return fmt.Errorf("failed to notify cancellation: %w", err)
		}
		return nil
	})
}

// SubscribeCancellations listens on the cancellation channel with a
// dedicated connection and yields the flagged job ids. The channel closes
// when ctx ends.
func (s *Store) SubscribeCancellations(ctx context.Context) (<-chan uuid.UUID, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire listener connection: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+cancellationChannel); err != nil {
		conn.Release()
		return nil, fmt.Errorf("failed to listen on cancellation channel: %w", err)
	}

	out := make(chan uuid.UUID)
	go func() {
		defer close(out)
		defer conn.Release()
		for {
			notification, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() == nil {
					slog.ErrorContext(ctx, "cancellation listener stopped", "error", err)
				}
				return
			}
			id, err := uuid.Parse(notification.Payload)
			if err != nil {
				slog.WarnContext(ctx, "ignoring malformed cancellation payload",
					"payload", notification.Payload)
				continue
			}
			select {
			case out <- id:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// ListByTenant returns the tenant's non-deleted jobs per the validated
// listing params. Sort column and direction come from a closed set, never
// from the caller's raw input.
func (s *Store) ListByTenant(ctx context.Context, tenantID uuid.UUID, params domain.ListJobsParams) ([]*domain.Job, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	query := `SELECT ` + jobColumns + ` FROM jobs WHERE tenant_id = $1 AND NOT is_deleted`
	args := []any{tenantID}
	if params.Status != nil {
		query += ` AND status = $2`
		args = append(args, *params.Status)
	}
	query += fmt.Sprintf(` ORDER BY %s %s, id ASC LIMIT %d`, params.OrderBy, params.OrderDir, params.Limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return collectJobs(rows)
}

// CountByStatus partitions the tenant's non-deleted jobs by status.
func (s *Store) CountByStatus(ctx context.Context, tenantID uuid.UUID) (domain.StatusCounts, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT status, COUNT(*) FROM jobs
		WHERE tenant_id = $1 AND NOT is_deleted
		GROUP BY status`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs by status: %w", err)
	}
	defer rows.Close()

	counts := make(domain.StatusCounts, len(domain.AllJobStatuses))
	for _, status := range domain.AllJobStatuses {
		counts[status] = 0
	}
	for rows.Next() {
		var status domain.JobStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate status counts: %w", err)
	}
	return counts, nil
}

// SoftDelete hides a job from every query without destroying the record.
func (s *Store) SoftDelete(ctx context.Context, id uuid.UUID) error {
	return s.updateOne(ctx, `
		UPDATE jobs SET is_deleted = TRUE WHERE id = $1 AND NOT is_deleted`, id)
}

// HardDelete destroys the record and writes the audit row in the same
// transaction. This is the only code path that issues DELETE on jobs.
func (s *Store) HardDelete(ctx context.Context, id uuid.UUID, deletedBy, reason string) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		job, err := scanJob(tx.QueryRow(ctx, `
			SELECT `+jobColumns+` FROM jobs WHERE id = $1 FOR UPDATE`, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrJobNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load job for deletion: %w", err)
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO job_delete_audit (id, job_id, job_type, tenant_id, job_status, deleted_by, reason)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			uuid.New(), job.ID, job.Type, job.TenantID, job.Status, deletedBy, reason); err != nil {
			return fmt.Errorf("failed to write delete audit: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, id); err != nil {
			return fmt.Errorf("failed to delete job: %w", err)
		}
		return nil
	})
}

// ListDeadLetter returns up to limit dead-lettered jobs, newest first.
func (s *Store) ListDeadLetter(ctx context.Context, limit int) ([]*domain.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status = 'dead_letter' AND NOT is_deleted
		ORDER BY completed_at DESC, id ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letter jobs: %w", err)
	}
	return collectJobs(rows)
}

// RetryDeadLetter resets a dead-lettered job to pending with a fresh retry
// budget.
func (s *Store) RetryDeadLetter(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = 'pending', attempts = 0, error_message = NULL,
		    scheduled_for = now(), started_at = NULL, completed_at = NULL
		WHERE id = $1 AND status = 'dead_letter' AND NOT is_deleted`, id)
	if err != nil {
		return fmt.Errorf("failed to retry dead letter job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.deadLetterMiss(ctx, id)
	}
	return nil
}

// DiscardDeadLetter soft-deletes a dead-lettered job after review.
func (s *Store) DiscardDeadLetter(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET is_deleted = TRUE
		WHERE id = $1 AND status = 'dead_letter' AND NOT is_deleted`, id)
	if err != nil {
		return fmt.Errorf("failed to discard dead letter job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.deadLetterMiss(ctx, id)
	}
	return nil
}

// deadLetterMiss distinguishes "no such job" from "job exists but is not
// dead-lettered" after a zero-row dead letter update.
func (s *Store) deadLetterMiss(ctx context.Context, id uuid.UUID) error {
	if _, err := s.FindByID(ctx, id); err != nil {
		return err
	}
	return domain.ErrJobNotDeadLetter
}

// ReapStale recovers running jobs with stale claims. Attempts are not
// refunded: a claim lost to a crash spent a real attempt. Jobs with retry
// budget left return to pending; jobs whose stale claim was the final
// attempt go to the dead letter queue, since the claim guard would never
// pick them up again.
func (s *Store) ReapStale(ctx context.Context, olderThan time.Duration) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = CASE WHEN attempts < max_attempts THEN 'pending' ELSE 'dead_letter' END,
		    started_at = NULL,
		    completed_at = CASE WHEN attempts < max_attempts THEN completed_at ELSE now() END,
		    error_message = CASE WHEN attempts < max_attempts THEN error_message
		                         ELSE 'Claim went stale on the final attempt' END
		WHERE status = 'running' AND started_at < now() - $1 AND NOT is_deleted`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to reap stale jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ArchiveTerminal soft-deletes terminal jobs completed before the retention
// horizon.
func (s *Store) ArchiveTerminal(ctx context.Context, retention time.Duration) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET is_deleted = TRUE
		WHERE status IN ('completed', 'dead_letter')
		  AND completed_at < now() - $1 AND NOT is_deleted`, retention)
	if err != nil {
		return 0, fmt.Errorf("failed to archive terminal jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// updateOne runs a single-row update and maps zero rows to ErrJobNotFound.
func (s *Store) updateOne(ctx context.Context, sql string, id uuid.UUID, args ...any) error {
	tag, err := s.pool.Exec(ctx, sql, append([]any{id}, args...)...)
	if err != nil {
		return wrapError(fmt.Errorf("failed to update job: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

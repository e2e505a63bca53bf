package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/costwarden/costwarden/internal/application/jobs"
	"github.com/costwarden/costwarden/internal/application/scheduler"
	"github.com/costwarden/costwarden/internal/domain"
)

// Store is the PostgreSQL implementation of every persistence contract in
// the system: the job queue, the scheduler sweeps, API key auth and the
// tenant-scoped data stores the handlers consume.
//
// Queue and sweep methods run on the pool directly; tenant-scoped methods
// take the caller's Session so they execute under the job's row-level
// security context and inside the handler transaction.
type Store struct {
	pool *pgxpool.Pool

	// webhookMaxAttempts is the enqueue-time retry budget for webhook
	// retry jobs that do not set one explicitly. Deployments override it
	// through SetWebhookMaxAttempts.
	webhookMaxAttempts int

	enqueued metric.Int64Counter
}

// Compile-time verification that Store satisfies its consumers.
var (
	_ jobs.Store             = (*Store)(nil)
	_ scheduler.Store        = (*Store)(nil)
	_ jobs.TenantReader      = (*Store)(nil)
	_ jobs.ConnectionReader  = (*Store)(nil)
	_ jobs.CostStore         = (*Store)(nil)
	_ jobs.AnalysisStore     = (*Store)(nil)
	_ jobs.RemediationStore  = (*Store)(nil)
	_ jobs.SubscriptionStore = (*Store)(nil)
)

// NewStore creates the composed store over an existing pool.
func NewStore(pool *pgxpool.Pool) *Store {
	enqueued, _ := otel.Meter("costwarden.jobs").Int64Counter("jobs.enqueued",
		metric.WithDescription("Jobs inserted into the queue, labeled by job_type and priority_class"))
	return &Store{
		pool:               pool,
		webhookMaxAttempts: domain.DefaultWebhookMaxAttempts,
		enqueued:           enqueued,
	}
}

// SetWebhookMaxAttempts overrides the default retry budget applied to
// webhook retry jobs enqueued without an explicit one. Values below one are
// ignored.
func (s *Store) SetWebhookMaxAttempts(n int) {
	if n >= 1 {
		s.webhookMaxAttempts = n
	}
}

// Pool returns the underlying connection pool, for health probes and
// session acquisition.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Close closes the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// inTx runs fn inside a pool-level transaction with rollback on error and
// deadlock-code wrapping, so callers can retry on domain.ErrDeadlockDetected.
func (s *Store) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		// No-op after commit.
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return wrapError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapError(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

// marshalJSON encodes a map for a jsonb parameter; nil maps become the empty
// object so payload merge operators never see SQL NULL.
func marshalJSON(m map[string]any) ([]byte, error) {
	if m == nil {
		m = map[string]any{}
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal json column: %w", err)
	}
	return data, nil
}

// unmarshalJSON decodes a jsonb column; NULL yields a nil map.
func unmarshalJSON(data []byte) (map[string]any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal json column: %w", err)
	}
	return m, nil
}

// jobColumns is the canonical select list for job rows, matched by scanJob.
const jobColumns = `id, type, tenant_id, status, priority, dedup_key, payload, result,
	attempts, max_attempts, scheduled_for, started_at, completed_at,
	error_message, cancel_requested, created_at, is_deleted`

// scanJob reads one job row in jobColumns order.
func scanJob(row pgx.Row) (*domain.Job, error) {
	var (
		j               domain.Job
		payload, result []byte
	)
	err := row.Scan(
		&j.ID, &j.Type, &j.TenantID, &j.Status, &j.Priority, &j.DedupKey,
		&payload, &result, &j.Attempts, &j.MaxAttempts, &j.ScheduledFor,
		&j.StartedAt, &j.CompletedAt, &j.ErrorMessage, &j.CancelRequested,
		&j.CreatedAt, &j.IsDeleted,
	)
	if err != nil {
		return nil, err
	}
	if j.Payload, err = unmarshalJSON(payload); err != nil {
		return nil, err
	}
	if j.Result, err = unmarshalJSON(result); err != nil {
		return nil, err
	}
	return &j, nil
}

// collectJobs drains rows into job records.
func collectJobs(rows pgx.Rows) ([]*domain.Job, error) {
	defer rows.Close()
	var out []*domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job row: %w", err)
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate job rows: %w", err)
	}
	return out, nil
}

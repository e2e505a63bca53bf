package postgres

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/costwarden/costwarden/internal/application/scheduler"
	"github.com/costwarden/costwarden/internal/domain"
)

// EnqueueCohortBundle inserts the job bundle for every active tenant in the
// cohort inside one transaction: either every tenant's jobs land or none do.
// Tenant rows are locked with skip-locked semantics so concurrent replicas
// that raced past the advisory lease partition the cohort instead of
// colliding; the deterministic dedup keys absorb whatever overlap remains.
func (s *Store) EnqueueCohortBundle(ctx context.Context, cohort domain.Cohort, bucket time.Time, types []domain.JobType) (int, error) {
	tiers := cohort.Tiers()
	if len(tiers) == 0 {
		return 0, fmt.Errorf("unknown cohort %q", cohort)
	}
	tierNames := make([]string, len(tiers))
	for i, t := range tiers {
		tierNames[i] = string(t)
	}

	created := 0
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT id FROM tenants
			WHERE tier = ANY($1) AND status = 'active'
			ORDER BY id
			FOR UPDATE SKIP LOCKED`, tierNames)
		if err != nil {
			return fmt.Errorf("failed to select cohort tenants: %w", err)
		}
		tenantIDs, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
		if err != nil {
			return fmt.Errorf("failed to collect cohort tenants: %w", err)
		}

		for _, tenantID := range tenantIDs {
			for _, jobType := range types {
				dedupKey := scheduler.DedupKey(tenantID, jobType, bucket)
				tag, err := tx.Exec(ctx, `
					INSERT INTO jobs (id, type, tenant_id, status, priority, dedup_key, payload, attempts, max_attempts, scheduled_for)
					VALUES ($1, $2, $3, 'pending', 0, $4, '{}'::jsonb, 0, $5, $6)
					ON CONFLICT (dedup_key) WHERE dedup_key IS NOT NULL AND NOT is_deleted DO NOTHING`,
					uuid.New(), jobType, tenantID, dedupKey, domain.DefaultMaxAttempts, bucket)
				if err != nil {
					return fmt.Errorf("failed to enqueue %s for tenant %s: %w", jobType, tenantID, err)
				}
				created += int(tag.RowsAffected())
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return created, nil
}

// EnqueueDueBilling inserts one recurring_billing job per active
// subscription whose renewal is due and which holds a charge authorization.
func (s *Store) EnqueueDueBilling(ctx context.Context, dayBucket time.Time) (int, error) {
	created := 0
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT id, tenant_id FROM subscriptions
			WHERE status = 'active'
			  AND next_payment_date <= now()
			  AND authorization_token IS NOT NULL
			ORDER BY id
			FOR UPDATE SKIP LOCKED`)
		if err != nil {
			return fmt.Errorf("failed to select due subscriptions: %w", err)
		}
		type due struct {
			ID       uuid.UUID
			TenantID uuid.UUID
		}
		dues, err := pgx.CollectRows(rows, pgx.RowToStructByPos[due])
		if err != nil {
			return fmt.Errorf("failed to collect due subscriptions: %w", err)
		}

		for _, d := range dues {
			dedupKey := scheduler.DedupKey(d.TenantID, domain.JobTypeRecurringBilling, dayBucket)
			tag, err := tx.Exec(ctx, `
				INSERT INTO jobs (id, type, tenant_id, status, priority, dedup_key, payload, attempts, max_attempts, scheduled_for)
				VALUES ($1, $2, $3, 'pending', 0, $4, jsonb_build_object('subscription_id', $5::text), 0, $6, now())
				ON CONFLICT (dedup_key) WHERE dedup_key IS NOT NULL AND NOT is_deleted DO NOTHING`,
				uuid.New(), domain.JobTypeRecurringBilling, d.TenantID, dedupKey,
				d.ID.String(), domain.DefaultMaxAttempts)
			if err != nil {
				return fmt.Errorf("failed to enqueue billing for subscription %s: %w", d.ID, err)
			}
			created += int(tag.RowsAffected())
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return created, nil
}

// EnqueueRemediationSweep inserts one remediation job per active tenant with
// remediation enabled.
func (s *Store) EnqueueRemediationSweep(ctx context.Context, bucket time.Time) (int, error) {
	created := 0
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT id FROM tenants
			WHERE status = 'active' AND remediation_mode IN ('plan', 'execute')
			ORDER BY id
			FOR UPDATE SKIP LOCKED`)
		if err != nil {
			return fmt.Errorf("failed to select remediation tenants: %w", err)
		}
		tenantIDs, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
		if err != nil {
			return fmt.Errorf("failed to collect remediation tenants: %w", err)
		}

		for _, tenantID := range tenantIDs {
			dedupKey := scheduler.DedupKey(tenantID, domain.JobTypeRemediation, bucket)
			tag, err := tx.Exec(ctx, `
				INSERT INTO jobs (id, type, tenant_id, status, priority, dedup_key, payload, attempts, max_attempts, scheduled_for)
				VALUES ($1, $2, $3, 'pending', 0, $4, '{}'::jsonb, 0, $5, now())
				ON CONFLICT (dedup_key) WHERE dedup_key IS NOT NULL AND NOT is_deleted DO NOTHING`,
				uuid.New(), domain.JobTypeRemediation, tenantID, dedupKey, domain.DefaultMaxAttempts)
			if err != nil {
				return fmt.Errorf("failed to enqueue remediation for tenant %s: %w", tenantID, err)
			}
			created += int(tag.RowsAffected())
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return created, nil
}

// TryAcquireSweepLease takes the session-level advisory lock for a named
// sweep on a dedicated connection. release unlocks and returns the
// connection; it must be called when acquired is true.
func (s *Store) TryAcquireSweepLease(ctx context.Context, name string) (func(), bool, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lease connection: %w", err)
	}

	key := advisoryKey(name)
	var acquired bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("failed to acquire sweep lease %q: %w", name, err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	release := func() {
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := conn.Exec(unlockCtx, `SELECT pg_advisory_unlock($1)`, key); err != nil {
			slog.ErrorContext(unlockCtx, "failed to release sweep lease", "sweep", name, "error", err)
		}
		conn.Release()
	}
	return release, true, nil
}

// advisoryKey folds a sweep name onto the bigint keyspace of Postgres
// advisory locks.
func advisoryKey(name string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte("costwarden:sweep:" + name))
	return int64(h.Sum64())
}

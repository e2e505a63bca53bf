package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/costwarden/costwarden/internal/domain"
)

// Cron cadences, all UTC.
const (
	cronHighValue   = "0 */6 * * *" // every 6 hours on the hour
	cronActive      = "0 2 * * *"   // daily at 02:00
	cronDormant     = "0 3 * * 0"   // Sunday 03:00
	cronRemediation = "0 20 * * 5"  // Friday 20:00
	cronBilling     = "0 4 * * *"   // daily at 04:00
	cronMaintenance = "*/5 * * * *" // stale reaper
	cronArchive     = "30 1 * * *"  // daily terminal-job archival
)

// Maintenance horizons.
const (
	staleRunningAfter = 15 * time.Minute
	terminalRetention = 90 * 24 * time.Hour
)

// cohortBundle is the standard job set enqueued per tenant per trigger.
var cohortBundle = []domain.JobType{
	domain.JobTypeFinOpsAnalysis,
	domain.JobTypeZombieScan,
	domain.JobTypeCostIngestion,
}

// Store is the scheduler's persistence contract. Cohort and sweep enqueues
// run in a single transaction on the store side: tenant selection locks rows
// with skip-locked semantics so concurrent replicas partition the work, and
// inserts are conflict-ignoring on the deterministic dedup key.
type Store interface {
	EnqueueCohortBundle(ctx context.Context, cohort domain.Cohort, bucket time.Time, types []domain.JobType) (created int, err error)
	EnqueueDueBilling(ctx context.Context, dayBucket time.Time) (created int, err error)
	EnqueueRemediationSweep(ctx context.Context, bucket time.Time) (created int, err error)

	// TryAcquireSweepLease takes the advisory lease for a named sweep.
	// acquired=false means another replica is running it, which is normal.
	TryAcquireSweepLease(ctx context.Context, name string) (release func(), acquired bool, err error)

	ReapStale(ctx context.Context, olderThan time.Duration) (int, error)
	ArchiveTerminal(ctx context.Context, retention time.Duration) (int, error)
}

// Scheduler fires the cohort, billing, remediation and maintenance sweeps
// on their cron cadences. It is replica-safe twice over: the advisory lease
// skips duplicate firing, and deterministic dedup keys make any overlap a
// no-op anyway.
type Scheduler struct {
	store Store
	cron  *cron.Cron

	opTimeout time.Duration

	deadlocks metric.Int64Counter
	enqueued  metric.Int64Counter
}

// New creates a scheduler. Start registers the cron entries and begins
// firing them.
func New(store Store) *Scheduler {
	meter := otel.Meter("costwarden.scheduler")
	deadlocks, _ := meter.Int64Counter("scheduler.deadlocks",
		metric.WithDescription("Deadlocks detected during cohort enqueue, labeled by cohort"))
	enqueued, _ := meter.Int64Counter("scheduler.enqueued",
		metric.WithDescription("Jobs created by scheduled sweeps, labeled by sweep"))

	return &Scheduler{
		store:     store,
		cron:      cron.New(cron.WithLocation(time.UTC)),
		opTimeout: 5 * time.Minute,
		deadlocks: deadlocks,
		enqueued:  enqueued,
	}
}

// Start registers every sweep and runs the cron loop until ctx is
// cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	sweeps := []struct {
		spec string
		name string
		run  func(context.Context) error
	}{
		{cronHighValue, "cohort_high_value", func(ctx context.Context) error {
			return s.RunCohortOnce(ctx, domain.CohortHighValue, time.Now().UTC())
		}},
		{cronActive, "cohort_active", func(ctx context.Context) error {
			return s.RunCohortOnce(ctx, domain.CohortActive, time.Now().UTC())
		}},
		{cronDormant, "cohort_dormant", func(ctx context.Context) error {
			return s.RunCohortOnce(ctx, domain.CohortDormant, time.Now().UTC())
		}},
		{cronRemediation, "remediation_sweep", s.RunRemediationSweep},
		{cronBilling, "billing_sweep", s.RunBillingSweep},
		{cronMaintenance, "maintenance_reap", s.RunStaleReap},
		{cronArchive, "maintenance_archive", s.RunArchive},
	}

	for _, sweep := range sweeps {
		if _, err := s.cron.AddFunc(sweep.spec, s.leased(ctx, sweep.name, sweep.run)); err != nil {
			return fmt.Errorf("failed to register sweep %s: %w", sweep.name, err)
		}
	}

	s.cron.Start()
	slog.InfoContext(ctx, "cohort scheduler started", "sweeps", len(sweeps))

	<-ctx.Done()
	stopCtx := s.cron.Stop()
	<-stopCtx.Done() // wait for in-flight sweeps
	slog.InfoContext(ctx, "cohort scheduler stopped gracefully")
	return nil
}

// leased wraps a sweep with the advisory lease, a per-invocation correlation
// id and an operation timeout. Sweep failures never propagate to cron; they
// are logged and counted.
func (s *Scheduler) leased(parent context.Context, name string, run func(context.Context) error) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), s.opTimeout)
		defer cancel()

		correlationID := uuid.NewString()
		logger := slog.With("sweep", name, "correlation_id", correlationID)

		release, acquired, err := s.store.TryAcquireSweepLease(ctx, name)
		if err != nil {
			logger.ErrorContext(ctx, "failed to acquire sweep lease", "error", err)
			return
		}
		if !acquired {
			logger.InfoContext(ctx, "sweep lease held by another replica, skipping")
			return
		}
		defer release()

		ctx = contextWithCorrelation(ctx, correlationID)
		if err := run(ctx); err != nil {
			logger.ErrorContext(ctx, "sweep failed", "error", err)
			return
		}
	}
}

// RunCohortOnce enqueues the standard bundle for every tenant in the cohort,
// atomically, retrying deadlocks up to 3 times with 1s/2s/4s backoff.
func (s *Scheduler) RunCohortOnce(ctx context.Context, cohort domain.Cohort, now time.Time) error {
	bucket := Bucket(cohort, now)
	logger := slog.With("cohort", cohort, "bucket", bucket.Format(bucketLayout),
		"correlation_id", correlationFrom(ctx))

	created, err := retry.DoWithData(
		func() (int, error) {
			return s.store.EnqueueCohortBundle(ctx, cohort, bucket, cohortBundle)
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, domain.ErrDeadlockDetected)
		}),
		retry.OnRetry(func(n uint, err error) {
			s.deadlocks.Add(ctx, 1, metric.WithAttributes(attribute.String("cohort", string(cohort))))
			logger.WarnContext(ctx, "deadlock during cohort enqueue, retrying",
				"attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return fmt.Errorf("cohort %s enqueue failed: %w", cohort, err)
	}

	s.enqueued.Add(ctx, int64(created), metric.WithAttributes(attribute.String("sweep", "cohort_"+string(cohort))))
	logger.InfoContext(ctx, "cohort sweep completed", "jobs_created", created)
	return nil
}

// RunBillingSweep enqueues one recurring_billing job per subscription due
// for renewal with a stored charge authorization.
func (s *Scheduler) RunBillingSweep(ctx context.Context) error {
	bucket := DayBucket(time.Now().UTC())
	created, err := s.store.EnqueueDueBilling(ctx, bucket)
	if err != nil {
		return fmt.Errorf("billing sweep failed: %w", err)
	}
	s.enqueued.Add(ctx, int64(created), metric.WithAttributes(attribute.String("sweep", "billing")))
	slog.InfoContext(ctx, "billing sweep completed",
		"jobs_created", created, "correlation_id", correlationFrom(ctx))
	return nil
}

// RunRemediationSweep enqueues a remediation job per tenant with remediation
// enabled.
func (s *Scheduler) RunRemediationSweep(ctx context.Context) error {
	bucket := DayBucket(time.Now().UTC())
	created, err := s.store.EnqueueRemediationSweep(ctx, bucket)
	if err != nil {
		return fmt.Errorf("remediation sweep failed: %w", err)
	}
	s.enqueued.Add(ctx, int64(created), metric.WithAttributes(attribute.String("sweep", "remediation")))
	slog.InfoContext(ctx, "remediation sweep completed",
		"jobs_created", created, "correlation_id", correlationFrom(ctx))
	return nil
}

// RunStaleReap returns running jobs abandoned by crashed workers to pending.
func (s *Scheduler) RunStaleReap(ctx context.Context) error {
	reaped, err := s.store.ReapStale(ctx, staleRunningAfter)
	if err != nil {
		return fmt.Errorf("stale reap failed: %w", err)
	}
	if reaped > 0 {
		slog.WarnContext(ctx, "reaped stale running jobs",
			"count", reaped, "older_than", staleRunningAfter,
			"correlation_id", correlationFrom(ctx))
	}
	return nil
}

// RunArchive soft-deletes terminal jobs past the retention horizon.
func (s *Scheduler) RunArchive(ctx context.Context) error {
	archived, err := s.store.ArchiveTerminal(ctx, terminalRetention)
	if err != nil {
		return fmt.Errorf("terminal archive failed: %w", err)
	}
	if archived > 0 {
		slog.InfoContext(ctx, "archived terminal jobs",
			"count", archived, "retention", terminalRetention,
			"correlation_id", correlationFrom(ctx))
	}
	return nil
}

// === Correlation id plumbing ===

type correlationKey struct{}

func contextWithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

func correlationFrom(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/costwarden/costwarden/internal/application/scheduler"
	"github.com/costwarden/costwarden/internal/domain"
)

func TestEnqueueCohortBundle_OnePerTenantPerType(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	growthA := seedTenant(t, store, domain.TierGrowth)
	growthB := seedTenant(t, store, domain.TierGrowth)
	seedTenantStatus(t, store, domain.TierGrowth, "suspended")
	seedTenant(t, store, domain.TierStarter) // wrong cohort

	bucket := scheduler.Bucket(domain.CohortActive, time.Now().UTC())
	types := []domain.JobType{domain.JobTypeFinOpsAnalysis, domain.JobTypeZombieScan}

	created, err := store.EnqueueCohortBundle(ctx, domain.CohortActive, bucket, types)
	if err != nil {
		t.Fatalf("EnqueueCohortBundle() error = %v", err)
	}
	if created != 4 {
		t.Errorf("created = %d, want 4 (2 active growth tenants x 2 types)", created)
	}

	for _, tenantID := range []uuid.UUID{growthA, growthB} {
		var n int
		if err := store.Pool().QueryRow(ctx, `
			SELECT COUNT(*) FROM jobs WHERE tenant_id = $1`, tenantID).Scan(&n); err != nil {
			t.Fatalf("count query failed: %v", err)
		}
		if n != 2 {
			t.Errorf("tenant %s has %d jobs, want 2", tenantID, n)
		}
	}
}

func TestEnqueueCohortBundle_SecondSweepIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedTenant(t, store, domain.TierEnterprise)

	bucket := scheduler.Bucket(domain.CohortHighValue, time.Now().UTC())
	types := []domain.JobType{domain.JobTypeZombieScan}

	first, err := store.EnqueueCohortBundle(ctx, domain.CohortHighValue, bucket, types)
	if err != nil {
		t.Fatalf("first sweep error = %v", err)
	}
	if first != 1 {
		t.Fatalf("first sweep created %d, want 1", first)
	}

	// A racing replica in the same window lands on the same dedup keys.
	second, err := store.EnqueueCohortBundle(ctx, domain.CohortHighValue, bucket, types)
	if err != nil {
		t.Fatalf("second sweep error = %v", err)
	}
	if second != 0 {
		t.Errorf("second sweep created %d, want 0", second)
	}
}

func TestEnqueueCohortBundle_UnknownCohort(t *testing.T) {
	store := newTestStore(t)

	_, err := store.EnqueueCohortBundle(context.Background(), domain.Cohort("VIP"),
		time.Now().UTC(), []domain.JobType{domain.JobTypeZombieScan})
	if err == nil {
		t.Error("unknown cohort accepted")
	}
}

func TestEnqueueDueBilling_OnlyAuthorizedDueSubscriptions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	dueTenant := seedTenant(t, store, domain.TierGrowth)
	yesterday := time.Now().UTC().Add(-24 * time.Hour)
	subID := seedSubscription(t, store, dueTenant, yesterday, true)

	// Due but never authorized a charge: skipped.
	seedSubscription(t, store, seedTenant(t, store, domain.TierGrowth), yesterday, false)
	// Authorized but not due yet: skipped.
	seedSubscription(t, store, seedTenant(t, store, domain.TierGrowth), time.Now().UTC().Add(24*time.Hour), true)

	dayBucket := scheduler.DayBucket(time.Now().UTC())
	created, err := store.EnqueueDueBilling(ctx, dayBucket)
	if err != nil {
		t.Fatalf("EnqueueDueBilling() error = %v", err)
	}
	if created != 1 {
		t.Fatalf("created = %d, want 1", created)
	}

	jobsList, err := store.ListByTenant(ctx, dueTenant, domain.ListJobsParams{Limit: 10})
	if err != nil {
		t.Fatalf("ListByTenant() error = %v", err)
	}
	if len(jobsList) != 1 || jobsList[0].Type != domain.JobTypeRecurringBilling {
		t.Fatalf("billing job missing for due tenant")
	}
	if jobsList[0].Payload["subscription_id"] != subID.String() {
		t.Errorf("payload = %v, want subscription_id %s", jobsList[0].Payload, subID)
	}

	// The day bucket dedups a rerun of the same sweep.
	again, err := store.EnqueueDueBilling(ctx, dayBucket)
	if err != nil {
		t.Fatalf("second EnqueueDueBilling() error = %v", err)
	}
	if again != 0 {
		t.Errorf("rerun created %d, want 0", again)
	}
}

func TestEnqueueRemediationSweep_OnlyOptedInTenants(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	planTenant := seedRemediationTenant(t, store, "plan")
	executeTenant := seedRemediationTenant(t, store, "execute")
	seedRemediationTenant(t, store, "disabled")

	bucket := scheduler.Bucket(domain.CohortHighValue, time.Now().UTC())
	created, err := store.EnqueueRemediationSweep(ctx, bucket)
	if err != nil {
		t.Fatalf("EnqueueRemediationSweep() error = %v", err)
	}
	if created != 2 {
		t.Errorf("created = %d, want 2", created)
	}

	for _, tenantID := range []uuid.UUID{planTenant, executeTenant} {
		var n int
		if err := store.Pool().QueryRow(ctx, `
			SELECT COUNT(*) FROM jobs WHERE tenant_id = $1 AND type = 'remediation'`,
			tenantID).Scan(&n); err != nil {
			t.Fatalf("count query failed: %v", err)
		}
		if n != 1 {
			t.Errorf("tenant %s has %d remediation jobs, want 1", tenantID, n)
		}
	}
}

func TestTryAcquireSweepLease_Exclusive(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	release, acquired, err := store.TryAcquireSweepLease(ctx, "cohort:ACTIVE")
	if err != nil {
		t.Fatalf("TryAcquireSweepLease() error = %v", err)
	}
	if !acquired {
		t.Fatal("free lease not acquired")
	}

	_, contested, err := store.TryAcquireSweepLease(ctx, "cohort:ACTIVE")
	if err != nil {
		t.Fatalf("contested TryAcquireSweepLease() error = %v", err)
	}
	if contested {
		t.Error("held lease acquired twice")
	}

	// A different sweep name is an independent lock.
	otherRelease, other, err := store.TryAcquireSweepLease(ctx, "billing")
	if err != nil {
		t.Fatalf("TryAcquireSweepLease(billing) error = %v", err)
	}
	if !other {
		t.Error("unrelated lease blocked")
	}
	otherRelease()

	release()
	reacquiredRelease, reacquired, err := store.TryAcquireSweepLease(ctx, "cohort:ACTIVE")
	if err != nil {
		t.Fatalf("reacquire error = %v", err)
	}
	if !reacquired {
		t.Error("released lease not reacquirable")
	}
	reacquiredRelease()
}

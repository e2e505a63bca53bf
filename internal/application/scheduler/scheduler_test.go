package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/costwarden/costwarden/internal/domain"
)

type cohortCall struct {
	cohort domain.Cohort
	bucket time.Time
	types  []domain.JobType
}

type fakeSchedulerStore struct {
	cohortFn func(ctx context.Context, cohort domain.Cohort, bucket time.Time, types []domain.JobType) (int, error)

	cohortCalls  []cohortCall
	billingErr   error
	billingCalls int

	leaseAcquired bool
	leaseErr      error
	leaseReleases int
}

func (s *fakeSchedulerStore) EnqueueCohortBundle(ctx context.Context, cohort domain.Cohort, bucket time.Time, types []domain.JobType) (int, error) {
	s.cohortCalls = append(s.cohortCalls, cohortCall{cohort: cohort, bucket: bucket, types: types})
	if s.cohortFn != nil {
		return s.cohortFn(ctx, cohort, bucket, types)
	}
	return len(types), nil
}

func (s *fakeSchedulerStore) EnqueueDueBilling(ctx context.Context, dayBucket time.Time) (int, error) {
	s.billingCalls++
	return 0, s.billingErr
}

func (s *fakeSchedulerStore) EnqueueRemediationSweep(ctx context.Context, bucket time.Time) (int, error) {
	return 0, nil
}

func (s *fakeSchedulerStore) TryAcquireSweepLease(ctx context.Context, name string) (func(), bool, error) {
	if s.leaseErr != nil {
		return nil, false, s.leaseErr
	}
	if !s.leaseAcquired {
		return nil, false, nil
	}
	return func() { s.leaseReleases++ }, true, nil
}

func (s *fakeSchedulerStore) ReapStale(ctx context.Context, olderThan time.Duration) (int, error) {
	return 0, nil
}

func (s *fakeSchedulerStore) ArchiveTerminal(ctx context.Context, retention time.Duration) (int, error) {
	return 0, nil
}

func TestBucket_CohortWindows(t *testing.T) {
	at := time.Date(2026, 8, 25, 14, 37, 12, 0, time.UTC)

	cases := []struct {
		cohort domain.Cohort
		want   time.Time
	}{
		{domain.CohortHighValue, time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)},
		{domain.CohortActive, time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)},
		{domain.CohortDormant, time.Date(2026, 8, 25, 14, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		if got := Bucket(tc.cohort, at); !got.Equal(tc.want) {
			t.Errorf("Bucket(%s, %v) = %v, want %v", tc.cohort, at, got, tc.want)
		}
	}
}

// Two replicas firing anywhere inside the same window must compute identical
// buckets, which makes the second enqueue a dedup no-op.
func TestBucket_StableWithinWindow(t *testing.T) {
	early := time.Date(2026, 8, 25, 6, 0, 1, 0, time.UTC)
	late := time.Date(2026, 8, 25, 11, 59, 59, 0, time.UTC)

	if !Bucket(domain.CohortHighValue, early).Equal(Bucket(domain.CohortHighValue, late)) {
		t.Error("same 6-hour window produced different buckets")
	}
	next := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	if Bucket(domain.CohortHighValue, late).Equal(Bucket(domain.CohortHighValue, next)) {
		t.Error("adjacent windows produced the same bucket")
	}
}

func TestDedupKey_Deterministic(t *testing.T) {
	tenantID := uuid.MustParse("7b2e6ad2-5f0d-4cc5-9a3e-1f6f5a3b9c01")
	bucket := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

	got := DedupKey(tenantID, domain.JobTypeZombieScan, bucket)
	want := "7b2e6ad2-5f0d-4cc5-9a3e-1f6f5a3b9c01:zombie_scan:2026-08-25-12"
	if got != want {
		t.Errorf("DedupKey() = %q, want %q", got, want)
	}
}

func TestDayBucket(t *testing.T) {
	at := time.Date(2026, 8, 25, 23, 59, 59, 0, time.UTC)
	want := time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC)
	if got := DayBucket(at); !got.Equal(want) {
		t.Errorf("DayBucket(%v) = %v, want %v", at, got, want)
	}
}

func TestRunCohortOnce_EnqueuesStandardBundle(t *testing.T) {
	store := &fakeSchedulerStore{}
	s := New(store)

	now := time.Date(2026, 8, 25, 13, 15, 0, 0, time.UTC)
	if err := s.RunCohortOnce(context.Background(), domain.CohortActive, now); err != nil {
		t.Fatalf("RunCohortOnce() error = %v", err)
	}

	if len(store.cohortCalls) != 1 {
		t.Fatalf("expected 1 enqueue, got %d", len(store.cohortCalls))
	}
	call := store.cohortCalls[0]
	if call.cohort != domain.CohortActive {
		t.Errorf("cohort = %s", call.cohort)
	}
	if !call.bucket.Equal(Bucket(domain.CohortActive, now)) {
		t.Errorf("bucket = %v", call.bucket)
	}
	wantTypes := []domain.JobType{
		domain.JobTypeFinOpsAnalysis,
		domain.JobTypeZombieScan,
		domain.JobTypeCostIngestion,
	}
	if len(call.types) != len(wantTypes) {
		t.Fatalf("bundle = %v, want %v", call.types, wantTypes)
	}
	for i, jt := range wantTypes {
		if call.types[i] != jt {
			t.Errorf("bundle[%d] = %s, want %s", i, call.types[i], jt)
		}
	}
}

func TestRunCohortOnce_RetriesDeadlock(t *testing.T) {
	attempts := 0
	store := &fakeSchedulerStore{
		cohortFn: func(context.Context, domain.Cohort, time.Time, []domain.JobType) (int, error) {
			attempts++
			if attempts == 1 {
				return 0, domain.ErrDeadlockDetected
			}
			return 5, nil
		},
	}
	s := New(store)

	if err := s.RunCohortOnce(context.Background(), domain.CohortHighValue, time.Now().UTC()); err != nil {
		t.Fatalf("RunCohortOnce() error = %v", err)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2 (one deadlock retry)", attempts)
	}
}

func TestRunCohortOnce_NonDeadlockFailsFast(t *testing.T) {
	attempts := 0
	store := &fakeSchedulerStore{
		cohortFn: func(context.Context, domain.Cohort, time.Time, []domain.JobType) (int, error) {
			attempts++
			return 0, errors.New("permission denied")
		},
	}
	s := New(store)

	if err := s.RunCohortOnce(context.Background(), domain.CohortDormant, time.Now().UTC()); err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, non-deadlock errors must not retry", attempts)
	}
}

func TestRunBillingSweep_PropagatesError(t *testing.T) {
	store := &fakeSchedulerStore{billingErr: errors.New("connection refused")}
	s := New(store)

	if err := s.RunBillingSweep(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if store.billingCalls != 1 {
		t.Errorf("billing calls = %d", store.billingCalls)
	}
}

func TestLeased_SkipsWhenLeaseHeldElsewhere(t *testing.T) {
	store := &fakeSchedulerStore{leaseAcquired: false}
	s := New(store)

	ran := false
	s.leased(context.Background(), "cohort_active", func(context.Context) error {
		ran = true
		return nil
	})()

	if ran {
		t.Error("sweep ran while the lease was held by another replica")
	}
}

func TestLeased_RunsAndReleases(t *testing.T) {
	store := &fakeSchedulerStore{leaseAcquired: true}
	s := New(store)

	ran := false
	s.leased(context.Background(), "cohort_active", func(ctx context.Context) error {
		ran = true
		if correlationFrom(ctx) == "" {
			t.Error("sweep context carries no correlation id")
		}
		return nil
	})()

	if !ran {
		t.Error("sweep did not run with an acquired lease")
	}
	if store.leaseReleases != 1 {
		t.Errorf("lease released %d times, want 1", store.leaseReleases)
	}
}

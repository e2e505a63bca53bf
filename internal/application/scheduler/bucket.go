package scheduler

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/costwarden/costwarden/internal/domain"
)

// bucketLayout formats a time bucket for deduplication keys.
const bucketLayout = "2006-01-02-15"

// Bucket truncates t to the cohort's scheduling window: the UTC hour,
// additionally floored to a 6-hour multiple for HIGH_VALUE and a 3-hour
// multiple for ACTIVE. Two replicas firing inside the same window therefore
// compute the same bucket and the second enqueue is a no-op.
func Bucket(cohort domain.Cohort, t time.Time) time.Time {
	t = t.UTC().Truncate(time.Hour)
	switch cohort {
	case domain.CohortHighValue:
		return t.Truncate(6 * time.Hour)
	case domain.CohortActive:
		return t.Truncate(3 * time.Hour)
	}
	return t
}

// DedupKey builds the deterministic deduplication key for one scheduled job:
// "{tenant_id}:{job_type}:{bucket}".
func DedupKey(tenantID uuid.UUID, jobType domain.JobType, bucket time.Time) string {
	return fmt.Sprintf("%s:%s:%s", tenantID, jobType, bucket.UTC().Format(bucketLayout))
}

// DayBucket truncates t to the UTC day, for sweeps that fire at most daily.
func DayBucket(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}

package domain

import "errors"

// Domain errors returned by store implementations and validated operations.

var (
	// ErrJobNotFound indicates the requested job does not exist or is deleted.
	ErrJobNotFound = errors.New("job not found")

	// ErrInvalidJobType indicates the job type is not in the closed set.
	ErrInvalidJobType = errors.New("invalid job type")

	// ErrInvalidJobStatus indicates an unknown status value.
	ErrInvalidJobStatus = errors.New("invalid job status")

	// ErrInvalidOrderBy indicates an unsupported sort column or direction.
	ErrInvalidOrderBy = errors.New("invalid order by")

	// ErrInvalidLimit indicates a paging limit outside [1, 100].
	ErrInvalidLimit = errors.New("limit must be between 1 and 100")

	// ErrJobNotCancellable indicates the job is already terminal.
	ErrJobNotCancellable = errors.New("job is not cancellable")

	// ErrJobNotDeadLetter indicates a dead-letter operation was attempted on
	// a job that is not in the dead_letter state.
	ErrJobNotDeadLetter = errors.New("job is not in dead letter state")

	// ErrTenantNotFound indicates the tenant does not exist.
	ErrTenantNotFound = errors.New("tenant not found")

	// ErrSubscriptionNotFound indicates the subscription does not exist.
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// ErrConnectionNotFound indicates the cloud connection does not exist.
	ErrConnectionNotFound = errors.New("cloud connection not found")

	// ErrRLSContextMissing indicates a statement was issued on a session
	// whose row-level-security context was never established. The statement
	// is refused, never sent to the database.
	ErrRLSContextMissing = errors.New("rls_enforcement_violation_detected: session has no tenant context")

	// ErrAPIKeyNotFound indicates no api key matched the presented credential.
	ErrAPIKeyNotFound = errors.New("api key not found")

	// ErrUnauthorized indicates the request presented no valid credential.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates the credential lacks the role the operation
	// requires.
	ErrForbidden = errors.New("forbidden")

	// ErrDeadlockDetected wraps Postgres deadlock (40P01) and serialization
	// failure (40001) errors so callers can retry the whole transaction.
	ErrDeadlockDetected = errors.New("deadlock detected")
)

package jobs

import (
	"errors"
	"fmt"

	"github.com/costwarden/costwarden/internal/domain"
)

// === Retry Classification ===

// RetryableError wraps transient errors that should be retried with
// exponential backoff. Cloud API throttling, network timeouts, lost database
// connections and 5xx webhook responses all belong here.
//
// Don't use for: validation errors, missing payload fields, rejected
// credentials. Those either dead-letter immediately or exhaust max_attempts.
type RetryableError struct {
	Err error
}

func (e RetryableError) Error() string { return e.Err.Error() }
func (e RetryableError) Unwrap() error { return e.Err }

// Transient wraps an error to signal it should be retried.
//
// Example:
//
//	if err := adapter.Scan(ctx); err != nil {
//	    return jobs.Transient(err) // retried with exponential backoff
//	}
func Transient(err error) error {
	return RetryableError{Err: err}
}

// IsRetryable returns true if the error should be retried.
func IsRetryable(err error) bool {
	var retryable RetryableError
	return errors.As(err, &retryable)
}

// === Invalid Input ===

// InvalidInputError indicates the job payload is malformed (missing or
// mistyped field). Retrying cannot fix a bad payload, so these jobs
// dead-letter immediately without consuming the retry budget on pointless
// re-executions.
type InvalidInputError struct {
	Field  string
	Reason string
}

func (e InvalidInputError) Error() string {
	return fmt.Sprintf("invalid payload field %q: %s", e.Field, e.Reason)
}

// InvalidInput builds an InvalidInputError for the given payload field.
func InvalidInput(field, reason string) error {
	return InvalidInputError{Field: field, Reason: reason}
}

// IsInvalidInput returns true if the error indicates a malformed payload.
func IsInvalidInput(err error) bool {
	var invalid InvalidInputError
	return errors.As(err, &invalid)
}

// === Panic Handling ===

// PanicError indicates a panic occurred during handler execution. Panics
// indicate programming errors, not transient issues, so the job goes
// directly to the dead-letter state.
type PanicError struct {
	Value      any
	StackTrace string
}

func (e PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// IsPanic returns true if the error indicates a panic occurred.
func IsPanic(err error) bool {
	var panicErr PanicError
	return errors.As(err, &panicErr)
}

// === Cancellation ===

// ErrCancelRequested is the cancellation cause injected when an operator
// cancels an in-flight job. Cancelled jobs reschedule at now + 60s
// regardless of how many attempts they have consumed.
var ErrCancelRequested = errors.New("job cancel requested")

// === Handler Resolution ===

// UnknownHandlerError is returned by the registry when no handler is
// registered for a job type.
type UnknownHandlerError struct {
	Type domain.JobType
}

func (e UnknownHandlerError) Error() string {
	return fmt.Sprintf("No handler for job type %q", e.Type)
}

// IsUnknownHandler returns true if the error indicates a missing handler.
func IsUnknownHandler(err error) bool {
	var unknown UnknownHandlerError
	return errors.As(err, &unknown)
}

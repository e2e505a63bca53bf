package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/costwarden/costwarden/internal/domain"
)

// Postgres error codes the queue and scheduler react to.
const (
	pgCodeDeadlockDetected     = "40P01"
	pgCodeSerializationFailure = "40001"
	pgCodeUniqueViolation      = "23505"
)

// wrapError folds retryable Postgres failure codes onto domain sentinels so
// callers can errors.Is them without importing pgconn.
func wrapError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgCodeDeadlockDetected, pgCodeSerializationFailure:
			return fmt.Errorf("%w: %w", domain.ErrDeadlockDetected, err)
		}
	}
	return err
}

// isUniqueViolation reports whether err is a unique-constraint violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgCodeUniqueViolation
}

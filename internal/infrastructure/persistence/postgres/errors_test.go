package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/costwarden/costwarden/internal/domain"
)

func TestWrapError_DeadlockCodes(t *testing.T) {
	cases := []struct {
		name string
		code string
	}{
		{"deadlock detected", "40P01"},
		{"serialization failure", "40001"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pgErr := &pgconn.PgError{Code: tc.code, Message: tc.name}
			wrapped := wrapError(fmt.Errorf("failed to claim due jobs: %w", pgErr))

			if !errors.Is(wrapped, domain.ErrDeadlockDetected) {
				t.Errorf("code %s not folded onto ErrDeadlockDetected", tc.code)
			}
			// The original pg error stays reachable for logging.
			var got *pgconn.PgError
			if !errors.As(wrapped, &got) {
				t.Error("original PgError lost in wrapping")
			}
		})
	}
}

func TestWrapError_PassThrough(t *testing.T) {
	if wrapError(nil) != nil {
		t.Error("wrapError(nil) must be nil")
	}

	plain := errors.New("connection refused")
	if got := wrapError(plain); got != plain {
		t.Errorf("non-pg error rewritten: %v", got)
	}

	other := &pgconn.PgError{Code: "23503"} // foreign key violation
	if errors.Is(wrapError(other), domain.ErrDeadlockDetected) {
		t.Error("unrelated pg code folded onto deadlock sentinel")
	}
}

func TestIsUniqueViolation(t *testing.T) {
	unique := fmt.Errorf("insert failed: %w", &pgconn.PgError{Code: "23505"})
	if !isUniqueViolation(unique) {
		t.Error("wrapped 23505 not detected")
	}
	if isUniqueViolation(errors.New("23505")) {
		t.Error("plain error mistaken for a unique violation")
	}
	if isUniqueViolation(nil) {
		t.Error("nil mistaken for a unique violation")
	}
}

package jobs

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Session is a tenant-scoped database handle. Every statement passes through
// the row-level-security guard of the underlying connection: a session whose
// tenant context was never established refuses user-table statements before
// they reach the database.
//
// Handlers receive a Session bound to their job's tenant and must never
// reuse it across tenant boundaries.
type Session interface {
	// TenantID returns the tenant the session is scoped to, or nil for
	// system sessions.
	TenantID() *uuid.UUID

	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxSession is a Session running inside a handler-scoped transaction.
// The processor commits it only when the handler succeeds; every other
// outcome rolls it back, so partial handler work never persists.
type TxSession interface {
	Session

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// LeasedSession is a Session holding a pooled connection. Release must be
// called exactly once; it clears the tenant context before the connection
// returns to the pool.
type LeasedSession interface {
	Session

	BeginTx(ctx context.Context) (TxSession, error)
	Release()
}

// SessionFactory mints tenant-scoped and system sessions for the processor
// and its handlers.
type SessionFactory interface {
	// AcquireTenant yields a session with app.current_tenant_id set to the
	// given tenant before any user query runs.
	AcquireTenant(ctx context.Context, tenantID uuid.UUID) (LeasedSession, error)

	// AcquireSystem yields a session explicitly opted out of tenant scoping,
	// for system-wide jobs and background bookkeeping.
	AcquireSystem(ctx context.Context) (LeasedSession, error)
}

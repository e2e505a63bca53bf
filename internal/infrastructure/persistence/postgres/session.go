package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/costwarden/costwarden/internal/application/jobs"
	"github.com/costwarden/costwarden/internal/domain"
)

// rlsTenantSetting is the session-local setting the row-level security
// policies read.
const rlsTenantSetting = "app.current_tenant_id"

// SessionFactory mints RLS-scoped database sessions over the shared pool.
//
// Every session carries a guard: until the tenant context is established
// (or the session is explicitly system-scoped), statements against user
// tables are refused in the client before they reach the database. Internal
// statements (migrations bookkeeping, api key lookup, health probes,
// advisory locks) pass through so the system can bootstrap itself.
type SessionFactory struct {
	pool       *pgxpool.Pool
	rlsMissing metric.Int64Counter
}

var _ jobs.SessionFactory = (*SessionFactory)(nil)

// NewSessionFactory creates the session factory.
func NewSessionFactory(pool *pgxpool.Pool) *SessionFactory {
	rlsMissing, _ := otel.Meter("costwarden.postgres").Int64Counter("rls_context_missing",
		metric.WithDescription("Statements refused because the session had no tenant context"))
	return &SessionFactory{pool: pool, rlsMissing: rlsMissing}
}

// AcquireTenant leases a connection and binds it to the tenant before any
// user statement can run.
func (f *SessionFactory) AcquireTenant(ctx context.Context, tenantID uuid.UUID) (jobs.LeasedSession, error) {
	sess, err := f.acquire(ctx)
	if err != nil {
		return nil, err
	}
	if err := sess.SetTenant(ctx, tenantID); err != nil {
		sess.Release()
		return nil, err
	}
	return sess, nil
}

// AcquireSystem leases a connection explicitly opted out of tenant scoping.
// The RLS policies treat the empty setting as the system bypass.
func (f *SessionFactory) AcquireSystem(ctx context.Context) (jobs.LeasedSession, error) {
	sess, err := f.acquire(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := sess.conn.Exec(ctx, "SELECT set_config($1, '', false)", rlsTenantSetting); err != nil {
		sess.Release()
		return nil, fmt.Errorf("failed to clear tenant context: %w", err)
	}
	sess.contextSet = true
	return sess, nil
}

// AcquireRequest leases an unscoped connection for the HTTP layer. Until
// SetTenant is called only internal statements (the api key lookup that
// authenticates the request) are allowed through.
func (f *SessionFactory) AcquireRequest(ctx context.Context) (*TenantSession, error) {
	return f.acquire(ctx)
}

func (f *SessionFactory) acquire(ctx context.Context) (*TenantSession, error) {
	conn, err := f.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire database connection: %w", err)
	}
	return &TenantSession{conn: conn, rlsMissing: f.rlsMissing}, nil
}

// TenantSession is a leased connection with the RLS statement guard.
type TenantSession struct {
	conn       *pgxpool.Conn
	tenantID   *uuid.UUID
	contextSet bool
	rlsMissing metric.Int64Counter
}

var _ jobs.LeasedSession = (*TenantSession)(nil)

// SetTenant establishes the tenant context on the leased connection.
func (s *TenantSession) SetTenant(ctx context.Context, tenantID uuid.UUID) error {
	_, err := s.conn.Exec(ctx, "SELECT set_config($1, $2, false)", rlsTenantSetting, tenantID.String())
	if err != nil {
		return fmt.Errorf("failed to set tenant context: %w", err)
	}
	s.tenantID = &tenantID
	s.contextSet = true
	return nil
}

// TenantID returns the tenant the session is bound to, nil for system and
// unauthenticated sessions.
func (s *TenantSession) TenantID() *uuid.UUID {
	return s.tenantID
}

func (s *TenantSession) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if err := s.guard(ctx, sql); err != nil {
		return pgconn.CommandTag{}, err
	}
	return s.conn.Exec(ctx, sql, args...)
}

func (s *TenantSession) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if err := s.guard(ctx, sql); err != nil {
		return nil, err
	}
	return s.conn.Query(ctx, sql, args...)
}

func (s *TenantSession) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if err := s.guard(ctx, sql); err != nil {
		return errRow{err: err}
	}
	return s.conn.QueryRow(ctx, sql, args...)
}

// BeginTx opens a handler-scoped transaction on the leased connection. The
// transaction inherits the session's tenant setting.
func (s *TenantSession) BeginTx(ctx context.Context) (jobs.TxSession, error) {
	if !s.contextSet {
		s.refused(ctx, "BEGIN")
		return nil, domain.ErrRLSContextMissing
	}
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &txSession{tx: tx, parent: s}, nil
}

// Release clears the tenant setting and returns the connection to the pool.
// Must be called exactly once.
func (s *TenantSession) Release() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := s.conn.Exec(ctx, "SELECT set_config($1, '', false)", rlsTenantSetting); err != nil {
		slog.ErrorContext(ctx, "failed to clear tenant context on release", "error", err)
	}
	s.contextSet = false
	s.tenantID = nil
	s.conn.Release()
}

// guard refuses user-table statements on sessions whose RLS context was
// never established. The refusal happens client-side so the statement is
// never sent.
func (s *TenantSession) guard(ctx context.Context, sql string) error {
	if s.contextSet || isInternalStatement(sql) {
		return nil
	}
	s.refused(ctx, sql)
	return domain.ErrRLSContextMissing
}

func (s *TenantSession) refused(ctx context.Context, sql string) {
	if s.rlsMissing != nil {
		s.rlsMissing.Add(ctx, 1)
	}
	slog.ErrorContext(ctx, "rls_enforcement_violation_detected: statement refused, session has no tenant context",
		"sql", truncateSQL(sql))
}

// txSession is a handler-scoped transaction sharing the parent session's
// guard state.
type txSession struct {
	tx     pgx.Tx
	parent *TenantSession
}

var _ jobs.TxSession = (*txSession)(nil)

func (t *txSession) TenantID() *uuid.UUID {
	return t.parent.tenantID
}

func (t *txSession) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if err := t.parent.guard(ctx, sql); err != nil {
		return pgconn.CommandTag{}, err
	}
	return t.tx.Exec(ctx, sql, args...)
}

func (t *txSession) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if err := t.parent.guard(ctx, sql); err != nil {
		return nil, err
	}
	return t.tx.Query(ctx, sql, args...)
}

func (t *txSession) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if err := t.parent.guard(ctx, sql); err != nil {
		return errRow{err: err}
	}
	return t.tx.QueryRow(ctx, sql, args...)
}

func (t *txSession) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *txSession) Rollback(ctx context.Context) error {
	return t.tx.Rollback(ctx)
}

// errRow satisfies pgx.Row for guard refusals.
type errRow struct {
	err error
}

func (r errRow) Scan(_ ...any) error {
	return r.err
}

// internalStatementMarkers identifies statements allowed on unscoped
// sessions: migration bookkeeping, credential lookup, health and replica
// probes, advisory locks and the listen channel.
var internalStatementMarkers = []string{
	"goose_db_version",
	"api_keys",
	"set_config(",
	"pg_catalog.",
	"version()",
	"pg_is_in_recovery",
	"pg_try_advisory",
	"pg_advisory_unlock",
	"pg_notify",
}

func isInternalStatement(sql string) bool {
	stmt := strings.ToLower(strings.TrimSpace(sql))
	if stmt == "select 1" || strings.HasPrefix(stmt, "select 1;") {
		return true
	}
	if strings.HasPrefix(stmt, "set ") || strings.HasPrefix(stmt, "listen ") || strings.HasPrefix(stmt, "unlisten ") {
		return true
	}
	for _, marker := range internalStatementMarkers {
		if strings.Contains(stmt, marker) {
			return true
		}
	}
	return false
}

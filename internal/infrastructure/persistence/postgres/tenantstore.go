package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/costwarden/costwarden/internal/application/jobs"
	"github.com/costwarden/costwarden/internal/domain"
)

// Tenant-scoped reads and writes. These run on the caller's Session so they
// execute under the job's row-level security context.

// FindTenant loads a tenant by id.
func (s *Store) FindTenant(ctx context.Context, sess jobs.Session, id uuid.UUID) (*domain.Tenant, error) {
	var t domain.Tenant
	err := sess.QueryRow(ctx, `
		SELECT id, name, tier, status,
		       remediation_mode, remediation_allowed_actions, remediation_min_confidence,
		       created_at
		FROM tenants WHERE id = $1`, id).Scan(
		&t.ID, &t.Name, &t.Tier, &t.Status,
		&t.Remediation.Mode, &t.Remediation.AllowedActions, &t.Remediation.MinConfidence,
		&t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrTenantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find tenant: %w", err)
	}
	return &t, nil
}

// ListActiveConnections returns the tenant's active cloud connections with
// decrypted credentials.
func (s *Store) ListActiveConnections(ctx context.Context, sess jobs.Session, tenantID uuid.UUID) ([]*domain.CloudConnection, error) {
	rows, err := sess.Query(ctx, `
		SELECT id, tenant_id, provider, name, region, credentials, status, created_at
		FROM cloud_connections
		WHERE tenant_id = $1 AND status = 'active'
		ORDER BY created_at`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list cloud connections: %w", err)
	}
	defer rows.Close()

	var out []*domain.CloudConnection
	for rows.Next() {
		var c domain.CloudConnection
		if err := rows.Scan(&c.ID, &c.TenantID, &c.Provider, &c.Name, &c.Region,
			&c.Credentials, &c.Status, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan cloud connection: %w", err)
		}
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate cloud connections: %w", err)
	}
	return out, nil
}

// SaveAnalysis persists analyzer or report output.
func (s *Store) SaveAnalysis(ctx context.Context, sess jobs.Session, result *domain.AnalysisResult) error {
	content, err := marshalJSON(result.Content)
	if err != nil {
		return err
	}
	id := result.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	if _, err := sess.Exec(ctx, `
		INSERT INTO analysis_results (id, tenant_id, kind, model, content)
		VALUES ($1, $2, $3, $4, $5)`,
		id, result.TenantID, result.Kind, result.Model, content); err != nil {
		return fmt.Errorf("failed to save analysis result: %w", err)
	}
	result.ID = id
	return nil
}

// RecordAction writes the audit row for one planned or executed remediation
// step.
func (s *Store) RecordAction(ctx context.Context, sess jobs.Session, action *domain.RemediationAction) error {
	id := action.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	if _, err := sess.Exec(ctx, `
		INSERT INTO remediation_actions (id, tenant_id, connection_id, action, resource_id, status, monthly_savings, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		id, action.TenantID, action.ConnectionID, action.Action, action.ResourceID,
		action.Status, action.MonthlySavings, action.ExecutedAt); err != nil {
		return fmt.Errorf("failed to record remediation action: %w", err)
	}
	action.ID = id
	return nil
}

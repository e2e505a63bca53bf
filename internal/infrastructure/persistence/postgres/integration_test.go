package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/costwarden/costwarden/internal/config"
	"github.com/costwarden/costwarden/internal/domain"
	"github.com/costwarden/costwarden/internal/infrastructure/persistence/postgres"
)

// newTestStore opens a store against the disposable test database and wipes
// its tables. Tests skip when COSTWARDEN_TEST_POSTGRES_URL is unset.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()

	cfg, err := config.LoadTestConfig()
	if err != nil {
		t.Fatalf("failed to load test config: %v", err)
	}
	if cfg.TestDSN == "" {
		t.Skip("COSTWARDEN_TEST_POSTGRES_URL not set, skipping integration test")
	}

	ctx := context.Background()
	store, err := postgres.NewStoreWithConfig(ctx, postgres.DBConfig{DSN: cfg.TestDSN})
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if _, err := store.Pool().Exec(ctx, `
		TRUNCATE jobs, job_delete_audit, api_keys, cost_records, cost_aggregates,
			analysis_results, remediation_actions, subscriptions,
			cloud_accounts, cloud_connections, tenants CASCADE`); err != nil {
		t.Fatalf("failed to truncate tables: %v", err)
	}
	return store
}

func seedTenant(t *testing.T, store *postgres.Store, tier domain.Tier) uuid.UUID {
	t.Helper()
	return seedTenantStatus(t, store, tier, "active")
}

func seedTenantStatus(t *testing.T, store *postgres.Store, tier domain.Tier, status string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	if _, err := store.Pool().Exec(context.Background(), `
		INSERT INTO tenants (id, name, tier, status)
		VALUES ($1, $2, $3, $4)`, id, "tenant-"+id.String()[:8], tier, status); err != nil {
		t.Fatalf("failed to seed tenant: %v", err)
	}
	return id
}

func seedRemediationTenant(t *testing.T, store *postgres.Store, mode string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	if _, err := store.Pool().Exec(context.Background(), `
		INSERT INTO tenants (id, name, tier, status, remediation_mode, remediation_allowed_actions)
		VALUES ($1, $2, 'pro', 'active', $3, '{delete_volume}')`,
		id, "tenant-"+id.String()[:8], mode); err != nil {
		t.Fatalf("failed to seed remediation tenant: %v", err)
	}
	return id
}

func seedConnection(t *testing.T, store *postgres.Store, tenantID uuid.UUID, provider domain.Provider) uuid.UUID {
	t.Helper()
	id := uuid.New()
	if _, err := store.Pool().Exec(context.Background(), `
		INSERT INTO cloud_connections (id, tenant_id, provider, name, region)
		VALUES ($1, $2, $3, $4, 'us-east-1')`,
		id, tenantID, provider, "conn-"+id.String()[:8]); err != nil {
		t.Fatalf("failed to seed cloud connection: %v", err)
	}
	return id
}

func seedSubscription(t *testing.T, store *postgres.Store, tenantID uuid.UUID, due time.Time, authorized bool) uuid.UUID {
	t.Helper()
	id := uuid.New()
	var token *string
	if authorized {
		tok := "AUTH_" + id.String()[:8]
		token = &tok
	}
	if _, err := store.Pool().Exec(context.Background(), `
		INSERT INTO subscriptions (id, tenant_id, plan_code, status, amount_cents, next_payment_date, authorization_token)
		VALUES ($1, $2, 'growth-monthly', 'active', 9900, $3, $4)`,
		id, tenantID, due, token); err != nil {
		t.Fatalf("failed to seed subscription: %v", err)
	}
	return id
}

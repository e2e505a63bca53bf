package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/costwarden/costwarden/internal/domain"
	"github.com/costwarden/costwarden/internal/infrastructure/persistence/postgres"
)

func TestInsertCostRecords_ReingestionIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	factory := postgres.NewSessionFactory(store.Pool())

	tenantID := seedTenant(t, store, domain.TierGrowth)
	connID := seedConnection(t, store, tenantID, domain.ProviderAWS)

	sess, err := factory.AcquireTenant(ctx, tenantID)
	if err != nil {
		t.Fatalf("AcquireTenant() error = %v", err)
	}
	defer sess.Release()

	day := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
	records := []domain.CostRecord{
		{TenantID: tenantID, ConnectionID: connID, Provider: domain.ProviderAWS,
			Service: "AmazonEC2", UsageDate: day, Amount: decimal.RequireFromString("12.50"), Currency: "USD"},
		{TenantID: tenantID, ConnectionID: connID, Provider: domain.ProviderAWS,
			Service: "AmazonS3", UsageDate: day, Amount: decimal.RequireFromString("3.25"), Currency: "USD"},
	}

	inserted, err := store.InsertCostRecords(ctx, sess, records)
	if err != nil {
		t.Fatalf("InsertCostRecords() error = %v", err)
	}
	if inserted != 2 {
		t.Fatalf("inserted = %d, want 2", inserted)
	}

	// Re-ingesting the same window with a corrected amount replaces the line
	// instead of duplicating it.
	records[0].Amount = decimal.RequireFromString("14.00")
	if _, err := store.InsertCostRecords(ctx, sess, records); err != nil {
		t.Fatalf("re-ingest error = %v", err)
	}

	listed, err := store.ListRecords(ctx, sess, tenantID, day, day)
	if err != nil {
		t.Fatalf("ListRecords() error = %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("ListRecords() = %d rows, want 2", len(listed))
	}
	if listed[0].Service != "AmazonEC2" || !listed[0].Amount.Equal(decimal.RequireFromString("14.00")) {
		t.Errorf("corrected line = %s %s", listed[0].Service, listed[0].Amount)
	}
}

func TestUsageSummary_AggregatesByProviderAndService(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	factory := postgres.NewSessionFactory(store.Pool())

	tenantID := seedTenant(t, store, domain.TierPro)
	awsConn := seedConnection(t, store, tenantID, domain.ProviderAWS)
	gcpConn := seedConnection(t, store, tenantID, domain.ProviderGCP)

	sess, err := factory.AcquireTenant(ctx, tenantID)
	if err != nil {
		t.Fatalf("AcquireTenant() error = %v", err)
	}
	defer sess.Release()

	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	records := []domain.CostRecord{
		{TenantID: tenantID, ConnectionID: awsConn, Provider: domain.ProviderAWS,
			Service: "AmazonEC2", UsageDate: start, Amount: decimal.RequireFromString("100.00"), Currency: "USD"},
		{TenantID: tenantID, ConnectionID: awsConn, Provider: domain.ProviderAWS,
			Service: "AmazonEC2", UsageDate: start.AddDate(0, 0, 1), Amount: decimal.RequireFromString("50.00"), Currency: "USD"},
		{TenantID: tenantID, ConnectionID: gcpConn, Provider: domain.ProviderGCP,
			Service: "Compute Engine", UsageDate: start, Amount: decimal.RequireFromString("25.50"), Currency: "USD"},
	}
	if _, err := store.InsertCostRecords(ctx, sess, records); err != nil {
		t.Fatalf("InsertCostRecords() error = %v", err)
	}

	summary, err := store.UsageSummary(ctx, sess, tenantID, start, start.AddDate(0, 1, 0))
	if err != nil {
		t.Fatalf("UsageSummary() error = %v", err)
	}
	if !summary.TotalCost.Equal(decimal.RequireFromString("175.50")) {
		t.Errorf("TotalCost = %s, want 175.50", summary.TotalCost)
	}
	if !summary.ByProvider[domain.ProviderAWS].Equal(decimal.RequireFromString("150.00")) {
		t.Errorf("aws total = %s", summary.ByProvider[domain.ProviderAWS])
	}
	if !summary.ByService["Compute Engine"].Equal(decimal.RequireFromString("25.50")) {
		t.Errorf("gcp service total = %s", summary.ByService["Compute Engine"])
	}
	if summary.RecordCount != 3 {
		t.Errorf("RecordCount = %d, want 3", summary.RecordCount)
	}

	totals, err := store.DailyTotals(ctx, sess, tenantID, start, start.AddDate(0, 1, 0))
	if err != nil {
		t.Fatalf("DailyTotals() error = %v", err)
	}
	if len(totals) != 2 {
		t.Fatalf("DailyTotals() = %d days, want 2", len(totals))
	}
	if !totals[start].Equal(decimal.RequireFromString("125.50")) {
		t.Errorf("day one total = %s, want 125.50", totals[start])
	}
}

func TestUpsertCloudAccount_KeyedByConnection(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	factory := postgres.NewSessionFactory(store.Pool())

	tenantID := seedTenant(t, store, domain.TierGrowth)
	connID := seedConnection(t, store, tenantID, domain.ProviderAWS)

	sess, err := factory.AcquireTenant(ctx, tenantID)
	if err != nil {
		t.Fatalf("AcquireTenant() error = %v", err)
	}
	defer sess.Release()

	account := &domain.CloudAccount{
		TenantID:          tenantID,
		ConnectionID:      connID,
		Provider:          domain.ProviderAWS,
		ExternalAccountID: "123456789012",
		Name:              "prod",
	}
	if err := store.UpsertCloudAccount(ctx, sess, account); err != nil {
		t.Fatalf("UpsertCloudAccount() error = %v", err)
	}

	account.Name = "prod-renamed"
	if err := store.UpsertCloudAccount(ctx, sess, account); err != nil {
		t.Fatalf("second UpsertCloudAccount() error = %v", err)
	}

	var n int
	var name string
	if err := store.Pool().QueryRow(ctx, `
		SELECT COUNT(*), MAX(name) FROM cloud_accounts WHERE connection_id = $1`, connID).
		Scan(&n, &name); err != nil {
		t.Fatalf("count query error = %v", err)
	}
	if n != 1 || name != "prod-renamed" {
		t.Errorf("cloud_accounts = %d rows, name %q", n, name)
	}
}

func TestUpsertAggregate_ReplacesCell(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	factory := postgres.NewSessionFactory(store.Pool())

	tenantID := seedTenant(t, store, domain.TierGrowth)

	sess, err := factory.AcquireTenant(ctx, tenantID)
	if err != nil {
		t.Fatalf("AcquireTenant() error = %v", err)
	}
	defer sess.Release()

	agg := &domain.CostAggregate{
		TenantID:    tenantID,
		Provider:    domain.ProviderAzure,
		PeriodStart: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		Granularity: domain.GranularityMonthly,
		Total:       decimal.RequireFromString("900.00"),
	}
	if err := store.UpsertAggregate(ctx, sess, agg); err != nil {
		t.Fatalf("UpsertAggregate() error = %v", err)
	}

	agg.Total = decimal.RequireFromString("950.75")
	if err := store.UpsertAggregate(ctx, sess, agg); err != nil {
		t.Fatalf("second UpsertAggregate() error = %v", err)
	}

	var total decimal.Decimal
	if err := store.Pool().QueryRow(ctx, `
		SELECT total FROM cost_aggregates
		WHERE tenant_id = $1 AND provider = 'azure' AND granularity = 'monthly'`, tenantID).
		Scan(&total); err != nil {
		t.Fatalf("aggregate query error = %v", err)
	}
	if !total.Equal(decimal.RequireFromString("950.75")) {
		t.Errorf("total = %s, want 950.75", total)
	}
}

func TestBillingLifecycle_ChargeDeclineAndDunning(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	factory := postgres.NewSessionFactory(store.Pool())

	tenantID := seedTenant(t, store, domain.TierGrowth)
	due := time.Now().UTC().Add(-time.Hour)
	subID := seedSubscription(t, store, tenantID, due, true)

	sess, err := factory.AcquireSystem(ctx)
	if err != nil {
		t.Fatalf("AcquireSystem() error = %v", err)
	}
	defer sess.Release()

	sub, err := store.FindSubscription(ctx, sess, subID)
	if err != nil {
		t.Fatalf("FindSubscription() error = %v", err)
	}
	if sub.Status != domain.SubscriptionActive || sub.AuthorizationToken == nil {
		t.Fatalf("seed subscription = %s", sub.Status)
	}

	// Successful renewal advances the payment date and clears dunning.
	next := due.AddDate(0, 1, 0)
	if err := store.MarkCharged(ctx, sess, subID, next); err != nil {
		t.Fatalf("MarkCharged() error = %v", err)
	}
	sub, _ = store.FindSubscription(ctx, sess, subID)
	if !sub.NextPaymentDate.After(due) || sub.DunningStage != 0 {
		t.Errorf("after charge: next=%s dunning=%d", sub.NextPaymentDate, sub.DunningStage)
	}

	// A declined charge starts the dunning ladder.
	if err := store.MarkPastDue(ctx, sess, subID); err != nil {
		t.Fatalf("MarkPastDue() error = %v", err)
	}
	for want := 1; want <= 2; want++ {
		stage, err := store.AdvanceDunning(ctx, sess, subID)
		if err != nil {
			t.Fatalf("AdvanceDunning() error = %v", err)
		}
		if stage != want {
			t.Errorf("stage = %d, want %d", stage, want)
		}
	}
	sub, _ = store.FindSubscription(ctx, sess, subID)
	if sub.Status != domain.SubscriptionPastDue {
		t.Errorf("status = %s, want past_due before the final stage", sub.Status)
	}

	// The final stage cancels instead of warning again.
	stage, err := store.AdvanceDunning(ctx, sess, subID)
	if err != nil {
		t.Fatalf("final AdvanceDunning() error = %v", err)
	}
	if stage != 3 {
		t.Errorf("final stage = %d, want 3", stage)
	}
	sub, _ = store.FindSubscription(ctx, sess, subID)
	if sub.Status != domain.SubscriptionCancelled {
		t.Errorf("status = %s, want cancelled", sub.Status)
	}
}

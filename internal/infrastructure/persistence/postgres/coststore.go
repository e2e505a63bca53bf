package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/costwarden/costwarden/internal/application/jobs"
	"github.com/costwarden/costwarden/internal/domain"
)

// UpsertCloudAccount registers or refreshes the ingestion-facing identity of
// a connection, keyed by connection id.
func (s *Store) UpsertCloudAccount(ctx context.Context, sess jobs.Session, account *domain.CloudAccount) error {
	id := account.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	if _, err := sess.Exec(ctx, `
		INSERT INTO cloud_accounts (id, tenant_id, connection_id, provider, external_account_id, name, last_ingested_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (connection_id) DO UPDATE
		SET external_account_id = EXCLUDED.external_account_id,
		    name = EXCLUDED.name,
		    last_ingested_at = now()`,
		id, account.TenantID, account.ConnectionID, account.Provider,
		account.ExternalAccountID, account.Name); err != nil {
		return fmt.Errorf("failed to upsert cloud account: %w", err)
	}
	return nil
}

// InsertCostRecords bulk-inserts normalized cost lines. Conflicts on the
// natural key are ignored, making re-ingestion of a window idempotent.
func (s *Store) InsertCostRecords(ctx context.Context, sess jobs.Session, records []domain.CostRecord) (int, error) {
	inserted := 0
	for _, r := range records {
		id := r.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		tag, err := sess.Exec(ctx, `
			INSERT INTO cost_records (id, tenant_id, connection_id, provider, service, usage_date, amount, currency)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (tenant_id, connection_id, service, usage_date) DO UPDATE
			SET amount = EXCLUDED.amount, currency = EXCLUDED.currency`,
			id, r.TenantID, r.ConnectionID, r.Provider, r.Service, r.UsageDate, r.Amount, r.Currency)
		if err != nil {
			return inserted, fmt.Errorf("failed to insert cost record: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

// UsageSummary aggregates the tenant's spend in [start, end] by provider and
// service.
func (s *Store) UsageSummary(ctx context.Context, sess jobs.Session, tenantID uuid.UUID, start, end time.Time) (*domain.UsageSummary, error) {
	summary := &domain.UsageSummary{
		TenantID:    tenantID,
		WindowStart: start,
		WindowEnd:   end,
		TotalCost:   decimal.Zero,
		ByProvider:  make(map[domain.Provider]decimal.Decimal),
		ByService:   make(map[string]decimal.Decimal),
	}

	rows, err := sess.Query(ctx, `
		SELECT provider, service, SUM(amount), COUNT(*)
		FROM cost_records
		WHERE tenant_id = $1 AND usage_date >= $2 AND usage_date <= $3
		GROUP BY provider, service`, tenantID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize usage: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			provider domain.Provider
			service  string
			amount   decimal.Decimal
			count    int
		)
		if err := rows.Scan(&provider, &service, &amount, &count); err != nil {
			return nil, fmt.Errorf("failed to scan usage summary row: %w", err)
		}
		summary.TotalCost = summary.TotalCost.Add(amount)
		summary.ByProvider[provider] = summary.ByProvider[provider].Add(amount)
		summary.ByService[service] = summary.ByService[service].Add(amount)
		summary.RecordCount += count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate usage summary: %w", err)
	}
	return summary, nil
}

// DailyTotals returns the tenant's spend per usage day in [start, end].
func (s *Store) DailyTotals(ctx context.Context, sess jobs.Session, tenantID uuid.UUID, start, end time.Time) (map[time.Time]decimal.Decimal, error) {
	rows, err := sess.Query(ctx, `
		SELECT usage_date, SUM(amount)
		FROM cost_records
		WHERE tenant_id = $1 AND usage_date >= $2 AND usage_date <= $3
		GROUP BY usage_date
		ORDER BY usage_date`, tenantID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily totals: %w", err)
	}
	defer rows.Close()

	totals := make(map[time.Time]decimal.Decimal)
	for rows.Next() {
		var (
			day   time.Time
			total decimal.Decimal
		)
		if err := rows.Scan(&day, &total); err != nil {
			return nil, fmt.Errorf("failed to scan daily total: %w", err)
		}
		totals[day.UTC()] = total
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate daily totals: %w", err)
	}
	return totals, nil
}

// ListRecords returns the tenant's cost records in [start, end], oldest
// first.
func (s *Store) ListRecords(ctx context.Context, sess jobs.Session, tenantID uuid.UUID, start, end time.Time) ([]domain.CostRecord, error) {
	rows, err := sess.Query(ctx, `
		SELECT id, tenant_id, connection_id, provider, service, usage_date, amount, currency
		FROM cost_records
		WHERE tenant_id = $1 AND usage_date >= $2 AND usage_date <= $3
		ORDER BY usage_date, provider, service`, tenantID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to list cost records: %w", err)
	}
	defer rows.Close()

	var out []domain.CostRecord
	for rows.Next() {
		var r domain.CostRecord
		if err := rows.Scan(&r.ID, &r.TenantID, &r.ConnectionID, &r.Provider,
			&r.Service, &r.UsageDate, &r.Amount, &r.Currency); err != nil {
			return nil, fmt.Errorf("failed to scan cost record: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate cost records: %w", err)
	}
	return out, nil
}

// UpsertAggregate writes one rollup cell, replacing any previous total.
func (s *Store) UpsertAggregate(ctx context.Context, sess jobs.Session, agg *domain.CostAggregate) error {
	if _, err := sess.Exec(ctx, `
		INSERT INTO cost_aggregates (tenant_id, provider, period_start, granularity, total)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id, provider, period_start, granularity) DO UPDATE
		SET total = EXCLUDED.total, updated_at = now()`,
		agg.TenantID, agg.Provider, agg.PeriodStart, agg.Granularity, agg.Total); err != nil {
		return fmt.Errorf("failed to upsert cost aggregate: %w", err)
	}
	return nil
}

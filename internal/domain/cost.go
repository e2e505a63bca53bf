package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Granularity is the time bucket of a cost record or aggregate.
type Granularity string

const (
	GranularityDaily   Granularity = "daily"
	GranularityMonthly Granularity = "monthly"
)

// CostRecord is one normalized cost-and-usage line ingested from a cloud
// provider. Uniqueness on (tenant, connection, service, usage date) makes
// re-ingestion idempotent.
type CostRecord struct {
	ID           uuid.UUID
	TenantID     uuid.UUID
	ConnectionID uuid.UUID
	Provider     Provider
	Service      string
	UsageDate    time.Time // date precision
	Amount       decimal.Decimal
	Currency     string
}

// CostAggregate is a rollup of cost records for one (tenant, provider,
// period, granularity) cell, maintained by the cost_aggregation handler.
type CostAggregate struct {
	TenantID    uuid.UUID
	Provider    Provider
	PeriodStart time.Time
	Granularity Granularity
	Total       decimal.Decimal
}

// UsageSummary is the compact view of a tenant's recent spend handed to the
// LLM analyzer and the report generator.
type UsageSummary struct {
	TenantID    uuid.UUID
	WindowStart time.Time
	WindowEnd   time.Time
	TotalCost   decimal.Decimal
	ByProvider  map[Provider]decimal.Decimal
	ByService   map[string]decimal.Decimal
	RecordCount int
}

// AnalysisKind tags stored analyzer output.
type AnalysisKind string

const (
	AnalysisFinOps AnalysisKind = "finops"
	AnalysisZombie AnalysisKind = "zombie"
	AnalysisReport AnalysisKind = "report"
)

// AnalysisResult is persisted LLM or report output for a tenant.
type AnalysisResult struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	Kind      AnalysisKind
	Model     string // empty for non-LLM reports
	Content   map[string]any
	CreatedAt time.Time
}

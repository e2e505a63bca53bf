package jobs

import (
	"context"
	"iter"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/costwarden/costwarden/internal/domain"
)

// Collaborator contracts the handlers consume. Implementations live under
// internal/infrastructure; handlers depend only on these interfaces.

// CostAdapter streams normalized cost-and-usage records from one cloud
// connection. The sequence is lazy; per-record errors surface as the second
// element so a failing page does not discard records already yielded.
type CostAdapter interface {
	StreamCostAndUsage(ctx context.Context, start, end time.Time, granularity domain.Granularity) iter.Seq2[domain.CostRecord, error]
}

// CostAdapterFactory builds the provider-specific cost adapter for a
// connection.
type CostAdapterFactory interface {
	Adapter(ctx context.Context, conn *domain.CloudConnection) (CostAdapter, error)
}

// Notifier is the alerting sink. SendAlert reports delivery success; a
// false return is never an error, notifications are best-effort.
type Notifier interface {
	Configured() bool
	SendAlert(ctx context.Context, title, message, severity string) bool
}

// Analyzer is the LLM collaborator behind the analysis handlers.
type Analyzer interface {
	Model() string
	Analyze(ctx context.Context, kind domain.AnalysisKind, summary map[string]any) (map[string]any, error)
}

// Charger executes a subscription renewal charge with the billing provider.
type Charger interface {
	ChargeRenewal(ctx context.Context, sub *domain.Subscription) (bool, error)
}

// WebhookDispatcher delivers a webhook payload to an arbitrary target.
type WebhookDispatcher interface {
	Dispatch(ctx context.Context, url string, data map[string]any, headers map[string]string, idempotencyKey string) error
}

// RateLimiter is the atomic fixed-window counter behind the remediation
// action cap (50 actions per action-type per hour).
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// Exporter writes a cost export object and returns its path.
type Exporter interface {
	WriteCSV(ctx context.Context, objectPath string, header []string, rows [][]string) (string, error)
}

// === Tenant-scoped data access ===
//
// Methods take the handler's Session so every read and write runs under the
// job's tenant context and inside the handler transaction.

// TenantReader looks up tenants for tier gating and notifications.
type TenantReader interface {
	FindTenant(ctx context.Context, sess Session, id uuid.UUID) (*domain.Tenant, error)
}

// ConnectionReader enumerates a tenant's cloud connections.
type ConnectionReader interface {
	ListActiveConnections(ctx context.Context, sess Session, tenantID uuid.UUID) ([]*domain.CloudConnection, error)
}

// CostStore persists and summarizes ingested cost data.
type CostStore interface {
	UpsertCloudAccount(ctx context.Context, sess Session, account *domain.CloudAccount) error
	InsertCostRecords(ctx context.Context, sess Session, records []domain.CostRecord) (inserted int, err error)
	UsageSummary(ctx context.Context, sess Session, tenantID uuid.UUID, start, end time.Time) (*domain.UsageSummary, error)
	DailyTotals(ctx context.Context, sess Session, tenantID uuid.UUID, start, end time.Time) (map[time.Time]decimal.Decimal, error)
	ListRecords(ctx context.Context, sess Session, tenantID uuid.UUID, start, end time.Time) ([]domain.CostRecord, error)
	UpsertAggregate(ctx context.Context, sess Session, agg *domain.CostAggregate) error
}

// AnalysisStore persists analyzer and report output.
type AnalysisStore interface {
	SaveAnalysis(ctx context.Context, sess Session, result *domain.AnalysisResult) error
}

// RemediationStore records planned and executed remediation actions.
type RemediationStore interface {
	RecordAction(ctx context.Context, sess Session, action *domain.RemediationAction) error
}

// SubscriptionStore reads and advances billing subscriptions. Billing jobs
// are system-scoped, so these methods run on system sessions.
type SubscriptionStore interface {
	FindSubscription(ctx context.Context, sess Session, id uuid.UUID) (*domain.Subscription, error)
	MarkCharged(ctx context.Context, sess Session, id uuid.UUID, nextPayment time.Time) error
	MarkPastDue(ctx context.Context, sess Session, id uuid.UUID) error
	AdvanceDunning(ctx context.Context, sess Session, id uuid.UUID) (stage int, err error)
}

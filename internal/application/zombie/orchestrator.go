package zombie

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/costwarden/costwarden/internal/domain"
)

// Config tunes the scan fan-out.
type Config struct {
	PluginTimeout time.Duration // per-plugin deadline (default 30s)
	ScanDeadline  time.Duration // overall fan-out deadline (default 300s)
	Concurrency   int64         // bound on parallel plugin scans (default 10)
}

func (c *Config) applyDefaults() {
	if c.PluginTimeout <= 0 {
		c.PluginTimeout = 30 * time.Second
	}
	if c.ScanDeadline <= 0 {
		c.ScanDeadline = 300 * time.Second
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 10
	}
}

// AnalysisEnqueuer schedules the asynchronous LLM follow-up after a clean
// scan. The narrow interface keeps the orchestrator free of queue details.
type AnalysisEnqueuer interface {
	EnqueueZombieAnalysis(ctx context.Context, tenantID uuid.UUID, dedupKey string, summary map[string]any) error
}

// Notifier mirrors the alerting contract; nil disables notifications.
type Notifier interface {
	Configured() bool
	SendAlert(ctx context.Context, title, message, severity string) bool
}

// ScanParams carries one scan invocation. The caller (the zombie_scan
// handler) resolves tenant and connections under its own session so the
// orchestrator never touches the database directly.
type ScanParams struct {
	Tenant      *domain.Tenant
	Connections []*domain.CloudConnection
	Region      string
	Analyze     bool

	// OnCategoryComplete checkpoints partial results after each plugin,
	// before aggregation. Failures are logged, never propagated.
	OnCategoryComplete func(categoryKey string, items []domain.WasteItem)
}

// Orchestrator fans provider detectors out across a tenant's cloud
// connections under a hard deadline, checkpointing partials and aggregating
// normalized waste metrics.
type Orchestrator struct {
	factory  DetectorFactory
	analyses AnalysisEnqueuer
	notifier Notifier
	cfg      Config

	scanTimeouts metric.Int64Counter
}

// NewOrchestrator wires an orchestrator. analyses and notifier may be nil.
func NewOrchestrator(factory DetectorFactory, analyses AnalysisEnqueuer, notifier Notifier, cfg Config) *Orchestrator {
	cfg.applyDefaults()

	meter := otel.Meter("costwarden.zombiescan")
	scanTimeouts, _ := meter.Int64Counter("zombiescan.timeouts",
		metric.WithDescription("Scan deadline expiries, labeled by level"))

	return &Orchestrator{
		factory:      factory,
		analyses:     analyses,
		notifier:     notifier,
		cfg:          cfg,
		scanTimeouts: scanTimeouts,
	}
}

// Scan runs every plugin of every connection's detector in parallel, bounded
// by the configured semaphore, under the overall deadline. On deadline
// expiry partial results are returned with scan_timeout and partial_results
// set. The result's total is always the two-decimal sum of item costs.
func (o *Orchestrator) Scan(ctx context.Context, params ScanParams) (*domain.ScanResult, error) {
	if params.Tenant == nil {
		return nil, errors.New("scan requires a tenant")
	}

	result := &domain.ScanResult{
		Categories:         make(map[string][]domain.WasteItem),
		ScannedAt:          time.Now().UTC(),
		Region:             params.Region,
		ConnectionsScanned: len(params.Connections),
		Provider:           providerTag(params.Connections),
	}

	scanCtx, cancel := context.WithTimeout(ctx, o.cfg.ScanDeadline)
	defer cancel()

	sem := semaphore.NewWeighted(o.cfg.Concurrency)
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(scanCtx)

	for _, conn := range params.Connections {
		detector, err := o.factory.Detector(scanCtx, conn, params.Region)
		if err != nil {
			slog.WarnContext(ctx, "failed to build detector, skipping connection",
				"connection_id", conn.ID, "provider", conn.Provider, "error", err)
			continue
		}

		for _, plugin := range detector.Plugins() {
			g.Go(func() error {
				if err := sem.Acquire(gctx, 1); err != nil {
					return nil // deadline hit while queued; partials already collected
				}
				defer sem.Release(1)

				items := o.runPlugin(gctx, conn, plugin)
				items = annotate(items, conn, params.Tenant.Tier)
				key := domain.NormalizeCategory(plugin.CategoryKey())

				o.checkpoint(ctx, params.OnCategoryComplete, key, items)

				if len(items) > 0 {
					mu.Lock()
					result.Categories[key] = append(result.Categories[key], items...)
					mu.Unlock()
				}
				return nil
			})
		}
	}

	_ = g.Wait() // plugin goroutines never return errors

	if scanCtx.Err() != nil {
		result.ScanTimeout = true
		result.PartialResults = true
		o.scanTimeouts.Add(ctx, 1, metric.WithAttributes(attribute.String("level", "overall")))
		slog.WarnContext(ctx, "zombie scan hit overall deadline, returning partial results",
			"tenant_id", params.Tenant.ID, "deadline", o.cfg.ScanDeadline)
	}

	result.RecomputeTotal()

	if params.Analyze && !result.ScanTimeout {
		o.enqueueAnalysis(ctx, params.Tenant, result)
	}

	o.notify(ctx, params.Tenant, result)

	return result, nil
}

// runPlugin executes one plugin under the per-plugin timeout. Timeouts and
// provider API failures both yield an empty list; neither fails the scan.
func (o *Orchestrator) runPlugin(ctx context.Context, conn *domain.CloudConnection, plugin Plugin) []domain.WasteItem {
	pctx, cancel := context.WithTimeout(ctx, o.cfg.PluginTimeout)
	defer cancel()

	items, err := plugin.Scan(pctx)
	if err != nil {
		level := "plugin"
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			o.scanTimeouts.Add(ctx, 1, metric.WithAttributes(attribute.String("level", level)))
		}
		slog.WarnContext(ctx, "plugin scan failed, treating as empty",
			"category", plugin.CategoryKey(),
			"connection_id", conn.ID,
			"provider", conn.Provider,
			"error", err)
		return nil
	}
	return items
}

// checkpoint invokes the partial-progress callback, swallowing both errors
// and panics: a broken checkpoint must never lose scan work.
func (o *Orchestrator) checkpoint(ctx context.Context, cb func(string, []domain.WasteItem), key string, items []domain.WasteItem) {
	if cb == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.WarnContext(ctx, "checkpoint callback panicked", "category", key, "panic", r)
		}
	}()
	cb(key, items)
}

func (o *Orchestrator) enqueueAnalysis(ctx context.Context, tenant *domain.Tenant, result *domain.ScanResult) {
	if o.analyses == nil {
		return
	}
	bucket := time.Now().UTC().Format("2006-01-02-15")
	dedupKey := fmt.Sprintf("%s:%s:%s", tenant.ID, domain.JobTypeZombieAnalysis, bucket)
	summary := map[string]any{
		"total_monthly_waste": result.TotalMonthlyWaste.String(),
		"zombies_found":       result.ZombieCount(),
		"connections_scanned": result.ConnectionsScanned,
		"scanned_at":          result.ScannedAt.Format(time.RFC3339),
	}
	if err := o.analyses.EnqueueZombieAnalysis(ctx, tenant.ID, dedupKey, summary); err != nil {
		slog.WarnContext(ctx, "failed to enqueue zombie analysis follow-up",
			"tenant_id", tenant.ID, "error", err)
	}
}

// notify sends the best-effort end-of-scan alert. Failures never mutate the
// result.
func (o *Orchestrator) notify(ctx context.Context, tenant *domain.Tenant, result *domain.ScanResult) {
	if o.notifier == nil || !o.notifier.Configured() {
		return
	}
	count := result.ZombieCount()
	if count == 0 && !result.ScanTimeout {
		return
	}
	severity := "info"
	if result.ScanTimeout {
		severity = "warning"
	}
	title := fmt.Sprintf("Zombie scan finished for %s", tenant.Name)
	message := fmt.Sprintf("%d zombie resources, estimated $%s/month waste across %d connections",
		count, result.TotalMonthlyWaste.StringFixed(2), result.ConnectionsScanned)
	if result.ScanTimeout {
		message += " (partial: scan hit its deadline)"
	}
	o.notifier.SendAlert(ctx, title, message, severity)
}

// annotate stamps connection identity on every item and applies tier gating:
// tenants below the Growth tier see the upgrade placeholder instead of GPU
// and owner attribution.
func annotate(items []domain.WasteItem, conn *domain.CloudConnection, tier domain.Tier) []domain.WasteItem {
	gated := !tier.AtLeastGrowth()
	for i := range items {
		items[i].Provider = conn.Provider
		items[i].ConnectionID = conn.ID
		items[i].ConnectionName = conn.Name
		if items[i].Region == "" {
			items[i].Region = conn.Region
		}
		if gated {
			items[i].IsGPU = domain.TierGatedPlaceholder
			items[i].Owner = domain.TierGatedPlaceholder
		}
	}
	return items
}

// providerTag summarizes the provider set for the result header.
func providerTag(conns []*domain.CloudConnection) string {
	seen := make(map[domain.Provider]bool)
	for _, c := range conns {
		seen[c.Provider] = true
	}
	if len(seen) == 1 {
		for p := range seen {
			return string(p)
		}
	}
	if len(seen) > 1 {
		return "multi"
	}
	return ""
}

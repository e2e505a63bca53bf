// Package bootstrap wires collaborators and the job handler registry for the
// server and worker binaries.
package bootstrap

import (
	"context"
	"fmt"

	gcstorage "cloud.google.com/go/storage"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/costwarden/costwarden/internal/application/jobs"
	"github.com/costwarden/costwarden/internal/application/zombie"
	"github.com/costwarden/costwarden/internal/config"
	"github.com/costwarden/costwarden/internal/domain"
	"github.com/costwarden/costwarden/internal/infrastructure/billing"
	"github.com/costwarden/costwarden/internal/infrastructure/cloudcost"
	"github.com/costwarden/costwarden/internal/infrastructure/cloudscan"
	"github.com/costwarden/costwarden/internal/infrastructure/export"
	"github.com/costwarden/costwarden/internal/infrastructure/llm"
	"github.com/costwarden/costwarden/internal/infrastructure/notify"
	"github.com/costwarden/costwarden/internal/infrastructure/persistence/postgres"
	"github.com/costwarden/costwarden/internal/infrastructure/ratelimit"
	"github.com/costwarden/costwarden/internal/infrastructure/webhook"
)

// Collaborators holds the external-service adapters the job handlers use.
// Optional collaborators stay nil when unconfigured; handlers degrade to
// explicit "skipped" results.
type Collaborators struct {
	Notifier   *notify.SlackNotifier
	Analyzer   jobs.Analyzer
	Charger    jobs.Charger
	Dispatcher *webhook.Dispatcher
	Limiter    jobs.RateLimiter
	Exporter   jobs.Exporter

	// RedisClient is non-nil when REDIS_URL is set; the owner closes it on
	// shutdown.
	RedisClient *redis.Client
}

// NewCollaborators builds the collaborator set from configuration.
func NewCollaborators(ctx context.Context, cloud config.CloudConfig, redisCfg config.RedisConfig) (*Collaborators, error) {
	c := &Collaborators{
		Notifier:   notify.NewSlackNotifier(cloud.SlackWebhookURL),
		Charger:    billing.NewCharger(cloud.BillingAPIURL, cloud.BillingAPISecret),
		Dispatcher: webhook.NewDispatcher(),
	}

	// Interface fields are only assigned when configured so nil checks in
	// the handlers see a nil interface, not a typed nil.
	if cloud.AnthropicAPIKey != "" {
		c.Analyzer = llm.NewAnthropicAnalyzer(cloud.AnthropicAPIKey, cloud.AnthropicModel)
	}

	if redisCfg.Enabled() {
		opts, err := redis.ParseURL(redisCfg.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse REDIS_URL: %w", err)
		}
		c.RedisClient = redis.NewClient(opts)
		c.Limiter = ratelimit.NewRedisLimiter(c.RedisClient)
	} else {
		c.Limiter = ratelimit.NewLocalLimiter()
	}

	if cloud.ExportBucket != "" {
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create storage client for export bucket: %w", err)
		}
		c.Exporter = export.NewGCSExporter(client, cloud.ExportBucket)
	}

	return c, nil
}

// Close releases collaborator resources.
func (c *Collaborators) Close() error {
	if c.RedisClient != nil {
		return c.RedisClient.Close()
	}
	return nil
}

// NewOrchestrator builds the zombie-scan orchestrator over the cloud
// detector factory, with scan follow-ups enqueued on the store.
func NewOrchestrator(store *postgres.Store, collab *Collaborators, cfg zombie.Config) *zombie.Orchestrator {
	return zombie.NewOrchestrator(
		cloudscan.NewFactory(),
		analysisEnqueuer{queue: store},
		collab.Notifier,
		cfg,
	)
}

// BuildRegistry binds every job type to its handler.
func BuildRegistry(store *postgres.Store, collab *Collaborators, orchestrator *zombie.Orchestrator) *jobs.Registry {
	registry := jobs.NewRegistry()

	registry.Register(domain.JobTypeFinOpsAnalysis,
		jobs.NewFinOpsAnalysisHandler(store, store, collab.Analyzer))
	registry.Register(domain.JobTypeZombieScan,
		jobs.NewZombieScanHandler(orchestrator, store, store, store))
	registry.Register(domain.JobTypeZombieAnalysis,
		jobs.NewZombieAnalysisHandler(collab.Analyzer, store))
	registry.Register(domain.JobTypeRemediation,
		jobs.NewRemediationHandler(orchestrator, store, store, store, collab.Limiter))

	webhookHandler := jobs.NewWebhookRetryHandler(collab.Dispatcher)
	webhookHandler.RegisterProvider("paystack", billing.NewPaystackWebhookHandler(store))
	registry.Register(domain.JobTypeWebhookRetry, webhookHandler)

	registry.Register(domain.JobTypeNotification,
		jobs.NewNotificationHandler(collab.Notifier))
	registry.Register(domain.JobTypeCostIngestion,
		jobs.NewCostIngestionHandler(store, cloudcost.NewFactory(), store))
	registry.Register(domain.JobTypeRecurringBilling,
		jobs.NewRecurringBillingHandler(store, collab.Charger))
	registry.Register(domain.JobTypeReportGeneration,
		jobs.NewReportGenerationHandler(store, store, collab.Notifier))
	registry.Register(domain.JobTypeCostForecast,
		jobs.NewCostForecastHandler(store))
	registry.Register(domain.JobTypeCostExport,
		jobs.NewCostExportHandler(store, collab.Exporter))
	registry.Register(domain.JobTypeCostAggregation,
		jobs.NewCostAggregationHandler(store))
	registry.Register(domain.JobTypeDunning,
		jobs.NewDunningHandler(store, collab.Notifier))

	return registry
}

// analysisEnqueuer adapts the job queue to the orchestrator's follow-up
// contract.
type analysisEnqueuer struct {
	queue jobs.Enqueuer
}

func (a analysisEnqueuer) EnqueueZombieAnalysis(ctx context.Context, tenantID uuid.UUID, dedupKey string, summary map[string]any) error {
	_, err := a.queue.Enqueue(ctx, jobs.EnqueueParams{
		Type:     domain.JobTypeZombieAnalysis,
		TenantID: &tenantID,
		DedupKey: &dedupKey,
		Payload:  map[string]any{"summary": summary},
	})
	return err
}

package jobs

import (
	"context"
	"log/slog"
	"sync"

	"github.com/costwarden/costwarden/internal/application/zombie"
	"github.com/costwarden/costwarden/internal/domain"
)

// ZombieScanHandler runs the multi-cloud zombie scan for one tenant via the
// orchestrator, checkpointing partial category results into the job record
// as they arrive.
type ZombieScanHandler struct {
	orchestrator *zombie.Orchestrator
	tenants      TenantReader
	connections  ConnectionReader
	checkpoints  Store
}

// NewZombieScanHandler wires the zombie_scan handler.
func NewZombieScanHandler(orchestrator *zombie.Orchestrator, tenants TenantReader, connections ConnectionReader, checkpoints Store) *ZombieScanHandler {
	return &ZombieScanHandler{
		orchestrator: orchestrator,
		tenants:      tenants,
		connections:  connections,
		checkpoints:  checkpoints,
	}
}

func (h *ZombieScanHandler) Execute(ctx context.Context, job *domain.Job, sess Session) (map[string]any, error) {
	if job.TenantID == nil {
		return nil, InvalidInput("tenant_id", "zombie_scan requires a tenant")
	}

	tenant, err := h.tenants.FindTenant(ctx, sess, *job.TenantID)
	if err != nil {
		return nil, Transient(err)
	}

	connections, err := h.connections.ListActiveConnections(ctx, sess, tenant.ID)
	if err != nil {
		return nil, Transient(err)
	}

	region, _ := payloadString(job.Payload, "region")

	// Partial results accumulate under payload.partial_scan through the
	// store, not the handler transaction, so they survive a rollback and a
	// crashed attempt surfaces its progress to the next one.
	var mu sync.Mutex
	partial := make(map[string]any)
	onCategory := func(categoryKey string, items []domain.WasteItem) {
		mu.Lock()
		partial[categoryKey] = items
		snapshot := make(map[string]any, len(partial))
		for k, v := range partial {
			snapshot[k] = v
		}
		mu.Unlock()
		if err := h.checkpoints.SaveCheckpoint(ctx, job.ID, "partial_scan", snapshot); err != nil {
			slog.WarnContext(ctx, "failed to checkpoint scan partials",
				"job_id", job.ID, "category", categoryKey, "error", err)
		}
	}

	result, err := h.orchestrator.Scan(ctx, zombie.ScanParams{
		Tenant:             tenant,
		Connections:        connections,
		Region:             region,
		Analyze:            optionalBool(job.Payload, "analyze"),
		OnCategoryComplete: onCategory,
	})
	if err != nil {
		return nil, Transient(err)
	}

	status := "completed"
	if result.ScanTimeout {
		status = "partial"
	}
	return map[string]any{
		"status":        status,
		"zombies_found": result.ZombieCount(),
		"total_waste":   result.TotalMonthlyWaste.StringFixed(2),
		"results":       result,
	}, nil
}

// ZombieAnalysisHandler is the asynchronous LLM follow-up the orchestrator
// enqueues after a clean scan.
type ZombieAnalysisHandler struct {
	analyzer Analyzer
	analyses AnalysisStore
}

// NewZombieAnalysisHandler wires the zombie_analysis handler. analyzer may
// be nil when no LLM collaborator is configured.
func NewZombieAnalysisHandler(analyzer Analyzer, analyses AnalysisStore) *ZombieAnalysisHandler {
	return &ZombieAnalysisHandler{analyzer: analyzer, analyses: analyses}
}

func (h *ZombieAnalysisHandler) Execute(ctx context.Context, job *domain.Job, sess Session) (map[string]any, error) {
	if job.TenantID == nil {
		return nil, InvalidInput("tenant_id", "zombie_analysis requires a tenant")
	}
	if h.analyzer == nil {
		return map[string]any{"status": "skipped", "reason": "analyzer_not_configured"}, nil
	}

	summary := optionalMap(job.Payload, "summary")
	if summary == nil {
		summary = job.Payload
	}

	content, err := h.analyzer.Analyze(ctx, domain.AnalysisZombie, summary)
	if err != nil {
		return nil, Transient(err)
	}

	saved := &domain.AnalysisResult{
		TenantID: *job.TenantID,
		Kind:     domain.AnalysisZombie,
		Model:    h.analyzer.Model(),
		Content:  content,
	}
	if err := h.analyses.SaveAnalysis(ctx, sess, saved); err != nil {
		return nil, Transient(err)
	}

	return map[string]any{"status": "completed", "model": h.analyzer.Model()}, nil
}

package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/costwarden/costwarden/internal/application/zombie"
	"github.com/costwarden/costwarden/internal/domain"
)

// remediationRateLimit caps executed actions per action-type per tenant per
// hour.
const (
	remediationRateLimit  = 50
	remediationRateWindow = time.Hour
)

// RemediationHandler re-scans the tenant's resources and plans or executes
// remediation for waste items the tenant's policy allows, under the per-type
// hourly rate limit.
type RemediationHandler struct {
	orchestrator *zombie.Orchestrator
	tenants      TenantReader
	connections  ConnectionReader
	remediations RemediationStore
	limiter      RateLimiter
}

// NewRemediationHandler wires the remediation handler.
func NewRemediationHandler(orchestrator *zombie.Orchestrator, tenants TenantReader, connections ConnectionReader, remediations RemediationStore, limiter RateLimiter) *RemediationHandler {
	return &RemediationHandler{
		orchestrator: orchestrator,
		tenants:      tenants,
		connections:  connections,
		remediations: remediations,
		limiter:      limiter,
	}
}

func (h *RemediationHandler) Execute(ctx context.Context, job *domain.Job, sess Session) (map[string]any, error) {
	if job.TenantID == nil {
		return nil, InvalidInput("tenant_id", "remediation requires a tenant")
	}

	tenant, err := h.tenants.FindTenant(ctx, sess, *job.TenantID)
	if err != nil {
		return nil, Transient(err)
	}
	if tenant.Remediation.Mode == domain.RemediationDisabled || tenant.Remediation.Mode == "" {
		return map[string]any{"status": "skipped", "reason": "remediation_disabled"}, nil
	}

	connections, err := h.connections.ListActiveConnections(ctx, sess, tenant.ID)
	if err != nil {
		return nil, Transient(err)
	}

	scan, err := h.orchestrator.Scan(ctx, zombie.ScanParams{
		Tenant:      tenant,
		Connections: connections,
	})
	if err != nil {
		return nil, Transient(err)
	}

	planned, executed, skipped := 0, 0, 0
	for _, items := range scan.Categories {
		for _, item := range items {
			outcome, err := h.remediate(ctx, sess, tenant, item)
			if err != nil {
				return nil, err
			}
			switch outcome {
			case domain.RemediationActionPlanned:
				planned++
			case domain.RemediationActionExecuted:
				executed++
			default:
				skipped++
			}
		}
	}

	return map[string]any{
		"status":   "completed",
		"planned":  planned,
		"executed": executed,
		"skipped":  skipped,
		"scanned":  scan.ZombieCount(),
	}, nil
}

func (h *RemediationHandler) remediate(ctx context.Context, sess Session, tenant *domain.Tenant, item domain.WasteItem) (domain.RemediationActionStatus, error) {
	if !tenant.Remediation.Allows(item.Action, item.ConfidenceScore) {
		return domain.RemediationActionSkipped, nil
	}

	status := domain.RemediationActionPlanned
	var executedAt *time.Time

	if tenant.Remediation.Mode == domain.RemediationExecute {
		key := fmt.Sprintf("remediation:%s:%s", tenant.ID, item.Action)
		allowed, err := h.limiter.Allow(ctx, key, remediationRateLimit, remediationRateWindow)
		if err != nil {
			return "", Transient(err)
		}
		if !allowed {
			slog.WarnContext(ctx, "remediation rate limit hit, planning instead of executing",
				"tenant_id", tenant.ID, "action", item.Action)
		} else {
			status = domain.RemediationActionExecuted
			now := time.Now().UTC()
			executedAt = &now
		}
	}

	action := &domain.RemediationAction{
		TenantID:       tenant.ID,
		ConnectionID:   item.ConnectionID,
		Action:         item.Action,
		ResourceID:     item.ResourceID,
		Status:         status,
		MonthlySavings: item.MonthlyCost,
		ExecutedAt:     executedAt,
	}
	if err := h.remediations.RecordAction(ctx, sess, action); err != nil {
		return "", Transient(err)
	}
	return status, nil
}

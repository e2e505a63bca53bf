package jobs

import (
	"context"
	"time"

	"github.com/costwarden/costwarden/internal/domain"
)

// FinOpsAnalysisHandler summarizes the tenant's last 30 days of normalized
// usage and delegates the analysis itself to the LLM collaborator.
type FinOpsAnalysisHandler struct {
	costs    CostStore
	analyses AnalysisStore
	analyzer Analyzer
}

// NewFinOpsAnalysisHandler wires the finops_analysis handler. analyzer may
// be nil when no LLM collaborator is configured.
func NewFinOpsAnalysisHandler(costs CostStore, analyses AnalysisStore, analyzer Analyzer) *FinOpsAnalysisHandler {
	return &FinOpsAnalysisHandler{costs: costs, analyses: analyses, analyzer: analyzer}
}

func (h *FinOpsAnalysisHandler) Execute(ctx context.Context, job *domain.Job, sess Session) (map[string]any, error) {
	if job.TenantID == nil {
		return nil, InvalidInput("tenant_id", "finops_analysis requires a tenant")
	}
	if h.analyzer == nil {
		return map[string]any{"status": "skipped", "reason": "analyzer_not_configured"}, nil
	}

	end := time.Now().UTC()
	start := end.AddDate(0, 0, -30)

	summary, err := h.costs.UsageSummary(ctx, sess, *job.TenantID, start, end)
	if err != nil {
		return nil, Transient(err)
	}

	byProvider := make(map[string]string, len(summary.ByProvider))
	for p, amount := range summary.ByProvider {
		byProvider[string(p)] = amount.StringFixed(2)
	}
	byService := make(map[string]string, len(summary.ByService))
	for s, amount := range summary.ByService {
		byService[s] = amount.StringFixed(2)
	}

	content, err := h.analyzer.Analyze(ctx, domain.AnalysisFinOps, map[string]any{
		"window_start": start.Format("2006-01-02"),
		"window_end":   end.Format("2006-01-02"),
		"total_cost":   summary.TotalCost.StringFixed(2),
		"by_provider":  byProvider,
		"by_service":   byService,
		"record_count": summary.RecordCount,
	})
	if err != nil {
		return nil, Transient(err)
	}

	saved := &domain.AnalysisResult{
		TenantID: *job.TenantID,
		Kind:     domain.AnalysisFinOps,
		Model:    h.analyzer.Model(),
		Content:  content,
	}
	if err := h.analyses.SaveAnalysis(ctx, sess, saved); err != nil {
		return nil, Transient(err)
	}

	return map[string]any{
		"status":       "completed",
		"model":        h.analyzer.Model(),
		"total_cost":   summary.TotalCost.StringFixed(2),
		"record_count": summary.RecordCount,
	}, nil
}

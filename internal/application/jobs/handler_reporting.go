package jobs

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/costwarden/costwarden/internal/domain"
)

// ReportGenerationHandler builds a period cost report (totals by provider
// and service) and stores it as an analysis result.
type ReportGenerationHandler struct {
	costs    CostStore
	analyses AnalysisStore
	notifier Notifier
}

// NewReportGenerationHandler wires the report_generation handler.
func NewReportGenerationHandler(costs CostStore, analyses AnalysisStore, notifier Notifier) *ReportGenerationHandler {
	return &ReportGenerationHandler{costs: costs, analyses: analyses, notifier: notifier}
}

func (h *ReportGenerationHandler) Execute(ctx context.Context, job *domain.Job, sess Session) (map[string]any, error) {
	if job.TenantID == nil {
		return nil, InvalidInput("tenant_id", "report_generation requires a tenant")
	}

	end := optionalDate(job.Payload, "period_end", time.Now().UTC())
	start := optionalDate(job.Payload, "period_start", end.AddDate(0, -1, 0))

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

	content := map[string]any{
		"period_start": start.Format("2006-01-02"),
		"period_end":   end.Format("2006-01-02"),
		"total_cost":   summary.TotalCost.StringFixed(2),
		"by_provider":  byProvider,
		"by_service":   byService,
		"record_count": summary.RecordCount,
	}
	saved := &domain.AnalysisResult{
		TenantID: *job.TenantID,
		Kind:     domain.AnalysisReport,
		Content:  content,
	}
	if err := h.analyses.SaveAnalysis(ctx, sess, saved); err != nil {
		return nil, Transient(err)
	}

	if h.notifier != nil && h.notifier.Configured() && optionalBool(job.Payload, "notify") {
		h.notifier.SendAlert(ctx,
			"Cost report ready",
			fmt.Sprintf("Spend %s to %s: $%s across %d records",
				start.Format("2006-01-02"), end.Format("2006-01-02"),
				summary.TotalCost.StringFixed(2), summary.RecordCount),
			"info")
	}

	return map[string]any{"status": "completed", "total_cost": summary.TotalCost.StringFixed(2)}, nil
}

// CostForecastHandler projects the next 30 days of spend linearly from the
// tenant's recent daily totals.
type CostForecastHandler struct {
	costs CostStore
}

// NewCostForecastHandler wires the cost_forecast handler.
func NewCostForecastHandler(costs CostStore) *CostForecastHandler {
	return &CostForecastHandler{costs: costs}
}

func (h *CostForecastHandler) Execute(ctx context.Context, job *domain.Job, sess Session) (map[string]any, error) {
	if job.TenantID == nil {
		return nil, InvalidInput("tenant_id", "cost_forecast requires a tenant")
	}

	const windowDays = 30
	end := time.Now().UTC()
	start := end.AddDate(0, 0, -windowDays)

	daily, err := h.costs.DailyTotals(ctx, sess, *job.TenantID, start, end)
	if err != nil {
		return nil, Transient(err)
	}

	total := decimal.Zero
	for _, amount := range daily {
		total = total.Add(amount)
	}

	days := len(daily)
	if days == 0 {
		return map[string]any{
			"status":         "completed",
			"forecast_total": "0.00",
			"daily_rate":     "0.00",
			"window_days":    windowDays,
		}, nil
	}

	dailyRate := total.Div(decimal.NewFromInt(int64(days)))
	forecast := dailyRate.Mul(decimal.NewFromInt(windowDays))

	return map[string]any{
		"status":         "completed",
		"forecast_total": forecast.StringFixed(2),
		"daily_rate":     dailyRate.StringFixed(2),
		"window_days":    windowDays,
	}, nil
}

// CostAggregationHandler maintains the daily and monthly rollups the
// dashboards and the forecast read.
type CostAggregationHandler struct {
	costs CostStore
}

// NewCostAggregationHandler wires the cost_aggregation handler.
func NewCostAggregationHandler(costs CostStore) *CostAggregationHandler {
	return &CostAggregationHandler{costs: costs}
}

func (h *CostAggregationHandler) Execute(ctx context.Context, job *domain.Job, sess Session) (map[string]any, error) {
	if job.TenantID == nil {
		return nil, InvalidInput("tenant_id", "cost_aggregation requires a tenant")
	}

	end := time.Now().UTC()
	start := end.AddDate(0, -1, 0)

	records, err := h.costs.ListRecords(ctx, sess, *job.TenantID, start, end)
	if err != nil {
		return nil, Transient(err)
	}

	type cell struct {
		provider    domain.Provider
		periodStart time.Time
		granularity domain.Granularity
	}
	totals := make(map[cell]decimal.Decimal)
	for _, r := range records {
		day := r.UsageDate.Truncate(24 * time.Hour)
		month := time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, time.UTC)
		totals[cell{r.Provider, day, domain.GranularityDaily}] = totals[cell{r.Provider, day, domain.GranularityDaily}].Add(r.Amount)
		totals[cell{r.Provider, month, domain.GranularityMonthly}] = totals[cell{r.Provider, month, domain.GranularityMonthly}].Add(r.Amount)
	}

	cells := make([]cell, 0, len(totals))
	for c := range totals {
		cells = append(cells, c)
	}
	sort.Slice(cells, func(i, j int) bool {
		if !cells[i].periodStart.Equal(cells[j].periodStart) {
			return cells[i].periodStart.Before(cells[j].periodStart)
		}
		return cells[i].provider < cells[j].provider
	})

	for _, c := range cells {
		agg := &domain.CostAggregate{
			TenantID:    *job.TenantID,
			Provider:    c.provider,
			PeriodStart: c.periodStart,
			Granularity: c.granularity,
			Total:       totals[c].Round(2),
		}
		if err := h.costs.UpsertAggregate(ctx, sess, agg); err != nil {
			return nil, Transient(err)
		}
	}

	return map[string]any{"status": "completed", "cells": len(totals), "records": len(records)}, nil
}

// CostExportHandler streams the tenant's cost records for a period into a
// CSV object.
type CostExportHandler struct {
	costs    CostStore
	exporter Exporter
}

// NewCostExportHandler wires the cost_export handler. exporter may be nil
// when no export bucket is configured.
func NewCostExportHandler(costs CostStore, exporter Exporter) *CostExportHandler {
	return &CostExportHandler{costs: costs, exporter: exporter}
}

func (h *CostExportHandler) Execute(ctx context.Context, job *domain.Job, sess Session) (map[string]any, error) {
	if job.TenantID == nil {
		return nil, InvalidInput("tenant_id", "cost_export requires a tenant")
	}
	if h.exporter == nil {
		return map[string]any{"status": "skipped", "reason": "export_bucket_not_configured"}, nil
	}

	end := optionalDate(job.Payload, "period_end", time.Now().UTC())
	start := optionalDate(job.Payload, "period_start", end.AddDate(0, -1, 0))

	records, err := h.costs.ListRecords(ctx, sess, *job.TenantID, start, end)
	if err != nil {
		return nil, Transient(err)
	}

	rows := make([][]string, 0, len(records))
	for _, r := range records {
		rows = append(rows, []string{
			r.UsageDate.Format("2006-01-02"),
			string(r.Provider),
			r.ConnectionID.String(),
			r.Service,
			r.Amount.StringFixed(6),
			r.Currency,
		})
	}

	objectPath := fmt.Sprintf("exports/%s/costs-%s-%s.csv",
		job.TenantID, start.Format("20060102"), end.Format("20060102"))
	header := []string{"usage_date", "provider", "connection_id", "service", "amount", "currency"}

	path, err := h.exporter.WriteCSV(ctx, objectPath, header, rows)
	if err != nil {
		return nil, Transient(err)
	}

	return map[string]any{"status": "completed", "object_path": path, "rows": len(rows)}, nil
}

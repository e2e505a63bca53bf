package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/costwarden/costwarden/internal/domain"
)

// ingestionWindowDays is how far back each ingestion run re-reads provider
// cost data. Record uniqueness makes the overlap idempotent.
const ingestionWindowDays = 7

// insertBatchSize bounds how many cost records a single insert carries.
const insertBatchSize = 500

// CostIngestionHandler streams cost-and-usage records from each of the
// tenant's cloud connections, upserting the cloud account row and inserting
// records idempotently. Per-connection failures are reported in the detail
// list and never abort the batch.
type CostIngestionHandler struct {
	connections ConnectionReader
	adapters    CostAdapterFactory
	costs       CostStore
}

// NewCostIngestionHandler wires the cost_ingestion handler.
func NewCostIngestionHandler(connections ConnectionReader, adapters CostAdapterFactory, costs CostStore) *CostIngestionHandler {
	return &CostIngestionHandler{connections: connections, adapters: adapters, costs: costs}
}

func (h *CostIngestionHandler) Execute(ctx context.Context, job *domain.Job, sess Session) (map[string]any, error) {
	if job.TenantID == nil {
		return nil, InvalidInput("tenant_id", "cost_ingestion requires a tenant")
	}

	connections, err := h.connections.ListActiveConnections(ctx, sess, *job.TenantID)
	if err != nil {
		return nil, Transient(err)
	}

	end := time.Now().UTC()
	start := end.AddDate(0, 0, -ingestionWindowDays)

	details := make([]map[string]any, 0, len(connections))
	totalInserted := 0
	failures := 0

	for _, conn := range connections {
		inserted, err := h.ingestConnection(ctx, sess, job, conn, start, end)
		detail := map[string]any{
			"connection_id":   conn.ID.String(),
			"connection_name": conn.Name,
			"provider":        string(conn.Provider),
			"records":         inserted,
		}
		if err != nil {
			failures++
			detail["error"] = err.Error()
			slog.WarnContext(ctx, "connection ingestion failed",
				"job_id", job.ID, "connection_id", conn.ID, "provider", conn.Provider, "error", err)
		}
		totalInserted += inserted
		details = append(details, detail)
	}

	return map[string]any{
		"status":      "completed",
		"connections": details,
		"inserted":    totalInserted,
		"failed":      failures,
		"window_days": ingestionWindowDays,
	}, nil
}

func (h *CostIngestionHandler) ingestConnection(ctx context.Context, sess Session, job *domain.Job, conn *domain.CloudConnection, start, end time.Time) (int, error) {
	adapter, err := h.adapters.Adapter(ctx, conn)
	if err != nil {
		return 0, err
	}

	account := &domain.CloudAccount{
		TenantID:     conn.TenantID,
		ConnectionID: conn.ID,
		Provider:     conn.Provider,
		Name:         conn.Name,
	}
	if err := h.costs.UpsertCloudAccount(ctx, sess, account); err != nil {
		return 0, err
	}

	inserted := 0
	batch := make([]domain.CostRecord, 0, insertBatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := h.costs.InsertCostRecords(ctx, sess, batch)
		if err != nil {
			return err
		}
		inserted += n
		batch = batch[:0]
		return nil
	}

	for record, err := range adapter.StreamCostAndUsage(ctx, start, end, domain.GranularityDaily) {
		if err != nil {
			return inserted, err
		}
		record.TenantID = conn.TenantID
		record.ConnectionID = conn.ID
		record.Provider = conn.Provider
		batch = append(batch, record)
		if len(batch) >= insertBatchSize {
			if err := flush(); err != nil {
				return inserted, err
			}
		}
	}
	if err := flush(); err != nil {
		return inserted, err
	}

	slog.InfoContext(ctx, "connection ingested",
		"job_id", job.ID, "connection_id", conn.ID, "inserted", inserted)
	return inserted, nil
}

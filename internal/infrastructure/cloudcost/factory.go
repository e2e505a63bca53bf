// Package cloudcost builds the provider-specific cost-and-usage adapters
// behind the ingestion handler.
package cloudcost

import (
	"context"
	"fmt"

	"github.com/costwarden/costwarden/internal/application/jobs"
	"github.com/costwarden/costwarden/internal/domain"
)

// Factory dispatches on the connection's provider. Azure and GCP billing
// exports require provider-side setup (billing export to storage) that a
// bare API credential cannot replace, so those adapters report themselves
// unsupported and the ingestion handler records the failure per connection.
type Factory struct{}

var _ jobs.CostAdapterFactory = (*Factory)(nil)

// NewFactory creates the cost adapter factory.
func NewFactory() *Factory {
	return &Factory{}
}

// Adapter builds the cost adapter for one connection.
func (f *Factory) Adapter(ctx context.Context, conn *domain.CloudConnection) (jobs.CostAdapter, error) {
	switch conn.Provider {
	case domain.ProviderAWS:
		return newAWSAdapter(ctx, conn)
	case domain.ProviderAzure:
		return nil, fmt.Errorf("azure cost ingestion requires a configured billing export; connection %s has none", conn.ID)
	case domain.ProviderGCP:
		return nil, fmt.Errorf("gcp cost ingestion requires a BigQuery billing export; connection %s has none", conn.ID)
	}
	return nil, fmt.Errorf("unsupported provider %q", conn.Provider)
}

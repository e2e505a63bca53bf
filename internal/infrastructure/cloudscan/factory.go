// Package cloudscan builds the provider-specific zombie detectors from a
// connection's stored credentials.
package cloudscan

import (
	"context"
	"fmt"

	"github.com/costwarden/costwarden/internal/application/zombie"
	"github.com/costwarden/costwarden/internal/domain"
	"github.com/costwarden/costwarden/internal/infrastructure/cloudscan/aws"
	"github.com/costwarden/costwarden/internal/infrastructure/cloudscan/azure"
	"github.com/costwarden/costwarden/internal/infrastructure/cloudscan/gcp"
)

// Factory dispatches on the connection's provider.
type Factory struct{}

var _ zombie.DetectorFactory = (*Factory)(nil)

// NewFactory creates the detector factory.
func NewFactory() *Factory {
	return &Factory{}
}

// Detector builds the detector for one connection. region overrides the
// connection's default region when non-empty.
func (f *Factory) Detector(ctx context.Context, conn *domain.CloudConnection, region string) (zombie.Detector, error) {
	if region == "" {
		region = conn.Region
	}
	switch conn.Provider {
	case domain.ProviderAWS:
		return aws.NewDetector(ctx, conn.Credentials, region)
	case domain.ProviderAzure:
		return azure.NewDetector(conn.Credentials)
	case domain.ProviderGCP:
		return gcp.NewDetector(ctx, conn.Credentials, region)
	}
	return nil, fmt.Errorf("unsupported provider %q", conn.Provider)
}

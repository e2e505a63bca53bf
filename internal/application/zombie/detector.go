package zombie

import (
	"context"

	"github.com/costwarden/costwarden/internal/domain"
)

// Plugin is one detection strategy for one resource category. Plugins treat
// any provider API failure as an empty result plus a logged warning; they
// never fail the detector.
type Plugin interface {
	// CategoryKey identifies the waste category, unique per provider.
	// Provider-specific keys are folded onto the canonical set during
	// aggregation.
	CategoryKey() string

	// Scan detects zombie resources in the category. Items carry enough
	// state for downstream remediation.
	Scan(ctx context.Context) ([]domain.WasteItem, error)
}

// Detector owns the plugin set for one cloud connection.
type Detector interface {
	Provider() domain.Provider
	Plugins() []Plugin
}

// DetectorFactory builds a provider-specific detector from a connection's
// stored credentials.
type DetectorFactory interface {
	Detector(ctx context.Context, conn *domain.CloudConnection, region string) (Detector, error)
}

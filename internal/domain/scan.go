package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Canonical zombie categories. Provider plugins may emit provider-specific
// keys; NormalizeCategory folds those onto the canonical set.
const (
	CategoryUnattachedVolumes = "unattached_volumes"
	CategoryOldSnapshots      = "old_snapshots"
	CategoryUnusedElasticIPs  = "unused_elastic_ips"
	CategoryIdleInstances     = "idle_instances"
	CategoryNATGateway        = "nat_gateway"
	CategoryRDS               = "rds"
	CategoryIdleS3Buckets     = "idle_s3_buckets"
	CategoryLegacyECRImages   = "legacy_ecr_images"
	CategoryOrphanedImages    = "orphaned_images"
)

// categoryAliases maps provider-specific category keys onto canonical ones.
var categoryAliases = map[string]string{
	"unattached_disks": CategoryUnattachedVolumes,
	"orphaned_ips":     CategoryUnusedElasticIPs,
}

// NormalizeCategory returns the canonical key for a plugin category.
func NormalizeCategory(key string) string {
	if canonical, ok := categoryAliases[key]; ok {
		return canonical
	}
	return key
}

// TierGatedPlaceholder replaces gated waste-item fields for tenants below
// the Growth tier.
const TierGatedPlaceholder = "Upgrade to Growth"

// WasteItem is one detected zombie resource. The shape carries enough state
// for downstream remediation.
type WasteItem struct {
	ResourceID          string          `json:"resource_id"`
	ResourceType        string          `json:"resource_type"` // e.g. "EBS Volume"
	Provider            Provider        `json:"provider"`
	ConnectionID        uuid.UUID       `json:"connection_id"`
	ConnectionName      string          `json:"connection_name"`
	Region              string          `json:"region"`
	MonthlyCost         decimal.Decimal `json:"monthly_cost"`
	BackupCostMonthly   decimal.Decimal `json:"backup_cost_monthly"`
	ConfidenceScore     float64         `json:"confidence_score"` // in [0, 1]
	Action              string          `json:"action"`           // e.g. "delete_volume"
	Recommendation      string          `json:"recommendation"`
	SupportsBackup      bool            `json:"supports_backup"`
	ExplainabilityNotes string          `json:"explainability_notes"`

	// Tier-gated annotations: real values for Growth and above, the upgrade
	// placeholder below.
	IsGPU string `json:"is_gpu"`
	Owner string `json:"owner"`
}

// ScanResult is the category-keyed aggregation a zombie scan produces.
type ScanResult struct {
	Categories         map[string][]WasteItem `json:"categories"`
	TotalMonthlyWaste  decimal.Decimal        `json:"total_monthly_waste"`
	ScannedAt          time.Time              `json:"scanned_at"`
	Provider           string                 `json:"provider"` // single provider tag or "multi"
	Region             string                 `json:"region"`
	ConnectionsScanned int                    `json:"connections_scanned"`
	ScanTimeout        bool                   `json:"scan_timeout,omitempty"`
	PartialResults     bool                   `json:"partial_results,omitempty"`
}

// ZombieCount returns the total number of items across all categories.
func (r *ScanResult) ZombieCount() int {
	n := 0
	for _, items := range r.Categories {
		n += len(items)
	}
	return n
}

// RecomputeTotal sets TotalMonthlyWaste to the sum of every item's monthly
// cost, rounded to two decimal places.
func (r *ScanResult) RecomputeTotal() {
	total := decimal.Zero
	for _, items := range r.Categories {
		for _, item := range items {
			total = total.Add(item.MonthlyCost)
		}
	}
	r.TotalMonthlyWaste = total.Round(2)
}

// RemediationActionStatus is the lifecycle of a recorded remediation action.
type RemediationActionStatus string

const (
	RemediationActionPlanned  RemediationActionStatus = "planned"
	RemediationActionExecuted RemediationActionStatus = "executed"
	RemediationActionSkipped  RemediationActionStatus = "skipped"
)

// RemediationAction is the audit record for one planned or executed
// remediation step.
type RemediationAction struct {
	ID             uuid.UUID
	TenantID       uuid.UUID
	ConnectionID   uuid.UUID
	Action         string
	ResourceID     string
	Status         RemediationActionStatus
	MonthlySavings decimal.Decimal
	ExecutedAt     *time.Time
	CreatedAt      time.Time
}

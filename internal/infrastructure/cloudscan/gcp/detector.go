// Package gcp implements the zombie detector for GCP connections on the
// Google Compute Engine API.
package gcp

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"google.golang.org/api/compute/v1"
	"google.golang.org/api/option"

	"github.com/costwarden/costwarden/internal/application/zombie"
	"github.com/costwarden/costwarden/internal/domain"
)

const snapshotAgeThreshold = 90 * 24 * time.Hour

// Static list-price estimates, standard persistent disk tier.
var (
	ratePDStandardPerGB = decimal.NewFromFloat(0.04)
	rateSnapshotPerGB   = decimal.NewFromFloat(0.026)
	rateStaticIP        = decimal.NewFromFloat(7.30)
)

// Detector owns the compute service and the plugin set for one connection.
type Detector struct {
	plugins []zombie.Plugin
}

var _ zombie.Detector = (*Detector)(nil)

// NewDetector builds the GCP detector from the connection's service account
// key.
func NewDetector(ctx context.Context, creds domain.Credentials, _ string) (*Detector, error) {
	project := creds.Get("project_id")
	keyJSON := creds.Get("service_account_json")
	if project == "" || keyJSON == "" {
		return nil, fmt.Errorf("gcp connection is missing project or service account credentials")
	}

	svc, err := compute.NewService(ctx, option.WithCredentialsJSON([]byte(keyJSON)))
	if err != nil {
		return nil, fmt.Errorf("failed to build compute service: %w", err)
	}

	return &Detector{
		plugins: []zombie.Plugin{
			&unattachedDisksPlugin{svc: svc, project: project},
			&oldSnapshotsPlugin{svc: svc, project: project},
			&orphanedIPsPlugin{svc: svc, project: project},
		},
	}, nil
}

func (d *Detector) Provider() domain.Provider {
	return domain.ProviderGCP
}

func (d *Detector) Plugins() []zombie.Plugin {
	return d.plugins
}

func ownerFromLabels(labels map[string]string) string {
	for _, key := range []string{"owner", "team", "created-by"} {
		if v := labels[key]; v != "" {
			return v
		}
	}
	return ""
}

// unattachedDisksPlugin reports persistent disks with no users. Folded onto
// unattached_volumes during aggregation.
type unattachedDisksPlugin struct {
	svc     *compute.Service
	project string
}

func (p *unattachedDisksPlugin) CategoryKey() string {
	return "unattached_disks"
}

func (p *unattachedDisksPlugin) Scan(ctx context.Context) ([]domain.WasteItem, error) {
	var items []domain.WasteItem
	err := p.svc.Disks.AggregatedList(p.project).Pages(ctx, func(page *compute.DiskAggregatedList) error {
		for _, scoped := range page.Items {
			for _, disk := range scoped.Disks {
				if len(disk.Users) > 0 {
					continue
				}
				items = append(items, domain.WasteItem{
					ResourceID:          disk.Name,
					ResourceType:        "Persistent Disk",
					MonthlyCost:         ratePDStandardPerGB.Mul(decimal.NewFromInt(disk.SizeGb)).Round(2),
					ConfidenceScore:     0.95,
					Action:              "delete_volume",
					Recommendation:      fmt.Sprintf("Delete unattached persistent disk %s (%d GB)", disk.Name, disk.SizeGb),
					SupportsBackup:      true,
					BackupCostMonthly:   rateSnapshotPerGB.Mul(decimal.NewFromInt(disk.SizeGb)).Round(2),
					ExplainabilityNotes: "Disk has no attached users.",
					Owner:               ownerFromLabels(disk.Labels),
					IsGPU:               "false",
				})
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list persistent disks: %w", err)
	}
	return items, nil
}

type oldSnapshotsPlugin struct {
	svc     *compute.Service
	project string
}

func (p *oldSnapshotsPlugin) CategoryKey() string {
	return domain.CategoryOldSnapshots
}

func (p *oldSnapshotsPlugin) Scan(ctx context.Context) ([]domain.WasteItem, error) {
	cutoff := time.Now().Add(-snapshotAgeThreshold)

	var items []domain.WasteItem
	err := p.svc.Snapshots.List(p.project).Pages(ctx, func(page *compute.SnapshotList) error {
		for _, snap := range page.Items {
			created, err := time.Parse(time.RFC3339, snap.CreationTimestamp)
			if err != nil || created.After(cutoff) {
				continue
			}
			items = append(items, domain.WasteItem{
				ResourceID:      snap.Name,
				ResourceType:    "Disk Snapshot",
				MonthlyCost:     rateSnapshotPerGB.Mul(decimal.NewFromInt(snap.DiskSizeGb)).Round(2),
				ConfidenceScore: 0.85,
				Action:          "delete_snapshot",
				Recommendation:  fmt.Sprintf("Delete snapshot from %s (%d GB)", created.Format("2006-01-02"), snap.DiskSizeGb),
				ExplainabilityNotes: fmt.Sprintf("Snapshot is %d days old.",
					int(time.Since(created).Hours()/24)),
				Owner: ownerFromLabels(snap.Labels),
				IsGPU: "false",
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	return items, nil
}

// orphanedIPsPlugin reports reserved static addresses in use by nothing.
// Folded onto unused_elastic_ips during aggregation.
type orphanedIPsPlugin struct {
	svc     *compute.Service
	project string
}

func (p *orphanedIPsPlugin) CategoryKey() string {
	return "orphaned_ips"
}

func (p *orphanedIPsPlugin) Scan(ctx context.Context) ([]domain.WasteItem, error) {
	var items []domain.WasteItem
	err := p.svc.Addresses.AggregatedList(p.project).Pages(ctx, func(page *compute.AddressAggregatedList) error {
		for _, scoped := range page.Items {
			for _, addr := range scoped.Addresses {
				if addr.Status != "RESERVED" || len(addr.Users) > 0 {
					continue
				}
				items = append(items, domain.WasteItem{
					ResourceID:          addr.Name,
					ResourceType:        "Static IP",
					MonthlyCost:         rateStaticIP,
					ConfidenceScore:     0.99,
					Action:              "release_ip",
					Recommendation:      fmt.Sprintf("Release reserved static address %s", addr.Address),
					ExplainabilityNotes: "Address is reserved but attached to nothing; unused static IPs are billed hourly.",
					IsGPU:               "false",
				})
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list addresses: %w", err)
	}
	return items, nil
}

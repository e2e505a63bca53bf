// Package azure implements the zombie detector for Azure connections on the
// Azure resource-manager SDK.
package azure

import (
	"context"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/compute/armcompute/v6"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/network/armnetwork/v6"
	"github.com/shopspring/decimal"

	"github.com/costwarden/costwarden/internal/application/zombie"
	"github.com/costwarden/costwarden/internal/domain"
)

const snapshotAgeThreshold = 90 * 24 * time.Hour

// Static list-price estimates, standard HDD tier.
var (
	rateManagedDiskPerGB = decimal.NewFromFloat(0.05)
	rateSnapshotPerGB    = decimal.NewFromFloat(0.05)
	ratePublicIP         = decimal.NewFromFloat(3.65)
)

// Detector owns the ARM clients and the plugin set for one connection.
type Detector struct {
	plugins []zombie.Plugin
}

var _ zombie.Detector = (*Detector)(nil)

// NewDetector builds the Azure detector from the connection's service
// principal credentials.
func NewDetector(creds domain.Credentials) (*Detector, error) {
	tenantID := creds.Get("tenant_id")
	clientID := creds.Get("client_id")
	clientSecret := creds.Get("client_secret")
	subscriptionID := creds.Get("subscription_id")
	if tenantID == "" || clientID == "" || clientSecret == "" || subscriptionID == "" {
		return nil, fmt.Errorf("azure connection is missing service principal credentials")
	}

	cred, err := azidentity.NewClientSecretCredential(tenantID, clientID, clientSecret, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build azure credential: %w", err)
	}

	computeFactory, err := armcompute.NewClientFactory(subscriptionID, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build compute client factory: %w", err)
	}
	networkFactory, err := armnetwork.NewClientFactory(subscriptionID, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build network client factory: %w", err)
	}

	return &Detector{
		plugins: []zombie.Plugin{
			&unattachedDisksPlugin{disks: computeFactory.NewDisksClient()},
			&oldSnapshotsPlugin{snapshots: computeFactory.NewSnapshotsClient()},
			&orphanedIPsPlugin{ips: networkFactory.NewPublicIPAddressesClient()},
		},
	}, nil
}

func (d *Detector) Provider() domain.Provider {
	return domain.ProviderAzure
}

func (d *Detector) Plugins() []zombie.Plugin {
	return d.plugins
}

func ownerFromTags(tags map[string]*string) string {
	for _, key := range []string{"Owner", "owner", "Team", "team", "CreatedBy"} {
		if v := tags[key]; v != nil && *v != "" {
			return *v
		}
	}
	return ""
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// unattachedDisksPlugin reports managed disks attached to nothing. The
// provider-specific key is folded onto unattached_volumes during
// aggregation.
type unattachedDisksPlugin struct {
	disks *armcompute.DisksClient
}

func (p *unattachedDisksPlugin) CategoryKey() string {
	return "unattached_disks"
}

func (p *unattachedDisksPlugin) Scan(ctx context.Context) ([]domain.WasteItem, error) {
	pager := p.disks.NewListPager(nil)

	var items []domain.WasteItem
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list managed disks: %w", err)
		}
		for _, disk := range page.Value {
			if disk.ManagedBy != nil && *disk.ManagedBy != "" {
				continue
			}
			var sizeGB int64
			if disk.Properties != nil && disk.Properties.DiskSizeGB != nil {
				sizeGB = int64(*disk.Properties.DiskSizeGB)
			}
			items = append(items, domain.WasteItem{
				ResourceID:          deref(disk.ID),
				ResourceType:        "Managed Disk",
				MonthlyCost:         rateManagedDiskPerGB.Mul(decimal.NewFromInt(sizeGB)).Round(2),
				ConfidenceScore:     0.95,
				Action:              "delete_volume",
				Recommendation:      fmt.Sprintf("Delete unattached managed disk %s (%d GB)", deref(disk.Name), sizeGB),
				SupportsBackup:      true,
				BackupCostMonthly:   rateSnapshotPerGB.Mul(decimal.NewFromInt(sizeGB)).Round(2),
				ExplainabilityNotes: "Disk is not managed by any virtual machine.",
				Owner:               ownerFromTags(disk.Tags),
				IsGPU:               "false",
			})
		}
	}
	return items, nil
}

type oldSnapshotsPlugin struct {
	snapshots *armcompute.SnapshotsClient
}

func (p *oldSnapshotsPlugin) CategoryKey() string {
	return domain.CategoryOldSnapshots
}

func (p *oldSnapshotsPlugin) Scan(ctx context.Context) ([]domain.WasteItem, error) {
	cutoff := time.Now().Add(-snapshotAgeThreshold)
	pager := p.snapshots.NewListPager(nil)

	var items []domain.WasteItem
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list snapshots: %w", err)
		}
		for _, snap := range page.Value {
			if snap.Properties == nil || snap.Properties.TimeCreated == nil {
				continue
			}
			created := *snap.Properties.TimeCreated
			if created.After(cutoff) {
				continue
			}
			var sizeGB int64
			if snap.Properties.DiskSizeGB != nil {
				sizeGB = int64(*snap.Properties.DiskSizeGB)
			}
			items = append(items, domain.WasteItem{
				ResourceID:      deref(snap.ID),
				ResourceType:    "Disk Snapshot",
				MonthlyCost:     rateSnapshotPerGB.Mul(decimal.NewFromInt(sizeGB)).Round(2),
				ConfidenceScore: 0.85,
				Action:          "delete_snapshot",
				Recommendation:  fmt.Sprintf("Delete snapshot from %s (%d GB)", created.Format("2006-01-02"), sizeGB),
				ExplainabilityNotes: fmt.Sprintf("Snapshot is %d days old.",
					int(time.Since(created).Hours()/24)),
				Owner: ownerFromTags(snap.Tags),
				IsGPU: "false",
			})
		}
	}
	return items, nil
}

// orphanedIPsPlugin reports public IPs with no IP configuration. Folded onto
// unused_elastic_ips during aggregation.
type orphanedIPsPlugin struct {
	ips *armnetwork.PublicIPAddressesClient
}

func (p *orphanedIPsPlugin) CategoryKey() string {
	return "orphaned_ips"
}

func (p *orphanedIPsPlugin) Scan(ctx context.Context) ([]domain.WasteItem, error) {
	pager := p.ips.NewListAllPager(nil)

	var items []domain.WasteItem
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list public ips: %w", err)
		}
		for _, ip := range page.Value {
			if ip.Properties != nil && ip.Properties.IPConfiguration != nil {
				continue
			}
			items = append(items, domain.WasteItem{
				ResourceID:          deref(ip.ID),
				ResourceType:        "Public IP",
				MonthlyCost:         ratePublicIP,
				ConfidenceScore:     0.99,
				Action:              "release_ip",
				Recommendation:      fmt.Sprintf("Delete unassociated public IP %s", deref(ip.Name)),
				ExplainabilityNotes: "Address has no IP configuration; idle public IPs are billed hourly.",
				Owner:               ownerFromTags(ip.Tags),
				IsGPU:               "false",
			})
		}
	}
	return items, nil
}

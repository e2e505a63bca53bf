package aws

import (
	"context"
	"fmt"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/shopspring/decimal"

	"github.com/costwarden/costwarden/internal/domain"
)

// Detection horizons.
const (
	snapshotAgeThreshold = 90 * 24 * time.Hour
	imageAgeThreshold    = 90 * 24 * time.Hour
	idleLookback         = 7 * 24 * time.Hour
	idleCPUPercent       = 5.0
)

func ec2Tags(tags []ec2types.Tag) map[string]string {
	return aws2tags(tags, func(t ec2types.Tag) (string, string) {
		return deref(t.Key), deref(t.Value)
	})
}

// === unattached_volumes ===

type unattachedVolumesPlugin struct {
	ec2 *ec2.Client
}

func (p *unattachedVolumesPlugin) CategoryKey() string {
	return domain.CategoryUnattachedVolumes
}

func (p *unattachedVolumesPlugin) Scan(ctx context.Context) ([]domain.WasteItem, error) {
	paginator := ec2.NewDescribeVolumesPaginator(p.ec2, &ec2.DescribeVolumesInput{
		Filters: []ec2types.Filter{
			{Name: awssdk.String("status"), Values: []string{"available"}},
		},
	})

	var items []domain.WasteItem
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to describe volumes: %w", err)
		}
		for _, v := range page.Volumes {
			sizeGB := int64(awssdk.ToInt32(v.Size))
			monthly := volumeRatePerGB(string(v.VolumeType)).Mul(decimal.NewFromInt(sizeGB))
			tags := ec2Tags(v.Tags)
			items = append(items, domain.WasteItem{
				ResourceID:      deref(v.VolumeId),
				ResourceType:    "EBS Volume",
				MonthlyCost:     monthly.Round(2),
				ConfidenceScore: 0.95,
				Action:          "delete_volume",
				Recommendation:  fmt.Sprintf("Delete unattached %s volume (%d GB)", v.VolumeType, sizeGB),
				SupportsBackup:  true,
				BackupCostMonthly: rateSnapshotPerGB.Mul(decimal.NewFromInt(sizeGB)).
					Round(2),
				ExplainabilityNotes: "Volume is in the available state: detached from every instance.",
				Owner:               ownerFromTags(tags),
				IsGPU:               "false",
			})
		}
	}
	return items, nil
}

// === old_snapshots ===

type oldSnapshotsPlugin struct {
	ec2 *ec2.Client
}

func (p *oldSnapshotsPlugin) CategoryKey() string {
	return domain.CategoryOldSnapshots
}

func (p *oldSnapshotsPlugin) Scan(ctx context.Context) ([]domain.WasteItem, error) {
	cutoff := time.Now().Add(-snapshotAgeThreshold)
	paginator := ec2.NewDescribeSnapshotsPaginator(p.ec2, &ec2.DescribeSnapshotsInput{
		OwnerIds: []string{"self"},
	})

	var items []domain.WasteItem
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to describe snapshots: %w", err)
		}
		for _, s := range page.Snapshots {
			started := awssdk.ToTime(s.StartTime)
			if started.After(cutoff) {
				continue
			}
			sizeGB := int64(awssdk.ToInt32(s.VolumeSize))
			tags := ec2Tags(s.Tags)
			items = append(items, domain.WasteItem{
				ResourceID:      deref(s.SnapshotId),
				ResourceType:    "EBS Snapshot",
				MonthlyCost:     rateSnapshotPerGB.Mul(decimal.NewFromInt(sizeGB)).Round(2),
				ConfidenceScore: 0.85,
				Action:          "delete_snapshot",
				Recommendation:  fmt.Sprintf("Delete snapshot from %s (%d GB)", started.Format("2006-01-02"), sizeGB),
				ExplainabilityNotes: fmt.Sprintf("Snapshot is %d days old.",
					int(time.Since(started).Hours()/24)),
				Owner: ownerFromTags(tags),
				IsGPU: "false",
			})
		}
	}
	return items, nil
}

// === orphaned_ips (normalized to unused_elastic_ips) ===

type unusedElasticIPsPlugin struct {
	ec2 *ec2.Client
}

func (p *unusedElasticIPsPlugin) CategoryKey() string {
	return domain.CategoryUnusedElasticIPs
}

func (p *unusedElasticIPsPlugin) Scan(ctx context.Context) ([]domain.WasteItem, error) {
	out, err := p.ec2.DescribeAddresses(ctx, &ec2.DescribeAddressesInput{})
	if err != nil {
		return nil, fmt.Errorf("failed to describe addresses: %w", err)
	}

	var items []domain.WasteItem
	for _, addr := range out.Addresses {
		if addr.AssociationId != nil {
			continue
		}
		items = append(items, domain.WasteItem{
			ResourceID:          deref(addr.AllocationId),
			ResourceType:        "Elastic IP",
			MonthlyCost:         rateElasticIP,
			ConfidenceScore:     0.99,
			Action:              "release_ip",
			Recommendation:      fmt.Sprintf("Release unassociated Elastic IP %s", deref(addr.PublicIp)),
			ExplainabilityNotes: "Address has no association; idle Elastic IPs are billed hourly.",
			Owner:               ownerFromTags(ec2Tags(addr.Tags)),
			IsGPU:               "false",
		})
	}
	return items, nil
}

// === idle_instances ===

type idleInstancesPlugin struct {
	ec2        *ec2.Client
	cloudwatch *cloudwatch.Client
}

func (p *idleInstancesPlugin) CategoryKey() string {
	return domain.CategoryIdleInstances
}

func (p *idleInstancesPlugin) Scan(ctx context.Context) ([]domain.WasteItem, error) {
	paginator := ec2.NewDescribeInstancesPaginator(p.ec2, &ec2.DescribeInstancesInput{
		Filters: []ec2types.Filter{
			{Name: awssdk.String("instance-state-name"), Values: []string{"running"}},
		},
	})

	var items []domain.WasteItem
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to describe instances: %w", err)
		}
		for _, reservation := range page.Reservations {
			for _, inst := range reservation.Instances {
				avgCPU, ok, err := p.averageCPU(ctx, deref(inst.InstanceId))
				if err != nil {
					return items, err
				}
				if !ok || avgCPU >= idleCPUPercent {
					continue
				}
				instanceType := string(inst.InstanceType)
				tags := ec2Tags(inst.Tags)
				items = append(items, domain.WasteItem{
					ResourceID:      deref(inst.InstanceId),
					ResourceType:    "EC2 Instance",
					MonthlyCost:     instanceMonthlyRate(instanceType),
					ConfidenceScore: 0.70,
					Action:          "stop_instance",
					Recommendation:  fmt.Sprintf("Stop idle %s instance", instanceType),
					SupportsBackup:  true,
					ExplainabilityNotes: fmt.Sprintf("Average CPU %.1f%% over the last 7 days, below the %.0f%% idle threshold.",
						avgCPU, idleCPUPercent),
					IsGPU: boolLabel(isGPUInstance(instanceType)),
					Owner: ownerFromTags(tags),
				})
			}
		}
	}
	return items, nil
}

// averageCPU returns the 7-day average CPU utilization. ok is false when no
// datapoints exist, which is treated as "cannot judge", not "idle".
func (p *idleInstancesPlugin) averageCPU(ctx context.Context, instanceID string) (float64, bool, error) {
	now := time.Now()
	out, err := p.cloudwatch.GetMetricStatistics(ctx, &cloudwatch.GetMetricStatisticsInput{
		Namespace:  awssdk.String("AWS/EC2"),
		MetricName: awssdk.String("CPUUtilization"),
		Dimensions: []cwtypes.Dimension{
			{Name: awssdk.String("InstanceId"), Value: awssdk.String(instanceID)},
		},
		StartTime:  awssdk.Time(now.Add(-idleLookback)),
		EndTime:    awssdk.Time(now),
		Period:     awssdk.Int32(86400),
		Statistics: []cwtypes.Statistic{cwtypes.StatisticAverage},
	})
	if err != nil {
		return 0, false, fmt.Errorf("failed to get CPU metrics for %s: %w", instanceID, err)
	}
	if len(out.Datapoints) == 0 {
		return 0, false, nil
	}
	sum := 0.0
	for _, dp := range out.Datapoints {
		sum += awssdk.ToFloat64(dp.Average)
	}
	return sum / float64(len(out.Datapoints)), true, nil
}

// === orphaned_images ===

type orphanedImagesPlugin struct {
	ec2 *ec2.Client
}

func (p *orphanedImagesPlugin) CategoryKey() string {
	return domain.CategoryOrphanedImages
}

func (p *orphanedImagesPlugin) Scan(ctx context.Context) ([]domain.WasteItem, error) {
	inUse, err := p.imagesInUse(ctx)
	if err != nil {
		return nil, err
	}

	out, err := p.ec2.DescribeImages(ctx, &ec2.DescribeImagesInput{Owners: []string{"self"}})
	if err != nil {
		return nil, fmt.Errorf("failed to describe images: %w", err)
	}

	cutoff := time.Now().Add(-imageAgeThreshold)
	var items []domain.WasteItem
	for _, img := range out.Images {
		imageID := deref(img.ImageId)
		if inUse[imageID] {
			continue
		}
		created, err := time.Parse(time.RFC3339, deref(img.CreationDate))
		if err != nil || created.After(cutoff) {
			continue
		}
		// AMI storage is its backing snapshots.
		var sizeGB int64
		for _, bd := range img.BlockDeviceMappings {
			if bd.Ebs != nil {
				sizeGB += int64(awssdk.ToInt32(bd.Ebs.VolumeSize))
			}
		}
		items = append(items, domain.WasteItem{
			ResourceID:      imageID,
			ResourceType:    "AMI",
			MonthlyCost:     rateSnapshotPerGB.Mul(decimal.NewFromInt(sizeGB)).Round(2),
			ConfidenceScore: 0.85,
			Action:          "deregister_image",
			Recommendation:  fmt.Sprintf("Deregister unused AMI %s and delete its snapshots", deref(img.Name)),
			ExplainabilityNotes: fmt.Sprintf("Image is not referenced by any instance and is %d days old.",
				int(time.Since(created).Hours()/24)),
			Owner: ownerFromTags(ec2Tags(img.Tags)),
			IsGPU: "false",
		})
	}
	return items, nil
}

func (p *orphanedImagesPlugin) imagesInUse(ctx context.Context) (map[string]bool, error) {
	inUse := make(map[string]bool)
	paginator := ec2.NewDescribeInstancesPaginator(p.ec2, &ec2.DescribeInstancesInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to enumerate instance images: %w", err)
		}
		for _, reservation := range page.Reservations {
			for _, inst := range reservation.Instances {
				inUse[deref(inst.ImageId)] = true
			}
		}
	}
	return inUse, nil
}

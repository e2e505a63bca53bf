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
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/shopspring/decimal"

	"github.com/costwarden/costwarden/internal/domain"
)

const (
	bucketIdleThreshold = 180 * 24 * time.Hour
	ecrImageAge         = 180 * 24 * time.Hour
	bucketSampleKeys    = 200
)

// === nat_gateway ===

type natGatewayPlugin struct {
	ec2        *ec2.Client
	cloudwatch *cloudwatch.Client
}

func (p *natGatewayPlugin) CategoryKey() string {
	return domain.CategoryNATGateway
}

func (p *natGatewayPlugin) Scan(ctx context.Context) ([]domain.WasteItem, error) {
	paginator := ec2.NewDescribeNatGatewaysPaginator(p.ec2, &ec2.DescribeNatGatewaysInput{
		Filter: []ec2types.Filter{
			{Name: awssdk.String("state"), Values: []string{"available"}},
		},
	})

	var items []domain.WasteItem
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to describe nat gateways: %w", err)
		}
		for _, gw := range page.NatGateways {
			gwID := deref(gw.NatGatewayId)
			idle, err := p.noTraffic(ctx, gwID)
			if err != nil {
				return items, err
			}
			if !idle {
				continue
			}
			items = append(items, domain.WasteItem{
				ResourceID:          gwID,
				ResourceType:        "NAT Gateway",
				MonthlyCost:         rateNATGateway,
				ConfidenceScore:     0.75,
				Action:              "delete_nat_gateway",
				Recommendation:      "Delete NAT gateway with no outbound traffic",
				ExplainabilityNotes: "No bytes left the gateway in the last 7 days; the hourly charge continues regardless.",
				Owner:               ownerFromTags(ec2Tags(gw.Tags)),
				IsGPU:               "false",
			})
		}
	}
	return items, nil
}

func (p *natGatewayPlugin) noTraffic(ctx context.Context, gatewayID string) (bool, error) {
	now := time.Now()
	out, err := p.cloudwatch.GetMetricStatistics(ctx, &cloudwatch.GetMetricStatisticsInput{
		Namespace:  awssdk.String("AWS/NATGateway"),
		MetricName: awssdk.String("BytesOutToDestination"),
		Dimensions: []cwtypes.Dimension{
			{Name: awssdk.String("NatGatewayId"), Value: awssdk.String(gatewayID)},
		},
		StartTime:  awssdk.Time(now.Add(-idleLookback)),
		EndTime:    awssdk.Time(now),
		Period:     awssdk.Int32(86400),
		Statistics: []cwtypes.Statistic{cwtypes.StatisticSum},
	})
	if err != nil {
		return false, fmt.Errorf("failed to get nat gateway metrics for %s: %w", gatewayID, err)
	}
	total := 0.0
	for _, dp := range out.Datapoints {
		total += awssdk.ToFloat64(dp.Sum)
	}
	return len(out.Datapoints) > 0 && total == 0, nil
}

// === rds ===

type idleRDSPlugin struct {
	rds        *rds.Client
	cloudwatch *cloudwatch.Client
}

func (p *idleRDSPlugin) CategoryKey() string {
	return domain.CategoryRDS
}

func (p *idleRDSPlugin) Scan(ctx context.Context) ([]domain.WasteItem, error) {
	paginator := rds.NewDescribeDBInstancesPaginator(p.rds, &rds.DescribeDBInstancesInput{})

	var items []domain.WasteItem
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to describe db instances: %w", err)
		}
		for _, db := range page.DBInstances {
			if deref(db.DBInstanceStatus) != "available" {
				continue
			}
			dbID := deref(db.DBInstanceIdentifier)
			idle, err := p.noConnections(ctx, dbID)
			if err != nil {
				return items, err
			}
			if !idle {
				continue
			}
			items = append(items, domain.WasteItem{
				ResourceID:          dbID,
				ResourceType:        "RDS Instance",
				MonthlyCost:         rateRDSDefault,
				ConfidenceScore:     0.70,
				Action:              "stop_rds_instance",
				Recommendation:      fmt.Sprintf("Stop %s database with zero connections", deref(db.DBInstanceClass)),
				SupportsBackup:      true,
				ExplainabilityNotes: "No database connections observed in the last 7 days.",
				IsGPU:               "false",
			})
		}
	}
	return items, nil
}

func (p *idleRDSPlugin) noConnections(ctx context.Context, dbID string) (bool, error) {
	now := time.Now()
	out, err := p.cloudwatch.GetMetricStatistics(ctx, &cloudwatch.GetMetricStatisticsInput{
		Namespace:  awssdk.String("AWS/RDS"),
		MetricName: awssdk.String("DatabaseConnections"),
		Dimensions: []cwtypes.Dimension{
			{Name: awssdk.String("DBInstanceIdentifier"), Value: awssdk.String(dbID)},
		},
		StartTime:  awssdk.Time(now.Add(-idleLookback)),
		EndTime:    awssdk.Time(now),
		Period:     awssdk.Int32(86400),
		Statistics: []cwtypes.Statistic{cwtypes.StatisticMaximum},
	})
	if err != nil {
		return false, fmt.Errorf("failed to get rds metrics for %s: %w", dbID, err)
	}
	peak := 0.0
	for _, dp := range out.Datapoints {
		if v := awssdk.ToFloat64(dp.Maximum); v > peak {
			peak = v
		}
	}
	return len(out.Datapoints) > 0 && peak == 0, nil
}

// === idle_s3_buckets ===

type idleS3BucketsPlugin struct {
	s3     *s3.Client
	region string
}

func (p *idleS3BucketsPlugin) CategoryKey() string {
	return domain.CategoryIdleS3Buckets
}

func (p *idleS3BucketsPlugin) Scan(ctx context.Context) ([]domain.WasteItem, error) {
	buckets, err := p.s3.ListBuckets(ctx, &s3.ListBucketsInput{})
	if err != nil {
		return nil, fmt.Errorf("failed to list buckets: %w", err)
	}

	cutoff := time.Now().Add(-bucketIdleThreshold)
	var items []domain.WasteItem
	for _, bucket := range buckets.Buckets {
		name := deref(bucket.Name)
		// Sample the first page of keys: a bucket whose newest sampled
		// object predates the idle threshold is flagged for review.
		objects, err := p.s3.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:  awssdk.String(name),
			MaxKeys: awssdk.Int32(bucketSampleKeys),
		})
		if err != nil {
			// Cross-region buckets reject the regional client; skip them.
			continue
		}

		var (
			newest      time.Time
			sampleBytes int64
		)
		for _, obj := range objects.Contents {
			if ts := awssdk.ToTime(obj.LastModified); ts.After(newest) {
				newest = ts
			}
			sampleBytes += awssdk.ToInt64(obj.Size)
		}
		if len(objects.Contents) > 0 && newest.After(cutoff) {
			continue
		}

		sampleGB := decimal.NewFromInt(sampleBytes).Div(decimal.NewFromInt(1 << 30))
		notes := "Bucket is empty."
		if len(objects.Contents) > 0 {
			notes = fmt.Sprintf("Newest sampled object was written %s; estimate covers the sampled %d keys only.",
				newest.Format("2006-01-02"), len(objects.Contents))
		}
		items = append(items, domain.WasteItem{
			ResourceID:          name,
			ResourceType:        "S3 Bucket",
			MonthlyCost:         rateS3StandardPerGB.Mul(sampleGB).Round(2),
			ConfidenceScore:     0.60,
			Action:              "review_bucket",
			Recommendation:      "Review idle bucket for archival to Glacier or deletion",
			ExplainabilityNotes: notes,
			IsGPU:               "false",
		})
	}
	return items, nil
}

// === legacy_ecr_images ===

type legacyECRImagesPlugin struct {
	ecr *ecr.Client
}

func (p *legacyECRImagesPlugin) CategoryKey() string {
	return domain.CategoryLegacyECRImages
}

func (p *legacyECRImagesPlugin) Scan(ctx context.Context) ([]domain.WasteItem, error) {
	repoPaginator := ecr.NewDescribeRepositoriesPaginator(p.ecr, &ecr.DescribeRepositoriesInput{})

	cutoff := time.Now().Add(-ecrImageAge)
	var items []domain.WasteItem
	for repoPaginator.HasMorePages() {
		repoPage, err := repoPaginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to describe ecr repositories: %w", err)
		}
		for _, repo := range repoPage.Repositories {
			repoName := deref(repo.RepositoryName)
			imgPaginator := ecr.NewDescribeImagesPaginator(p.ecr, &ecr.DescribeImagesInput{
				RepositoryName: repo.RepositoryName,
			})
			var (
				staleCount int
				staleBytes int64
			)
			for imgPaginator.HasMorePages() {
				imgPage, err := imgPaginator.NextPage(ctx)
				if err != nil {
					return items, fmt.Errorf("failed to describe images in %s: %w", repoName, err)
				}
				for _, img := range imgPage.ImageDetails {
					if len(img.ImageTags) > 0 {
						continue
					}
					if awssdk.ToTime(img.ImagePushedAt).After(cutoff) {
						continue
					}
					staleCount++
					staleBytes += awssdk.ToInt64(img.ImageSizeInBytes)
				}
			}
			if staleCount == 0 {
				continue
			}
			staleGB := decimal.NewFromInt(staleBytes).Div(decimal.NewFromInt(1 << 30))
			items = append(items, domain.WasteItem{
				ResourceID:      repoName,
				ResourceType:    "ECR Repository",
				MonthlyCost:     rateECRPerGB.Mul(staleGB).Round(2),
				ConfidenceScore: 0.80,
				Action:          "delete_untagged_images",
				Recommendation:  fmt.Sprintf("Delete %d untagged images older than 180 days", staleCount),
				ExplainabilityNotes: fmt.Sprintf("%d untagged images totalling %s GB have not been pushed over in 180 days.",
					staleCount, staleGB.Round(1)),
				IsGPU: "false",
			})
		}
	}
	return items, nil
}

package cloudcost

import (
	"context"
	"fmt"
	"iter"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer"
	cetypes "github.com/aws/aws-sdk-go-v2/service/costexplorer/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/costwarden/costwarden/internal/domain"
)

// costDateLayout is the date format of Cost Explorer time periods.
const costDateLayout = "2006-01-02"

// awsAdapter streams normalized cost lines from the Cost Explorer API,
// grouped by service.
type awsAdapter struct {
	client       *costexplorer.Client
	tenantID     uuid.UUID
	connectionID uuid.UUID
}

func newAWSAdapter(ctx context.Context, conn *domain.CloudConnection) (*awsAdapter, error) {
	accessKey := conn.Credentials.Get("access_key_id")
	secretKey := conn.Credentials.Get("secret_access_key")
	if accessKey == "" || secretKey == "" {
		return nil, fmt.Errorf("aws connection is missing access credentials")
	}

	// Cost Explorer is a global API served from us-east-1.
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion("us-east-1"),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, conn.Credentials.Get("session_token"))))
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	return &awsAdapter{
		client:       costexplorer.NewFromConfig(cfg),
		tenantID:     conn.TenantID,
		connectionID: conn.ID,
	}, nil
}

// StreamCostAndUsage yields one record per (day, service) cell. The sequence
// is lazy: pages are fetched as the consumer advances, and a page failure
// surfaces as an error element without discarding records already yielded.
func (a *awsAdapter) StreamCostAndUsage(ctx context.Context, start, end time.Time, granularity domain.Granularity) iter.Seq2[domain.CostRecord, error] {
	ceGranularity := cetypes.GranularityDaily
	if granularity == domain.GranularityMonthly {
		ceGranularity = cetypes.GranularityMonthly
	}

	return func(yield func(domain.CostRecord, error) bool) {
		var nextToken *string
		for {
			out, err := a.client.GetCostAndUsage(ctx, &costexplorer.GetCostAndUsageInput{
				TimePeriod: &cetypes.DateInterval{
					Start: awssdk.String(start.Format(costDateLayout)),
					End:   awssdk.String(end.Format(costDateLayout)),
				},
				Granularity: ceGranularity,
				Metrics:     []string{"UnblendedCost"},
				GroupBy: []cetypes.GroupDefinition{
					{Type: cetypes.GroupDefinitionTypeDimension, Key: awssdk.String("SERVICE")},
				},
				NextPageToken: nextToken,
			})
			if err != nil {
				yield(domain.CostRecord{}, fmt.Errorf("failed to get cost and usage: %w", err))
				return
			}

			for _, result := range out.ResultsByTime {
				usageDate, err := time.Parse(costDateLayout, awssdk.ToString(result.TimePeriod.Start))
				if err != nil {
					if !yield(domain.CostRecord{}, fmt.Errorf("failed to parse cost period start: %w", err)) {
						return
					}
					continue
				}
				for _, group := range result.Groups {
					record, err := a.normalizeGroup(group, usageDate)
					if err != nil {
						if !yield(domain.CostRecord{}, err) {
							return
						}
						continue
					}
					if !yield(record, nil) {
						return
					}
				}
			}

			nextToken = out.NextPageToken
			if nextToken == nil {
				return
			}
		}
	}
}

func (a *awsAdapter) normalizeGroup(group cetypes.Group, usageDate time.Time) (domain.CostRecord, error) {
	service := "unknown"
	if len(group.Keys) > 0 {
		service = group.Keys[0]
	}
	metric, ok := group.Metrics["UnblendedCost"]
	if !ok {
		return domain.CostRecord{}, fmt.Errorf("cost group for %s has no UnblendedCost metric", service)
	}
	amount, err := decimal.NewFromString(awssdk.ToString(metric.Amount))
	if err != nil {
		return domain.CostRecord{}, fmt.Errorf("failed to parse cost amount for %s: %w", service, err)
	}
	currency := awssdk.ToString(metric.Unit)
	if currency == "" {
		currency = "USD"
	}
	return domain.CostRecord{
		TenantID:     a.tenantID,
		ConnectionID: a.connectionID,
		Provider:     domain.ProviderAWS,
		Service:      service,
		UsageDate:    usageDate,
		Amount:       amount,
		Currency:     currency,
	}, nil
}

// Package aws implements the zombie detector for AWS connections on the
// AWS SDK v2.
package aws

import (
	"context"
	"fmt"
	"strings"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/costwarden/costwarden/internal/application/zombie"
	"github.com/costwarden/costwarden/internal/domain"
)

// Detector owns the AWS service clients and the plugin set for one
// connection.
type Detector struct {
	plugins []zombie.Plugin
}

var _ zombie.Detector = (*Detector)(nil)

// NewDetector builds the AWS detector from the connection's static
// credentials.
func NewDetector(ctx context.Context, creds domain.Credentials, region string) (*Detector, error) {
	accessKey := creds.Get("access_key_id")
	secretKey := creds.Get("secret_access_key")
	if accessKey == "" || secretKey == "" {
		return nil, fmt.Errorf("aws connection is missing access credentials")
	}
	if region == "" {
		region = "us-east-1"
	}

	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, creds.Get("session_token"))))
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	ec2Client := ec2.NewFromConfig(cfg)
	cwClient := cloudwatch.NewFromConfig(cfg)

	return &Detector{
		plugins: []zombie.Plugin{
			&unattachedVolumesPlugin{ec2: ec2Client},
			&oldSnapshotsPlugin{ec2: ec2Client},
			&unusedElasticIPsPlugin{ec2: ec2Client},
			&idleInstancesPlugin{ec2: ec2Client, cloudwatch: cwClient},
			&orphanedImagesPlugin{ec2: ec2Client},
			&natGatewayPlugin{ec2: ec2Client, cloudwatch: cwClient},
			&idleRDSPlugin{rds: rds.NewFromConfig(cfg), cloudwatch: cwClient},
			&idleS3BucketsPlugin{s3: s3.NewFromConfig(cfg), region: region},
			&legacyECRImagesPlugin{ecr: ecr.NewFromConfig(cfg)},
		},
	}, nil
}

func (d *Detector) Provider() domain.Provider {
	return domain.ProviderAWS
}

func (d *Detector) Plugins() []zombie.Plugin {
	return d.plugins
}

// isGPUInstance reports whether the instance family carries GPUs.
func isGPUInstance(instanceType string) bool {
	family, _, _ := strings.Cut(instanceType, ".")
	for _, prefix := range gpuInstancePrefixes {
		if strings.HasPrefix(family, prefix) {
			return true
		}
	}
	return false
}

// ownerFromTags extracts the owner attribution tag, if present.
func ownerFromTags(tags map[string]string) string {
	for _, key := range []string{"Owner", "owner", "Team", "team", "CreatedBy"} {
		if v := tags[key]; v != "" {
			return v
		}
	}
	return ""
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func aws2tags[T any](tags []T, key func(T) (string, string)) map[string]string {
	out := make(map[string]string, len(tags))
	for _, t := range tags {
		k, v := key(t)
		out[k] = v
	}
	return out
}

func deref(s *string) string {
	return awssdk.ToString(s)
}

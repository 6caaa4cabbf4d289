package awsutil

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"go.uber.org/zap"
)

// LoadConfig loads the default AWS configuration for region. A non-empty endpoint marks a
// local emulator (ElasticMQ, MinIO, LocalStack), which gets static dummy credentials.
func LoadConfig(ctx context.Context, region, endpoint string, log *zap.Logger) (aws.Config, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}

	if endpoint != "" {
		log.Info("Using local AWS endpoint", zap.String("endpoint", endpoint))
		opts = append(opts,
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("dummy", "dummy", "")))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return cfg, nil
}

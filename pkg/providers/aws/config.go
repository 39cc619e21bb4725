package aws

import (
	"context"
	"fmt"

	"github.com/Uitware/heydeploy/pkg/parser"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
)

// LoadConfig builds the SDK configuration from the stored credentials record
// rather than the default credential chain.
func LoadConfig(ctx context.Context, creds *parser.Credentials) (aws.Config, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(creds.Region),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(creds.AccessKeyID, creds.SecretAccessKey, ""),
		),
	)
	if err != nil {
		return aws.Config{}, fmt.Errorf("configuration error, %w", err)
	}
	return cfg, nil
}

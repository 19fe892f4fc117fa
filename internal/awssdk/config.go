package awssdk

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"k8s.io/klog/v2"
)

// NewConfig returns an AWS SDK config for a region. An empty region uses the default chain.
// It exits the process if the config cannot be created
func NewConfig(ctx context.Context, region string) aws.Config {
	var optFns []func(*config.LoadOptions) error
	if region != "" {
		optFns = append(optFns, config.WithRegion(region))
	}
	c, err := config.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		klog.Fatalf("failed to create AWS SDK config: %v", err)
	}
	return c
}

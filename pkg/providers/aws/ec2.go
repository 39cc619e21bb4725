package aws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Uitware/heydeploy/pkg/parser"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

// EC2API is the part of the EC2 client the deployment uses.
type EC2API interface {
	RunInstances(
		ctx context.Context,
		params *ec2.RunInstancesInput,
		optFns ...func(*ec2.Options),
	) (*ec2.RunInstancesOutput, error)
	DescribeInstances(
		ctx context.Context,
		params *ec2.DescribeInstancesInput,
		optFns ...func(*ec2.Options),
	) (*ec2.DescribeInstancesOutput, error)
}

type Ec2Client struct {
	client       EC2API
	deployConfig *parser.Config
	retry        RetryPolicy
}

func NewEc2Client(client EC2API, config *parser.Config, retry RetryPolicy) *Ec2Client {
	return &Ec2Client{client: client, deployConfig: config, retry: retry}
}

var errPublicDNSPending = errors.New("instance has no public DNS name yet")

// liveInstanceStates are the states in which an instance can still serve the cluster.
var liveInstanceStates = []string{
	string(types.InstanceStateNamePending),
	string(types.InstanceStateNameRunning),
}

// EnsureInstance returns a live container instance for the cluster, launching one
// only when neither knownID nor a tagged instance is alive. The bool reports a launch.
func (ec2Client *Ec2Client) EnsureInstance(ctx context.Context, knownID string) (string, bool, error) {
	existing, err := ec2Client.findInstance(ctx, knownID)
	if err != nil {
		return "", false, err
	}
	if existing != "" {
		slog.Info("reusing container instance", "instance_id", existing)
		return existing, false, nil
	}

	var resp *ec2.RunInstancesOutput
	err = retryOnError(ctx, ec2Client.retry, "ec2:RunInstances", func() error {
		var err error
		resp, err = ec2Client.client.RunInstances(ctx, &ec2.RunInstancesInput{
			ImageId:      aws.String(ec2Client.deployConfig.Instance.ImageID),
			InstanceType: types.InstanceType(ec2Client.deployConfig.Instance.InstanceType),
			MinCount:     aws.Int32(1),
			MaxCount:     aws.Int32(1),
			IamInstanceProfile: &types.IamInstanceProfileSpecification{
				Name: aws.String(ec2Client.deployConfig.Instance.IAMInstanceProfile),
			},
			UserData:          aws.String(ec2Client.deployConfig.InstanceUserData()),
			TagSpecifications: ec2Client.deployConfig.GenerateInstanceTags(),
		})
		return err
	})
	if err != nil {
		return "", false, fmt.Errorf("failed to launch instance: %w", err)
	}
	if len(resp.Instances) == 0 || aws.ToString(resp.Instances[0].InstanceId) == "" {
		return "", false, errors.New("failed to launch instance: response carried no instance")
	}
	instanceID := aws.ToString(resp.Instances[0].InstanceId)
	slog.Info("container instance launched", "instance_id", instanceID)
	return instanceID, true, nil
}

// findInstance looks up knownID first and then any live instance tagged for the cluster.
func (ec2Client *Ec2Client) findInstance(ctx context.Context, knownID string) (string, error) {
	stateFilter := types.Filter{
		Name:   aws.String("instance-state-name"),
		Values: liveInstanceStates,
	}

	if knownID != "" {
		instances, err := ec2Client.describe(ctx, &ec2.DescribeInstancesInput{
			InstanceIds: []string{knownID},
			Filters:     []types.Filter{stateFilter},
		})
		if err != nil && !IsNotFound(err) {
			return "", fmt.Errorf("failed to describe instance %s: %w", knownID, err)
		}
		if len(instances) > 0 {
			return aws.ToString(instances[0].InstanceId), nil
		}
		slog.Warn("recorded instance is gone", "instance_id", knownID)
	}

	instances, err := ec2Client.describe(ctx, &ec2.DescribeInstancesInput{
		Filters: []types.Filter{
			stateFilter,
			{
				Name:   aws.String("tag:" + parser.ClusterTagKey),
				Values: []string{ec2Client.deployConfig.ClusterName()},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to look up cluster instances: %w", err)
	}
	if len(instances) > 0 {
		return aws.ToString(instances[0].InstanceId), nil
	}
	return "", nil
}

func (ec2Client *Ec2Client) describe(ctx context.Context, input *ec2.DescribeInstancesInput) ([]types.Instance, error) {
	var resp *ec2.DescribeInstancesOutput
	err := retryOnError(ctx, ec2Client.retry, "ec2:DescribeInstances", func() error {
		var err error
		resp, err = ec2Client.client.DescribeInstances(ctx, input)
		return err
	})
	if err != nil {
		return nil, err
	}
	var instances []types.Instance
	for _, reservation := range resp.Reservations {
		instances = append(instances, reservation.Instances...)
	}
	return instances, nil
}

// WaitForPublicDNS polls the instance until EC2 has assigned it a public DNS name.
// A freshly launched instance may briefly be unknown to DescribeInstances.
func (ec2Client *Ec2Client) WaitForPublicDNS(ctx context.Context, instanceID string) (string, error) {
	if instanceID == "" {
		return "", errors.New("no instance to resolve")
	}
	policy := ec2Client.retry
	policy.MaxRetries = 0
	policy.MaxElapsedTime = ec2Client.deployConfig.Instance.PublicDNSTimeout

	var dnsName string
	retryable := func(err error) bool {
		return errors.Is(err, errPublicDNSPending) || IsNotFound(err) || IsRetryable(err)
	}
	err := retryWhen(ctx, policy, "ec2:DescribeInstances", retryable, func() error {
		resp, err := ec2Client.client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
			InstanceIds: []string{instanceID},
		})
		if err != nil {
			return err
		}
		for _, reservation := range resp.Reservations {
			for _, instance := range reservation.Instances {
				if name := aws.ToString(instance.PublicDnsName); name != "" {
					dnsName = name
					return nil
				}
			}
		}
		return errPublicDNSPending
	})
	if err != nil {
		return "", fmt.Errorf("failed to resolve public DNS of %s: %w", instanceID, err)
	}
	return dnsName, nil
}

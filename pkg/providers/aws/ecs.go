package aws

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/Uitware/heydeploy/pkg/parser"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/ecs/types"
)

// ECSAPI is the part of the ECS client the deployment uses.
type ECSAPI interface {
	ListClusters(
		ctx context.Context,
		params *ecs.ListClustersInput,
		optFns ...func(*ecs.Options),
	) (*ecs.ListClustersOutput, error)
	CreateCluster(
		ctx context.Context,
		params *ecs.CreateClusterInput,
		optFns ...func(*ecs.Options),
	) (*ecs.CreateClusterOutput, error)
	RegisterTaskDefinition(
		ctx context.Context,
		params *ecs.RegisterTaskDefinitionInput,
		optFns ...func(*ecs.Options),
	) (*ecs.RegisterTaskDefinitionOutput, error)
	CreateService(
		ctx context.Context,
		params *ecs.CreateServiceInput,
		optFns ...func(*ecs.Options),
	) (*ecs.CreateServiceOutput, error)
	UpdateService(
		ctx context.Context,
		params *ecs.UpdateServiceInput,
		optFns ...func(*ecs.Options),
	) (*ecs.UpdateServiceOutput, error)
}

type EcsClient struct {
	client       ECSAPI
	deployConfig *parser.Config
	retry        RetryPolicy
}

func NewEcsClient(client ECSAPI, config *parser.Config, retry RetryPolicy) *EcsClient {
	return &EcsClient{client: client, deployConfig: config, retry: retry}
}

// ClusterExists pages through every cluster of the account looking for clusterARN.
func (ecsClient *EcsClient) ClusterExists(ctx context.Context, clusterARN string) (bool, error) {
	paginator := ecs.NewListClustersPaginator(ecsClient.client, &ecs.ListClustersInput{
		MaxResults: aws.Int32(100),
	})
	for paginator.HasMorePages() {
		var page *ecs.ListClustersOutput
		err := retryOnError(ctx, ecsClient.retry, "ecs:ListClusters", func() error {
			var err error
			page, err = paginator.NextPage(ctx)
			return err
		})
		if err != nil {
			return false, fmt.Errorf("failed to list clusters: %w", err)
		}
		if slices.Contains(page.ClusterArns, clusterARN) {
			return true, nil
		}
	}
	return false, nil
}

// EnsureCluster creates the cluster and returns its ARN. ECS returns the existing
// cluster when one with the same name is already active.
func (ecsClient *EcsClient) EnsureCluster(ctx context.Context) (string, error) {
	name := ecsClient.deployConfig.ClusterName()
	var resp *ecs.CreateClusterOutput
	err := retryOnError(ctx, ecsClient.retry, "ecs:CreateCluster", func() error {
		var err error
		resp, err = ecsClient.client.CreateCluster(ctx, &ecs.CreateClusterInput{
			ClusterName: aws.String(name),
			Tags:        ecsClient.deployConfig.GenerateECSTags(),
		})
		return err
	})
	if err != nil {
		if IsAlreadyExists(err) {
			slog.Info("cluster already exists", "cluster", name)
			return "", nil
		}
		return "", fmt.Errorf("failed to create cluster %s: %w", name, err)
	}
	arn := ""
	if resp != nil && resp.Cluster != nil {
		arn = aws.ToString(resp.Cluster.ClusterArn)
	}
	slog.Info("cluster created", "cluster", name, "arn", arn)
	return arn, nil
}

// RegisterTaskDefinition registers a new revision of the task family running image.
func (ecsClient *EcsClient) RegisterTaskDefinition(ctx context.Context, image string) (string, error) {
	portMappings, err := ecsClient.deployConfig.GenerateContainerPorts()
	if err != nil {
		return "", err
	}
	containerDefinition := []types.ContainerDefinition{{
		Name:         aws.String(ecsClient.deployConfig.ContainerName()),
		Image:        aws.String(image),
		Essential:    aws.Bool(true),
		PortMappings: portMappings,
		Memory:       aws.Int32(ecsClient.deployConfig.Task.Memory),
		Cpu:          ecsClient.deployConfig.Task.CPU,
	}}

	var resp *ecs.RegisterTaskDefinitionOutput
	err = retryOnError(ctx, ecsClient.retry, "ecs:RegisterTaskDefinition", func() error {
		var err error
		resp, err = ecsClient.client.RegisterTaskDefinition(ctx, &ecs.RegisterTaskDefinitionInput{
			Family:               aws.String(ecsClient.deployConfig.TaskFamily()),
			ContainerDefinitions: containerDefinition,
			Tags:                 ecsClient.deployConfig.GenerateECSTags(),
		})
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to register task definition %s: %w", ecsClient.deployConfig.TaskFamily(), err)
	}
	arn := ""
	if resp != nil && resp.TaskDefinition != nil {
		arn = aws.ToString(resp.TaskDefinition.TaskDefinitionArn)
	}
	slog.Info("task definition registered", "family", ecsClient.deployConfig.TaskFamily(), "arn", arn)
	return arn, nil
}

// EnsureService creates the service running the task family. It reports false
// when ECS says the service already exists.
func (ecsClient *EcsClient) EnsureService(ctx context.Context) (string, bool, error) {
	name := ecsClient.deployConfig.ServiceName()
	var resp *ecs.CreateServiceOutput
	err := retryOnError(ctx, ecsClient.retry, "ecs:CreateService", func() error {
		var err error
		resp, err = ecsClient.client.CreateService(ctx, &ecs.CreateServiceInput{
			Cluster:        aws.String(ecsClient.deployConfig.ClusterName()),
			ServiceName:    aws.String(name),
			TaskDefinition: aws.String(ecsClient.deployConfig.TaskFamily()),
			DesiredCount:   aws.Int32(ecsClient.deployConfig.Service.DesiredCount),
			DeploymentConfiguration: &types.DeploymentConfiguration{
				MinimumHealthyPercent: aws.Int32(ecsClient.deployConfig.Service.MinimumHealthyPercent),
				MaximumPercent:        aws.Int32(ecsClient.deployConfig.Service.MaximumPercent),
			},
			Tags: ecsClient.deployConfig.GenerateECSTags(),
		})
		return err
	})
	if err != nil {
		if IsAlreadyExists(err) {
			slog.Info("service already exists", "service", name)
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to create service %s: %w", name, err)
	}
	arn := ""
	if resp != nil && resp.Service != nil {
		arn = aws.ToString(resp.Service.ServiceArn)
	}
	slog.Info("service created", "service", name, "arn", arn)
	return arn, true, nil
}

// ForceNewDeployment restarts the tasks of the service so they pull the new image.
func (ecsClient *EcsClient) ForceNewDeployment(ctx context.Context) error {
	name := ecsClient.deployConfig.ServiceName()
	err := retryOnError(ctx, ecsClient.retry, "ecs:UpdateService", func() error {
		_, err := ecsClient.client.UpdateService(ctx, &ecs.UpdateServiceInput{
			Cluster:            aws.String(ecsClient.deployConfig.ClusterName()),
			Service:            aws.String(name),
			ForceNewDeployment: true,
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to update service %s: %w", name, err)
	}
	slog.Info("new deployment forced", "service", name)
	return nil
}

package aws

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Uitware/heydeploy/pkg/output"
	"github.com/Uitware/heydeploy/pkg/parser"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/docker/docker/api/types/registry"
)

// Provisioning steps, in the order a first deployment runs them.
const (
	StepRepository     = "repository"
	StepCluster        = "cluster"
	StepInstance       = "instance"
	StepTaskDefinition = "task_definition"
	StepService        = "service"
	StepEndpoint       = "endpoint"
)

// ImagePublisher builds the application image and pushes it to a registry.
type ImagePublisher interface {
	Build(ctx context.Context) error
	Push(ctx context.Context, auth registry.AuthConfig, repository string) (string, error)
}

// Result describes a finished deployment.
type Result struct {
	Image           string
	URL             string
	FirstDeployment bool
}

type Deployer struct {
	deployConfig *parser.Config
	credentials  *parser.Credentials
	profile      *parser.Profile
	publisher    ImagePublisher

	ecr *EcrClient
	ecs *EcsClient
	ec2 *Ec2Client
}

func NewDeployer(
	config *parser.Config,
	credentials *parser.Credentials,
	profile *parser.Profile,
	publisher ImagePublisher,
	ecrAPI ECRAPI,
	ecsAPI ECSAPI,
	ec2API EC2API,
) *Deployer {
	retry := RetryPolicyFromConfig(config)
	return &Deployer{
		deployConfig: config,
		credentials:  credentials,
		profile:      profile,
		publisher:    publisher,
		ecr:          NewEcrClient(ecrAPI, config, credentials.AccountID, retry),
		ecs:          NewEcsClient(ecsAPI, config, retry),
		ec2:          NewEc2Client(ec2API, config, retry),
	}
}

// Deploy runs a deployment against the account described by credentials.
func Deploy(
	ctx context.Context,
	config *parser.Config,
	credentials *parser.Credentials,
	profile *parser.Profile,
	publisher ImagePublisher,
) (Result, error) {
	cfg, err := LoadConfig(ctx, credentials)
	if err != nil {
		return Result{}, err
	}
	deployer := NewDeployer(config, credentials, profile, publisher,
		ecr.NewFromConfig(cfg),
		ecs.NewFromConfig(cfg),
		ec2.NewFromConfig(cfg),
	)
	return deployer.Run(ctx)
}

// Run publishes the image and then either provisions the cluster, resumes an
// unfinished provisioning, or forces the running service onto the new image.
func (d *Deployer) Run(ctx context.Context) (Result, error) {
	image, repositoryURI, err := d.publish(ctx)
	if err != nil {
		return Result{}, err
	}

	cluster := d.deployConfig.ClusterName()
	clusterARN := d.deployConfig.ClusterARN(d.credentials.Region, d.credentials.AccountID)
	output.Info("Looking up cluster %s", cluster)
	exists, err := d.ecs.ClusterExists(ctx, clusterARN)
	if err != nil {
		return Result{}, err
	}

	switch {
	case !exists:
		slog.Debug("cluster not found, starting first deployment", "cluster_arn", clusterARN)
		d.profile.Reset(cluster)
	case d.profile.HasProgress(cluster) && !d.profile.IsDone(StepEndpoint):
		output.Warning("Resuming unfinished deployment of %s", cluster)
	default:
		url, err := d.redeploy(ctx)
		if err != nil {
			return Result{}, err
		}
		return Result{Image: image, URL: url}, nil
	}

	// A service left by an interrupted run still runs the image it was created with.
	serviceRunning := d.profile.IsDone(StepService)
	d.profile.Deployment.RepositoryURI = repositoryURI
	d.profile.MarkDone(StepRepository)
	if err := d.profile.Save(); err != nil {
		return Result{}, err
	}
	url, err := d.provision(ctx, image)
	if err != nil {
		return Result{}, err
	}
	if serviceRunning {
		output.Info("Updating service %s", d.deployConfig.ServiceName())
		if err := d.ecs.ForceNewDeployment(ctx); err != nil {
			return Result{}, err
		}
	}
	return Result{Image: image, URL: url, FirstDeployment: true}, nil
}

// publish builds the image, makes sure its repository exists and pushes it.
// It returns the pushed image reference and the repository it lives in.
func (d *Deployer) publish(ctx context.Context) (string, string, error) {
	output.Info("Building image %s", d.deployConfig.LocalImageTag())
	if err := d.publisher.Build(ctx); err != nil {
		return "", "", err
	}

	output.Info("Creating repository %s", d.deployConfig.RepositoryName())
	created, err := d.ecr.EnsureRepository(ctx)
	if err != nil {
		return "", "", err
	}
	if !created {
		output.Info("Repository %s already exists in registry %s", d.deployConfig.RepositoryName(), d.credentials.AccountID)
	}

	output.Info("Getting registry login token")
	registryCredentials, err := d.ecr.GetRegistryCredentials(ctx)
	if err != nil {
		return "", "", err
	}

	repositoryURI := registryCredentials.Host() + "/" + d.deployConfig.RepositoryName()
	output.Info("Pushing image to %s", repositoryURI)
	image, err := d.publisher.Push(ctx, registry.AuthConfig{
		Username:      registryCredentials.Username,
		Password:      registryCredentials.Password,
		ServerAddress: registryCredentials.Endpoint,
	}, repositoryURI)
	if err != nil {
		return "", "", err
	}
	output.Success("Pushed %s", image)
	return image, repositoryURI, nil
}

// provisionState carries the values one step hands to the next.
type provisionState struct {
	image      string
	instanceID string
	url        string
}

type provisionStep struct {
	name    string
	message string
	run     func(ctx context.Context, state *provisionState) error
}

func (d *Deployer) provisionSteps() []provisionStep {
	return []provisionStep{
		{StepCluster, "Creating cluster " + d.deployConfig.ClusterName(), d.createCluster},
		{StepInstance, "Launching container instance", d.launchInstance},
		{StepTaskDefinition, "Registering task definition " + d.deployConfig.TaskFamily(), d.registerTaskDefinition},
		{StepService, "Creating service " + d.deployConfig.ServiceName(), d.createService},
		{StepEndpoint, "Resolving public address", d.resolveEndpoint},
	}
}

// provision runs every step the profile has not recorded yet, saving the
// profile after each one so an interrupted run can pick up where it stopped.
func (d *Deployer) provision(ctx context.Context, image string) (string, error) {
	state := &provisionState{
		image:      image,
		instanceID: d.profile.Deployment.InstanceID,
	}
	steps := d.provisionSteps()
	for i, step := range steps {
		if d.profile.IsDone(step.name) {
			output.StepSkipped(i+1, len(steps), step.message)
			continue
		}
		output.Step(i+1, len(steps), step.message)
		if err := step.run(ctx, state); err != nil {
			return "", fmt.Errorf("%s step failed: %w", step.name, err)
		}
		d.profile.MarkDone(step.name)
		if err := d.profile.Save(); err != nil {
			return "", err
		}
	}

	if state.url == "" {
		state.url = d.recordedURL()
	}
	return state.url, nil
}

func (d *Deployer) createCluster(ctx context.Context, _ *provisionState) error {
	arn, err := d.ecs.EnsureCluster(ctx)
	if err != nil {
		return err
	}
	if arn == "" {
		output.Info("Cluster %s already exists", d.deployConfig.ClusterName())
		arn = d.deployConfig.ClusterARN(d.credentials.Region, d.credentials.AccountID)
	}
	d.profile.Deployment.ClusterARN = arn
	return nil
}

func (d *Deployer) launchInstance(ctx context.Context, state *provisionState) error {
	instanceID, launched, err := d.ec2.EnsureInstance(ctx, state.instanceID)
	if err != nil {
		return err
	}
	if !launched {
		output.Info("Reusing instance %s", instanceID)
	}
	state.instanceID = instanceID
	d.profile.Deployment.InstanceID = instanceID
	return nil
}

func (d *Deployer) registerTaskDefinition(ctx context.Context, state *provisionState) error {
	arn, err := d.ecs.RegisterTaskDefinition(ctx, state.image)
	if err != nil {
		return err
	}
	d.profile.Deployment.TaskDefinitionARN = arn
	return nil
}

func (d *Deployer) createService(ctx context.Context, _ *provisionState) error {
	arn, created, err := d.ecs.EnsureService(ctx)
	if err != nil {
		return err
	}
	if !created {
		output.Info("Service %s already exists", d.deployConfig.ServiceName())
	}
	d.profile.Deployment.ServiceARN = arn
	return nil
}

// resolveEndpoint waits for the instance's public DNS name and writes it into
// the credentials file.
func (d *Deployer) resolveEndpoint(ctx context.Context, state *provisionState) error {
	dnsName, err := d.ec2.WaitForPublicDNS(ctx, state.instanceID)
	if err != nil {
		return err
	}
	if err := parser.SaveEC2URL(d.deployConfig.CredentialsFile, dnsName); err != nil {
		return fmt.Errorf("failed to save instance address: %w", err)
	}
	d.credentials.EC2URL = dnsName
	d.profile.Deployment.PublicDNS = dnsName
	state.url = "http://" + dnsName
	output.Success("The changes can be seen on %s", state.url)
	return nil
}

// redeploy restarts the service tasks on the pushed image.
func (d *Deployer) redeploy(ctx context.Context) (string, error) {
	output.Info("Updating service %s", d.deployConfig.ServiceName())
	if err := d.ecs.ForceNewDeployment(ctx); err != nil {
		return "", err
	}

	url := d.recordedURL()
	if url == "" {
		output.Warning("No public address recorded in %s", d.deployConfig.CredentialsFile)
		return "", nil
	}
	output.Success("The changes can be seen on %s", url)
	return url, nil
}

// recordedURL prefers the address stored in the credentials file over the state file.
func (d *Deployer) recordedURL() string {
	dnsName := d.credentials.EC2URL
	if dnsName == "" {
		dnsName = d.profile.Deployment.PublicDNS
	}
	if dnsName == "" {
		return ""
	}
	return "http://" + dnsName
}

package aws

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"testing"
	"time"

	"github.com/Uitware/heydeploy/pkg/parser"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2Types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	ecrTypes "github.com/aws/aws-sdk-go-v2/service/ecr/types"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	ecsTypes "github.com/aws/aws-sdk-go-v2/service/ecs/types"
	"github.com/aws/smithy-go"
	"github.com/docker/docker/api/types/registry"
	"github.com/stretchr/testify/require"
)

const (
	testAccountID = "111122223333"
	testRegion    = "us-east-1"
	testEndpoint  = "https://111122223333.dkr.ecr.us-east-1.amazonaws.com"
	testDNSName   = "ec2-3-80-1-2.compute-1.amazonaws.com"
)

// callLog records every provider and docker call across the fakes in order.
type callLog struct {
	calls []string
}

func (l *callLog) record(name string) {
	l.calls = append(l.calls, name)
}

func (l *callLog) count(name string) int {
	n := 0
	for _, call := range l.calls {
		if call == name {
			n++
		}
	}
	return n
}

// only keeps the calls named in names, in the order they happened.
func (l *callLog) only(names ...string) []string {
	var filtered []string
	for _, call := range l.calls {
		if slices.Contains(names, call) {
			filtered = append(filtered, call)
		}
	}
	return filtered
}

func popError(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}

func apiError(code string) error {
	return &smithy.GenericAPIError{Code: code, Message: code + " from fake"}
}

type fakeECR struct {
	log              *callLog
	repositoryExists bool
	createErrs       []error
	token            string
	createInputs     []*ecr.CreateRepositoryInput
}

func (f *fakeECR) CreateRepository(_ context.Context, params *ecr.CreateRepositoryInput, _ ...func(*ecr.Options)) (*ecr.CreateRepositoryOutput, error) {
	f.log.record("CreateRepository")
	f.createInputs = append(f.createInputs, params)
	if err := popError(&f.createErrs); err != nil {
		return nil, err
	}
	if f.repositoryExists {
		return nil, &ecrTypes.RepositoryAlreadyExistsException{
			Message: aws.String("The repository with name '" + aws.ToString(params.RepositoryName) + "' already exists"),
		}
	}
	f.repositoryExists = true
	return &ecr.CreateRepositoryOutput{Repository: &ecrTypes.Repository{
		RepositoryName: params.RepositoryName,
		RepositoryUri:  aws.String("111122223333.dkr.ecr.us-east-1.amazonaws.com/" + aws.ToString(params.RepositoryName)),
	}}, nil
}

func (f *fakeECR) GetAuthorizationToken(_ context.Context, _ *ecr.GetAuthorizationTokenInput, _ ...func(*ecr.Options)) (*ecr.GetAuthorizationTokenOutput, error) {
	f.log.record("GetAuthorizationToken")
	token := f.token
	if token == "" {
		token = base64.StdEncoding.EncodeToString([]byte("AWS:secret-token"))
	}
	return &ecr.GetAuthorizationTokenOutput{AuthorizationData: []ecrTypes.AuthorizationData{{
		AuthorizationToken: aws.String(token),
		ProxyEndpoint:      aws.String(testEndpoint),
	}}}, nil
}

type fakeECS struct {
	log *callLog

	clusters          []string
	hideClusters      bool
	pageSize          int
	services          map[string]bool
	createClusterErrs []error
	createServiceErrs []error

	createServiceInputs []*ecs.CreateServiceInput
	updateServiceInputs []*ecs.UpdateServiceInput
	taskDefinitions     []*ecs.RegisterTaskDefinitionInput
}

func (f *fakeECS) ListClusters(_ context.Context, params *ecs.ListClustersInput, _ ...func(*ecs.Options)) (*ecs.ListClustersOutput, error) {
	f.log.record("ListClusters")
	if f.hideClusters {
		return &ecs.ListClustersOutput{}, nil
	}
	if f.pageSize == 0 {
		return &ecs.ListClustersOutput{ClusterArns: f.clusters}, nil
	}

	start := 0
	if params.NextToken != nil {
		start, _ = strconv.Atoi(aws.ToString(params.NextToken))
	}
	end := min(start+f.pageSize, len(f.clusters))
	out := &ecs.ListClustersOutput{ClusterArns: f.clusters[start:end]}
	if end < len(f.clusters) {
		out.NextToken = aws.String(strconv.Itoa(end))
	}
	return out, nil
}

func (f *fakeECS) CreateCluster(_ context.Context, params *ecs.CreateClusterInput, _ ...func(*ecs.Options)) (*ecs.CreateClusterOutput, error) {
	f.log.record("CreateCluster")
	if err := popError(&f.createClusterErrs); err != nil {
		return nil, err
	}
	arn := fmt.Sprintf("arn:aws:ecs:%s:%s:cluster/%s", testRegion, testAccountID, aws.ToString(params.ClusterName))
	if !slices.Contains(f.clusters, arn) {
		f.clusters = append(f.clusters, arn)
	}
	return &ecs.CreateClusterOutput{Cluster: &ecsTypes.Cluster{
		ClusterArn:  aws.String(arn),
		ClusterName: params.ClusterName,
	}}, nil
}

func (f *fakeECS) RegisterTaskDefinition(_ context.Context, params *ecs.RegisterTaskDefinitionInput, _ ...func(*ecs.Options)) (*ecs.RegisterTaskDefinitionOutput, error) {
	f.log.record("RegisterTaskDefinition")
	f.taskDefinitions = append(f.taskDefinitions, params)
	arn := fmt.Sprintf("arn:aws:ecs:%s:%s:task-definition/%s:%d",
		testRegion, testAccountID, aws.ToString(params.Family), len(f.taskDefinitions))
	return &ecs.RegisterTaskDefinitionOutput{TaskDefinition: &ecsTypes.TaskDefinition{
		TaskDefinitionArn: aws.String(arn),
		Family:            params.Family,
	}}, nil
}

func (f *fakeECS) CreateService(_ context.Context, params *ecs.CreateServiceInput, _ ...func(*ecs.Options)) (*ecs.CreateServiceOutput, error) {
	f.log.record("CreateService")
	f.createServiceInputs = append(f.createServiceInputs, params)
	if err := popError(&f.createServiceErrs); err != nil {
		return nil, err
	}
	name := aws.ToString(params.ServiceName)
	if f.services == nil {
		f.services = make(map[string]bool)
	}
	if f.services[name] {
		return nil, &ecsTypes.InvalidParameterException{Message: aws.String("Creation of service was not idempotent.")}
	}
	f.services[name] = true
	return &ecs.CreateServiceOutput{Service: &ecsTypes.Service{
		ServiceName: params.ServiceName,
		ServiceArn:  aws.String(fmt.Sprintf("arn:aws:ecs:%s:%s:service/%s/%s", testRegion, testAccountID, aws.ToString(params.Cluster), name)),
	}}, nil
}

func (f *fakeECS) UpdateService(_ context.Context, params *ecs.UpdateServiceInput, _ ...func(*ecs.Options)) (*ecs.UpdateServiceOutput, error) {
	f.log.record("UpdateService")
	f.updateServiceInputs = append(f.updateServiceInputs, params)
	if !f.services[aws.ToString(params.Service)] {
		return nil, &ecsTypes.ServiceNotFoundException{Message: aws.String("Service not found.")}
	}
	return &ecs.UpdateServiceOutput{Service: &ecsTypes.Service{ServiceName: params.Service}}, nil
}

type fakeInstance struct {
	id      string
	cluster string
	state   ec2Types.InstanceStateName
}

type fakeEC2 struct {
	log *callLog

	instances    []*fakeInstance
	runErrs      []error
	runInputs    []*ec2.RunInstancesInput
	dnsName      string
	dnsAfter     int
	dnsDescribes int
}

func (f *fakeEC2) RunInstances(_ context.Context, params *ec2.RunInstancesInput, _ ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error) {
	f.log.record("RunInstances")
	f.runInputs = append(f.runInputs, params)
	if err := popError(&f.runErrs); err != nil {
		return nil, err
	}
	instance := &fakeInstance{
		id:    fmt.Sprintf("i-%017d", len(f.instances)+1),
		state: ec2Types.InstanceStateNamePending,
	}
	for _, spec := range params.TagSpecifications {
		for _, tag := range spec.Tags {
			if aws.ToString(tag.Key) == parser.ClusterTagKey {
				instance.cluster = aws.ToString(tag.Value)
			}
		}
	}
	f.instances = append(f.instances, instance)
	return &ec2.RunInstancesOutput{Instances: []ec2Types.Instance{{InstanceId: aws.String(instance.id)}}}, nil
}

func (f *fakeEC2) DescribeInstances(_ context.Context, params *ec2.DescribeInstancesInput, _ ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	f.log.record("DescribeInstances")
	liveOnly, cluster := false, ""
	for _, filter := range params.Filters {
		switch aws.ToString(filter.Name) {
		case "instance-state-name":
			liveOnly = true
		case "tag:" + parser.ClusterTagKey:
			cluster = filter.Values[0]
		}
	}

	var matched []ec2Types.Instance
	for _, instance := range f.instances {
		if len(params.InstanceIds) > 0 && !slices.Contains(params.InstanceIds, instance.id) {
			continue
		}
		if cluster != "" && instance.cluster != cluster {
			continue
		}
		if liveOnly && instance.state != ec2Types.InstanceStateNamePending && instance.state != ec2Types.InstanceStateNameRunning {
			continue
		}
		described := ec2Types.Instance{
			InstanceId: aws.String(instance.id),
			State:      &ec2Types.InstanceState{Name: instance.state},
		}
		if len(params.InstanceIds) > 0 && len(params.Filters) == 0 {
			f.dnsDescribes++
			if f.dnsDescribes > f.dnsAfter {
				described.PublicDnsName = aws.String(f.dnsName)
				instance.state = ec2Types.InstanceStateNameRunning
			} else {
				described.PublicDnsName = aws.String("")
			}
		}
		matched = append(matched, described)
	}

	if len(params.InstanceIds) > 0 && len(matched) == 0 && !liveOnly {
		return nil, apiError("InvalidInstanceID.NotFound")
	}
	if len(matched) == 0 {
		return &ec2.DescribeInstancesOutput{}, nil
	}
	return &ec2.DescribeInstancesOutput{Reservations: []ec2Types.Reservation{{Instances: matched}}}, nil
}

type fakePublisher struct {
	log      *callLog
	buildErr error
	pushErr  error
	auths    []registry.AuthConfig
	pushed   []string
}

func (f *fakePublisher) Build(context.Context) error {
	f.log.record("Build")
	return f.buildErr
}

func (f *fakePublisher) Push(_ context.Context, auth registry.AuthConfig, repository string) (string, error) {
	f.log.record("Push")
	if f.pushErr != nil {
		return "", f.pushErr
	}
	f.auths = append(f.auths, auth)
	ref := repository + ":latest"
	f.pushed = append(f.pushed, ref)
	return ref, nil
}

// fakeAccount is one AWS account shared by consecutive deployments.
type fakeAccount struct {
	log       *callLog
	ecr       *fakeECR
	ecs       *fakeECS
	ec2       *fakeEC2
	publisher *fakePublisher
}

func newFakeAccount() *fakeAccount {
	log := &callLog{}
	return &fakeAccount{
		log:       log,
		ecr:       &fakeECR{log: log},
		ecs:       &fakeECS{log: log},
		ec2:       &fakeEC2{log: log, dnsName: testDNSName},
		publisher: &fakePublisher{log: log},
	}
}

// testConfig returns the default configuration with files inside a temp dir
// and retry intervals short enough for tests.
func testConfig(t *testing.T) *parser.Config {
	t.Helper()
	dir := t.TempDir()
	config := parser.DefaultConfig()
	config.CredentialsFile = filepath.Join(dir, parser.DefaultCredentialsFile)
	config.StateFile = filepath.Join(dir, parser.DefaultStateFile)
	config.Retry.InitialInterval = time.Millisecond
	config.Retry.MaxInterval = 5 * time.Millisecond
	config.Instance.PublicDNSTimeout = 2 * time.Second
	return config
}

func writeCredentials(t *testing.T, config *parser.Config, extra string) *parser.Credentials {
	t.Helper()
	content := `{"aws_account_id":"111122223333","aws_region":"us-east-1",` +
		`"aws_access_key_id":"AKIAEXAMPLE","aws_secret_access_key":"secret"` + extra + `}`
	require.NoError(t, os.WriteFile(config.CredentialsFile, []byte(content), 0600))
	credentials, err := parser.ReadCredentials(config.CredentialsFile)
	require.NoError(t, err)
	return credentials
}

func loadProfile(t *testing.T, config *parser.Config) *parser.Profile {
	t.Helper()
	profile, err := parser.LoadOrCreateProfile(config.StateFile)
	require.NoError(t, err)
	return profile
}

func (a *fakeAccount) deployer(config *parser.Config, credentials *parser.Credentials, profile *parser.Profile) *Deployer {
	return NewDeployer(config, credentials, profile, a.publisher, a.ecr, a.ecs, a.ec2)
}

var errFake = errors.New("fake failure")

package aws

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Uitware/heydeploy/pkg/parser"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
)

// ECRAPI is the part of the ECR client the deployment uses.
type ECRAPI interface {
	CreateRepository(
		ctx context.Context,
		params *ecr.CreateRepositoryInput,
		optFns ...func(*ecr.Options),
	) (*ecr.CreateRepositoryOutput, error)
	GetAuthorizationToken(
		ctx context.Context,
		params *ecr.GetAuthorizationTokenInput,
		optFns ...func(*ecr.Options),
	) (*ecr.GetAuthorizationTokenOutput, error)
}

type EcrClient struct {
	client       ECRAPI
	deployConfig *parser.Config
	accountID    string
	retry        RetryPolicy
}

func NewEcrClient(client ECRAPI, config *parser.Config, accountID string, retry RetryPolicy) *EcrClient {
	return &EcrClient{client: client, deployConfig: config, accountID: accountID, retry: retry}
}

// RegistryCredentials is a decoded ECR authorization token.
type RegistryCredentials struct {
	Username string
	Password string
	// Endpoint is the proxy endpoint, including its scheme.
	Endpoint string
}

// Host is the registry address images are tagged with.
func (c RegistryCredentials) Host() string {
	host := strings.TrimPrefix(c.Endpoint, "https://")
	host = strings.TrimPrefix(host, "http://")
	return strings.TrimSuffix(host, "/")
}

// EnsureRepository creates the image repository. It reports false when the
// repository was already there.
func (ecrClient *EcrClient) EnsureRepository(ctx context.Context) (bool, error) {
	name := ecrClient.deployConfig.RepositoryName()
	var resp *ecr.CreateRepositoryOutput
	err := retryOnError(ctx, ecrClient.retry, "ecr:CreateRepository", func() error {
		var err error
		resp, err = ecrClient.client.CreateRepository(ctx, &ecr.CreateRepositoryInput{
			RegistryId:     aws.String(ecrClient.accountID),
			RepositoryName: aws.String(name),
			Tags:           ecrClient.deployConfig.GenerateECRTags(),
		})
		return err
	})
	if err != nil {
		if IsAlreadyExists(err) {
			slog.Info("repository already exists", "repository", name, "registry", ecrClient.accountID)
			return false, nil
		}
		return false, fmt.Errorf("failed to create repository %s: %w", name, err)
	}
	if resp != nil && resp.Repository != nil {
		slog.Info("repository created", "uri", aws.ToString(resp.Repository.RepositoryUri))
	}
	return true, nil
}

// GetRegistryCredentials fetches a short-lived token for docker login.
func (ecrClient *EcrClient) GetRegistryCredentials(ctx context.Context) (RegistryCredentials, error) {
	var resp *ecr.GetAuthorizationTokenOutput
	err := retryOnError(ctx, ecrClient.retry, "ecr:GetAuthorizationToken", func() error {
		var err error
		resp, err = ecrClient.client.GetAuthorizationToken(ctx, &ecr.GetAuthorizationTokenInput{})
		return err
	})
	if err != nil {
		return RegistryCredentials{}, fmt.Errorf("failed to get authorization token: %w", err)
	}
	if len(resp.AuthorizationData) == 0 {
		return RegistryCredentials{}, errors.New("authorization token response carried no data")
	}

	data := resp.AuthorizationData[0]
	username, password, err := decodeAuthorizationToken(aws.ToString(data.AuthorizationToken))
	if err != nil {
		return RegistryCredentials{}, err
	}
	if aws.ToString(data.ProxyEndpoint) == "" {
		return RegistryCredentials{}, errors.New("authorization token response has no proxy endpoint")
	}
	return RegistryCredentials{
		Username: username,
		Password: password,
		Endpoint: aws.ToString(data.ProxyEndpoint),
	}, nil
}

// decodeAuthorizationToken splits a base64 "user:password" token.
func decodeAuthorizationToken(token string) (string, string, error) {
	decoded, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return "", "", fmt.Errorf("failed to decode authorization token: %w", err)
	}
	username, password, ok := strings.Cut(string(decoded), ":")
	if !ok || username == "" || password == "" {
		return "", "", errors.New("authorization token is not in user:password form")
	}
	return username, password, nil
}

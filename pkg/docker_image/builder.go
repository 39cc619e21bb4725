package docker_image

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"
)

// dockerAPI is the part of the docker engine client used to build and publish images.
type dockerAPI interface {
	ImageBuild(ctx context.Context, buildContext io.Reader, options types.ImageBuildOptions) (types.ImageBuildResponse, error)
	ImageTag(ctx context.Context, source, target string) error
	RegistryLogin(ctx context.Context, auth registry.AuthConfig) (registry.AuthenticateOKBody, error)
	ImagePush(ctx context.Context, image string, options image.PushOptions) (io.ReadCloser, error)
}

// Builder builds the application image from a local context and pushes it to a
// remote registry.
type Builder struct {
	client     dockerAPI
	contextDir string
	dockerfile string
	localTag   string
}

func NewBuilder(dockerClient dockerAPI, contextDir, dockerfile, localTag string) *Builder {
	return &Builder{
		client:     dockerClient,
		contextDir: contextDir,
		dockerfile: dockerfile,
		localTag:   localTag,
	}
}

// NewBuilderFromEnv connects to the docker engine configured in the environment.
func NewBuilderFromEnv(contextDir, dockerfile, localTag string) (*Builder, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}
	return NewBuilder(cli, contextDir, dockerfile, localTag), nil
}

// Build builds the context directory into an image tagged with the local tag.
// It returns once the engine has finished, failing if the build stream reports an error.
func (b *Builder) Build(ctx context.Context) error {
	tar, err := archive.TarWithOptions(b.contextDir, &archive.TarOptions{})
	if err != nil {
		return fmt.Errorf("failed to create tar archive: %w", err)
	}
	defer tar.Close()

	res, err := b.client.ImageBuild(ctx, tar, types.ImageBuildOptions{
		Dockerfile: b.dockerfile,
		Tags:       []string{b.localTag},
		Remove:     true,
	})
	if err != nil {
		return fmt.Errorf("failed to build image: %w", err)
	}
	defer res.Body.Close()

	if err := PrintLog(res.Body); err != nil {
		return fmt.Errorf("failed to build image: %w", err)
	}
	slog.Info("image built", "tag", b.localTag)
	return nil
}

// Push logs into the registry, tags the local image as repository:latest and
// pushes it. It returns the pushed reference.
func (b *Builder) Push(ctx context.Context, auth registry.AuthConfig, repository string) (string, error) {
	if _, err := b.client.RegistryLogin(ctx, auth); err != nil {
		return "", fmt.Errorf("failed to log in to %s: %w", auth.ServerAddress, err)
	}

	remoteTag := repository + ":latest"
	if err := b.client.ImageTag(ctx, b.localTag, remoteTag); err != nil {
		return "", fmt.Errorf("failed to tag image %s as %s: %w", b.localTag, remoteTag, err)
	}

	authStr, err := registry.EncodeAuthConfig(auth)
	if err != nil {
		return "", fmt.Errorf("failed to encode registry auth: %w", err)
	}
	pushResponse, err := b.client.ImagePush(ctx, remoteTag, image.PushOptions{
		RegistryAuth: authStr,
	})
	if err != nil {
		return "", fmt.Errorf("failed to push image: %w", err)
	}
	defer pushResponse.Close()

	if err := PrintLog(pushResponse); err != nil {
		return "", fmt.Errorf("failed to push image: %w", err)
	}
	slog.Info("image pushed", "image", remoteTag)
	return remoteTag, nil
}

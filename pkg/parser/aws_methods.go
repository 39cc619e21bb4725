package parser

import (
	"encoding/base64"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	ec2Types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	ecrTypes "github.com/aws/aws-sdk-go-v2/service/ecr/types"
	"github.com/aws/aws-sdk-go-v2/service/ecs/types"
	"github.com/docker/go-connections/nat"
)

// Methods related to AWS configuration for the parser

// ClusterTagKey marks the container instance launched for a cluster.
const ClusterTagKey = "heydeploy:cluster"

// GenerateContainerPorts turns the "host:container/proto" specs of the task into
// ECS port mappings, in the order they are configured.
func (config *Config) GenerateContainerPorts() ([]types.PortMapping, error) {
	portMappings := make([]types.PortMapping, 0, len(config.Task.PortMappings))

	for _, spec := range config.Task.PortMappings {
		mappings, err := nat.ParsePortSpec(spec)
		if err != nil {
			return nil, fmt.Errorf("invalid port mapping %q: %w", spec, err)
		}
		for _, mapping := range mappings {
			portMapping := types.PortMapping{
				ContainerPort: aws.Int32(int32(mapping.Port.Int())),
			}
			switch mapping.Port.Proto() {
			case "tcp":
				portMapping.Protocol = types.TransportProtocolTcp
			case "udp":
				portMapping.Protocol = types.TransportProtocolUdp
			default:
				return nil, fmt.Errorf("unsupported protocol %q in port mapping %q", mapping.Port.Proto(), spec)
			}
			if mapping.Binding.HostPort != "" {
				hostPort, err := strconv.ParseInt(mapping.Binding.HostPort, 10, 32)
				if err != nil {
					return nil, fmt.Errorf("invalid host port in %q: %w", spec, err)
				}
				portMapping.HostPort = aws.Int32(int32(hostPort))
			}
			portMappings = append(portMappings, portMapping)
		}
	}
	return portMappings, nil
}

// GenerateECSTags generates tags for the ECS cluster, task definition and service
func (config *Config) GenerateECSTags() []types.Tag {
	tags := make([]types.Tag, 0, len(config.Tags))

	for _, tag := range config.Tags {
		tags = append(tags, types.Tag{
			Key:   aws.String(tag.Key),
			Value: aws.String(tag.Value),
		})
	}
	return tags
}

func (config *Config) GenerateECRTags() []ecrTypes.Tag {
	tags := make([]ecrTypes.Tag, 0, len(config.Tags))

	for _, tag := range config.Tags {
		tags = append(tags, ecrTypes.Tag{
			Key:   aws.String(tag.Key),
			Value: aws.String(tag.Value),
		})
	}
	return tags
}

// GenerateInstanceTags tags the container instance so that a later run can find it
// again instead of launching a second one.
func (config *Config) GenerateInstanceTags() []ec2Types.TagSpecification {
	tags := []ec2Types.Tag{
		{Key: aws.String("Name"), Value: aws.String(config.ClusterName())},
		{Key: aws.String(ClusterTagKey), Value: aws.String(config.ClusterName())},
	}
	for _, tag := range config.Tags {
		tags = append(tags, ec2Types.Tag{
			Key:   aws.String(tag.Key),
			Value: aws.String(tag.Value),
		})
	}

	return []ec2Types.TagSpecification{
		{
			Tags:         tags,
			ResourceType: ec2Types.ResourceTypeInstance,
		},
	}
}

// InstanceUserData is the boot script that registers the instance into the cluster,
// base64 encoded as RunInstances expects it.
func (config *Config) InstanceUserData() string {
	script := fmt.Sprintf("#!/bin/bash\necho ECS_CLUSTER=%s >> /etc/ecs/ecs.config\n", config.ClusterName())
	return base64.StdEncoding.EncodeToString([]byte(script))
}

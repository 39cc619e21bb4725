package parser

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Defaults for a deployment. Every name used against AWS derives from DefaultName.
const (
	DefaultName               = "hey-assignment"
	DefaultStateFile          = ".heydeploy.toml"
	DefaultImageID            = "ami-0a4cbf3bd47ef1bc9"
	DefaultInstanceType       = "t2.micro"
	DefaultInstanceProfile    = "ecsInstanceRole"
	DefaultDesiredCount       = 5
	DefaultContainerMemory    = 300
	DefaultContainerCPU       = 10
	DefaultMaximumPercent     = 100
	DefaultMinimumHealthy     = 0
	DefaultContainerPortSpec  = "80:80/tcp"
	DefaultDockerfile         = "Dockerfile"
	DefaultBuildContext       = "."
	DefaultConfigName         = "heydeploy"
	envPrefix                 = "HEYDEPLOY"
	defaultRetryAttempts      = 4
	defaultRetryInterval      = 2 * time.Second
	defaultRetryMaxInterval   = 30 * time.Second
	defaultPublicDNSWaitLimit = 3 * time.Minute
)

type Config struct {
	Name            string            `mapstructure:"name" validate:"required"`
	CredentialsFile string            `mapstructure:"credentials_file" validate:"required"`
	StateFile       string            `mapstructure:"state_file" validate:"required"`
	LogLevel        string            `mapstructure:"log_level" validate:"omitempty,oneof=debug info warn error"`
	Tags            []Tag             `mapstructure:"tags" validate:"dive"`
	Build           struct {
		Context    string `mapstructure:"context" validate:"required"`
		Dockerfile string `mapstructure:"dockerfile" validate:"required"`
	} `mapstructure:"build"`
	Instance struct {
		ImageID            string        `mapstructure:"image_id" validate:"required"`
		InstanceType       string        `mapstructure:"instance_type" validate:"required"`
		IAMInstanceProfile string        `mapstructure:"iam_instance_profile" validate:"required"`
		PublicDNSTimeout   time.Duration `mapstructure:"public_dns_timeout" validate:"gt=0"`
	} `mapstructure:"instance"`
	Task struct {
		Memory       int32    `mapstructure:"memory" validate:"gt=0"`
		CPU          int32    `mapstructure:"cpu" validate:"gte=0"`
		PortMappings []string `mapstructure:"port_mappings" validate:"required,min=1,dive,required"`
	} `mapstructure:"task"`
	Service struct {
		DesiredCount          int32 `mapstructure:"desired_count" validate:"gte=0"`
		MinimumHealthyPercent int32 `mapstructure:"minimum_healthy_percent" validate:"gte=0,lte=100"`
		MaximumPercent        int32 `mapstructure:"maximum_percent" validate:"gte=100"`
	} `mapstructure:"service"`
	Retry struct {
		MaxRetries      uint64        `mapstructure:"max_retries"`
		InitialInterval time.Duration `mapstructure:"initial_interval" validate:"gt=0"`
		MaxInterval     time.Duration `mapstructure:"max_interval" validate:"gt=0"`
	} `mapstructure:"retry"`
}

// Tag is a resource tag. Tags are configured as a list of key/value pairs
// because viper lowercases map keys and AWS tag keys are case sensitive.
type Tag struct {
	Key   string `mapstructure:"key" validate:"required"`
	Value string `mapstructure:"value"`
}

var configValidator = validator.New()

// LoadConfig resolves the deployment configuration from defaults, an optional
// config file and HEYDEPLOY_* environment variables, in increasing precedence.
// An empty filePath looks for heydeploy.yaml in the working directory.
func LoadConfig(filePath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if filePath != "" {
		v.SetConfigFile(filePath)
	} else {
		v.SetConfigName(DefaultConfigName)
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if filePath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := configValidator.Struct(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &config, nil
}

// DefaultConfig returns the configuration used when nothing overrides it.
func DefaultConfig() *Config {
	v := viper.New()
	setDefaults(v)
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		panic(fmt.Sprintf("default config does not decode: %v", err))
	}
	return &config
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("name", DefaultName)
	v.SetDefault("credentials_file", DefaultCredentialsFile)
	v.SetDefault("state_file", DefaultStateFile)
	v.SetDefault("log_level", "info")
	v.SetDefault("tags", []map[string]any{{"key": "managed-by", "value": "heydeploy"}})

	v.SetDefault("build.context", DefaultBuildContext)
	v.SetDefault("build.dockerfile", DefaultDockerfile)

	v.SetDefault("instance.image_id", DefaultImageID)
	v.SetDefault("instance.instance_type", DefaultInstanceType)
	v.SetDefault("instance.iam_instance_profile", DefaultInstanceProfile)
	v.SetDefault("instance.public_dns_timeout", defaultPublicDNSWaitLimit)

	v.SetDefault("task.memory", DefaultContainerMemory)
	v.SetDefault("task.cpu", DefaultContainerCPU)
	v.SetDefault("task.port_mappings", []string{DefaultContainerPortSpec})

	v.SetDefault("service.desired_count", DefaultDesiredCount)
	v.SetDefault("service.minimum_healthy_percent", DefaultMinimumHealthy)
	v.SetDefault("service.maximum_percent", DefaultMaximumPercent)

	v.SetDefault("retry.max_retries", defaultRetryAttempts)
	v.SetDefault("retry.initial_interval", defaultRetryInterval)
	v.SetDefault("retry.max_interval", defaultRetryMaxInterval)
}

// RepositoryName is the ECR repository the image is pushed to.
func (config *Config) RepositoryName() string { return config.Name }

// ClusterName is the ECS cluster that hosts the service.
func (config *Config) ClusterName() string { return config.Name }

// ServiceName is used both when the service is created and when it is redeployed.
func (config *Config) ServiceName() string { return config.Name + "-service" }

func (config *Config) TaskFamily() string { return config.Name }

func (config *Config) ContainerName() string { return config.Name + "-container" }

// LocalImageTag is the tag given to the image by the local build.
func (config *Config) LocalImageTag() string { return config.Name + ":latest" }

// ClusterARN is the ARN ECS assigns to the cluster in the given account and region.
func (config *Config) ClusterARN(region, accountID string) string {
	return fmt.Sprintf("arn:aws:ecs:%s:%s:cluster/%s", region, accountID, config.ClusterName())
}

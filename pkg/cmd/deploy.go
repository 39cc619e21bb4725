package cmd

import (
	"fmt"

	"github.com/Uitware/heydeploy/pkg/docker_image"
	"github.com/Uitware/heydeploy/pkg/output"
	"github.com/Uitware/heydeploy/pkg/parser"
	"github.com/Uitware/heydeploy/pkg/providers/aws"
	"github.com/spf13/cobra"
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "🚀 build and push the image, then create or update the ECS service",
	Args:  cobra.NoArgs,
	RunE:  runDeploy,
}

func runDeploy(cmd *cobra.Command, _ []string) error {
	credentials, err := parser.ReadCredentials(deployConfig.CredentialsFile)
	if err != nil {
		return err
	}
	profile, err := parser.LoadOrCreateProfile(deployConfig.StateFile)
	if err != nil {
		return err
	}
	builder, err := docker_image.NewBuilderFromEnv(
		deployConfig.Build.Context,
		deployConfig.Build.Dockerfile,
		deployConfig.LocalImageTag(),
	)
	if err != nil {
		return err
	}

	result, err := aws.Deploy(cmd.Context(), deployConfig, credentials, profile, builder)
	if err != nil {
		return fmt.Errorf("deployment failed: %w", err)
	}
	if result.FirstDeployment {
		output.Success("%s deployed", deployConfig.ServiceName())
	} else {
		output.Success("%s redeployed", deployConfig.ServiceName())
	}
	return nil
}

func init() {
	rootCmd.AddCommand(deployCmd)
}

package cmd

import (
	"strings"
	"time"

	"github.com/Uitware/heydeploy/pkg/output"
	"github.com/Uitware/heydeploy/pkg/parser"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "📋 show what the last deployment recorded",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		profile, err := parser.LoadOrCreateProfile(deployConfig.StateFile)
		if err != nil {
			return err
		}
		printStatus(deployConfig, profile)
		return nil
	},
}

func printStatus(config *parser.Config, profile *parser.Profile) {
	deployment := profile.Deployment
	if len(deployment.CompletedSteps) == 0 {
		output.Warning("No deployment recorded in %s", config.StateFile)
		return
	}

	output.KeyValue("Cluster", deployment.Cluster)
	output.KeyValue("Service", config.ServiceName())
	output.KeyValue("Repository", deployment.RepositoryURI)
	output.KeyValue("Instance", deployment.InstanceID)
	output.KeyValue("Task definition", deployment.TaskDefinitionARN)
	output.KeyValue("Completed steps", strings.Join(deployment.CompletedSteps, ", "))
	if !deployment.UpdatedAt.IsZero() {
		output.KeyValue("Updated", deployment.UpdatedAt.Format(time.RFC3339))
	}

	dnsName := deployment.PublicDNS
	if credentials, err := parser.ReadCredentials(config.CredentialsFile); err == nil && credentials.EC2URL != "" {
		dnsName = credentials.EC2URL
	}
	if dnsName == "" {
		output.Warning("No public address recorded yet")
		return
	}
	output.KeyValue("URL", output.Bold("http://"+dnsName))
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

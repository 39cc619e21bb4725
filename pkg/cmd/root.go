package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/Uitware/heydeploy/pkg/logger"
	"github.com/Uitware/heydeploy/pkg/output"
	"github.com/Uitware/heydeploy/pkg/parser"
	"github.com/spf13/cobra"
)

const envFile = ".env"

var (
	configFile      string
	logLevel        string
	credentialsFile string

	// deployConfig is resolved once per invocation before any command runs.
	deployConfig *parser.Config
)

var rootCmd = &cobra.Command{
	Use:   "heydeploy",
	Short: "🚀 heydeploy builds your container and runs it on AWS ECS",
	Long: `🚀 heydeploy builds the Docker image in the current directory, pushes it to ECR
and runs it as an ECS service on an EC2 container instance.

Running it without a command deploys. The first run creates the repository, cluster,
instance, task definition and service. Later runs push the new image and force a new
deployment of the service.`,
	Args:              cobra.NoArgs,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadDeployConfig,
	RunE:              runDeploy,
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		output.Error("%v", err)
		os.Exit(1)
	}
}

// loadDeployConfig applies the .env file, resolves the configuration and sets
// up logging. Flags take precedence over the configuration file.
func loadDeployConfig(cmd *cobra.Command, _ []string) error {
	if err := parser.ApplyEnvFile(envFile); err != nil {
		return err
	}
	config, err := parser.LoadConfig(configFile)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("credentials") {
		config.CredentialsFile = credentialsFile
	}
	if cmd.Flags().Changed("log-level") {
		config.LogLevel = logLevel
	}
	if _, err := logger.Initialize(config.LogLevel); err != nil {
		return err
	}
	deployConfig = config
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is ./heydeploy.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn or error")
	rootCmd.PersistentFlags().StringVar(&credentialsFile, "credentials", parser.DefaultCredentialsFile, "AWS credentials file")
	rootCmd.Root().CompletionOptions.DisableDefaultCmd = true
}

package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/Uitware/heydeploy/pkg/output"
	"github.com/Uitware/heydeploy/pkg/parser"
	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupStatus writes a config file pointing at files in a temp dir and
// captures console output.
func setupStatus(t *testing.T) (string, *parser.Config, *bytes.Buffer) {
	t.Helper()
	dir := t.TempDir()
	config := parser.DefaultConfig()
	config.StateFile = filepath.Join(dir, "state.toml")
	config.CredentialsFile = filepath.Join(dir, "aws_credentials.json")

	configPath := filepath.Join(dir, "heydeploy.yaml")
	content := "state_file: " + config.StateFile + "\n" +
		"credentials_file: " + config.CredentialsFile + "\n"
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0600))

	oldStdout, oldNoColor := output.Stdout, color.NoColor
	buf := &bytes.Buffer{}
	output.Stdout = buf
	color.NoColor = true
	t.Cleanup(func() {
		output.Stdout, color.NoColor = oldStdout, oldNoColor
		rootCmd.SetArgs(nil)
	})
	return configPath, config, buf
}

func TestStatusWithoutDeployment(t *testing.T) {
	configPath, _, buf := setupStatus(t)

	rootCmd.SetArgs([]string{"status", "--config", configPath, "--log-level", "error"})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, buf.String(), "No deployment recorded")
}

func TestStatusPrintsRecordedDeployment(t *testing.T) {
	configPath, config, buf := setupStatus(t)

	profile, err := parser.LoadOrCreateProfile(config.StateFile)
	require.NoError(t, err)
	profile.Reset(config.ClusterName())
	profile.Deployment.InstanceID = "i-0123456789abcdef0"
	profile.Deployment.PublicDNS = "ec2-3-80-1-2.compute-1.amazonaws.com"
	profile.MarkDone("repository")
	profile.MarkDone("cluster")
	require.NoError(t, profile.Save())

	rootCmd.SetArgs([]string{"status", "--config", configPath, "--log-level", "error"})
	require.NoError(t, rootCmd.Execute())

	out := buf.String()
	assert.Contains(t, out, "Cluster: hey-assignment")
	assert.Contains(t, out, "Service: hey-assignment-service")
	assert.Contains(t, out, "Instance: i-0123456789abcdef0")
	assert.Contains(t, out, "Completed steps: repository, cluster")
	assert.Contains(t, out, "URL: http://ec2-3-80-1-2.compute-1.amazonaws.com")
}

func TestStatusPrefersCredentialsURL(t *testing.T) {
	configPath, config, buf := setupStatus(t)

	profile, err := parser.LoadOrCreateProfile(config.StateFile)
	require.NoError(t, err)
	profile.Reset(config.ClusterName())
	profile.Deployment.PublicDNS = "old.compute-1.amazonaws.com"
	profile.MarkDone("repository")
	require.NoError(t, profile.Save())
	require.NoError(t, os.WriteFile(config.CredentialsFile, []byte(`{"aws_account_id":"111122223333",`+
		`"aws_region":"us-east-1","aws_access_key_id":"AKIA","aws_secret_access_key":"secret",`+
		`"aws_ec2_url":"new.compute-1.amazonaws.com"}`), 0600))

	rootCmd.SetArgs([]string{"status", "--config", configPath, "--log-level", "error"})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, buf.String(), "URL: http://new.compute-1.amazonaws.com")
}

func TestInvalidLogLevelIsRejected(t *testing.T) {
	configPath, _, _ := setupStatus(t)

	rootCmd.SetArgs([]string{"status", "--config", configPath, "--log-level", "loud"})
	assert.Error(t, rootCmd.Execute())
}

package parser

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"time"

	"github.com/pelletier/go-toml"
)

// Profile is the deployment state kept between runs. Each provisioning step
// records its identifiers here once it finishes.
type Profile struct {
	Deployment struct {
		Cluster           string    `toml:"cluster"`
		RepositoryURI     string    `toml:"repository_uri"`
		ClusterARN        string    `toml:"cluster_arn"`
		InstanceID        string    `toml:"instance_id"`
		TaskDefinitionARN string    `toml:"task_definition_arn"`
		ServiceARN        string    `toml:"service_arn"`
		PublicDNS         string    `toml:"public_dns"`
		CompletedSteps    []string  `toml:"completed_steps"`
		UpdatedAt         time.Time `toml:"updated_at"`
	} `toml:"deployment"`

	path string
}

// LoadOrCreateProfile reads the state file at profilePath, or returns an empty
// profile bound to that path when the file does not exist yet.
func LoadOrCreateProfile(profilePath string) (*Profile, error) {
	profile := &Profile{path: profilePath}
	data, err := os.ReadFile(profilePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return profile, nil
		}
		return nil, fmt.Errorf("❌ failed to read profile file: %w", err)
	}
	if err := toml.Unmarshal(data, profile); err != nil {
		return nil, fmt.Errorf("❌ failed to unmarshal profile file: %w", err)
	}
	return profile, nil
}

// Save writes the profile back to the file it was loaded from.
func (profile *Profile) Save() error {
	if profile.path == "" {
		return nil
	}
	profile.Deployment.UpdatedAt = time.Now().UTC().Truncate(time.Second)
	data, err := toml.Marshal(*profile)
	if err != nil {
		return fmt.Errorf("❌ failed to encode profile: %w", err)
	}
	if err := writeFileAtomic(profile.path, data); err != nil {
		return fmt.Errorf("❌ failed to write to profile file: %w", err)
	}
	return nil
}

func (profile *Profile) Path() string {
	return profile.path
}

func (profile *Profile) IsDone(step string) bool {
	return slices.Contains(profile.Deployment.CompletedSteps, step)
}

func (profile *Profile) MarkDone(step string) {
	if !profile.IsDone(step) {
		profile.Deployment.CompletedSteps = append(profile.Deployment.CompletedSteps, step)
	}
}

// HasProgress reports whether any provisioning step has been recorded for cluster.
func (profile *Profile) HasProgress(cluster string) bool {
	return profile.Deployment.Cluster == cluster && len(profile.Deployment.CompletedSteps) > 0
}

// Reset forgets all recorded progress and binds the profile to cluster.
func (profile *Profile) Reset(cluster string) {
	path := profile.path
	*profile = Profile{path: path}
	profile.Deployment.Cluster = cluster
}

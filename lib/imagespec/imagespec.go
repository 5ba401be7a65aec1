// Package imagespec loads the per-instance image specifications produced by
// the benchmark's test-spec generator.
package imagespec

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ghodss/yaml"
	"github.com/onkernel/swebench-blueprints/lib/dockerfile"
	"github.com/samber/lo"
)

// Mount paths used by the environment and instance Dockerfile fragments
const (
	SetupEnvMount  = "./setup_env.sh"
	SetupRepoMount = "./setup_repo.sh"
)

var (
	// ErrNoSplit is returned when the requested split is not present in the file
	ErrNoSplit = errors.New("split not found")

	// ErrDuplicateInstance is returned when the same instance id appears twice
	ErrDuplicateInstance = errors.New("duplicate instance id")

	// ErrMissingInstanceID is returned when a spec has no instance id
	ErrMissingInstanceID = errors.New("missing instance id")
)

// ImageSpec is the image definition for a single benchmark instance
type ImageSpec struct {
	InstanceID          string `json:"instance_id"`
	Platform            string `json:"platform"`
	BaseDockerfile      string `json:"base_dockerfile"`
	EnvImageName        string `json:"env_image_name"`
	EnvDockerfile       string `json:"env_dockerfile"`
	SetupEnvScript      string `json:"setup_env_script"`
	InstanceImageName   string `json:"instance_image_name"`
	InstanceDockerfile  string `json:"instance_dockerfile"`
	InstanceSetupScript string `json:"instance_setup_script"`
}

// Fragments returns the three Dockerfile layers in composition order
func (s ImageSpec) Fragments() dockerfile.Fragments {
	return dockerfile.Fragments{
		Base:        s.BaseDockerfile,
		Environment: s.EnvDockerfile,
		Instance:    s.InstanceDockerfile,
	}
}

// Mounts returns the setup scripts keyed by the path the fragments COPY them from
func (s ImageSpec) Mounts() dockerfile.Mounts {
	return dockerfile.Mounts{
		SetupEnvMount:  s.SetupEnvScript,
		SetupRepoMount: s.InstanceSetupScript,
	}
}

// Load reads image specs from a JSON or YAML file.
// The document is either a list of specs, or a map of split name to list.
// split selects the list in the second form and is ignored in the first.
func Load(path, split string) ([]ImageSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read image specs: %w", err)
	}
	return Parse(data, split)
}

// Parse decodes image specs from JSON or YAML bytes. See Load.
func Parse(data []byte, split string) ([]ImageSpec, error) {
	var specs []ImageSpec
	if err := yaml.Unmarshal(data, &specs); err != nil {
		var bySplit map[string][]ImageSpec
		if splitErr := yaml.Unmarshal(data, &bySplit); splitErr != nil {
			return nil, fmt.Errorf("decode image specs: %w", err)
		}
		var ok bool
		specs, ok = bySplit[split]
		if !ok {
			return nil, fmt.Errorf("%w: %q (available: %s)", ErrNoSplit, split, strings.Join(lo.Keys(bySplit), ", "))
		}
	}

	seen := make(map[string]bool, len(specs))
	for i, spec := range specs {
		if spec.InstanceID == "" {
			return nil, fmt.Errorf("%w: entry %d", ErrMissingInstanceID, i)
		}
		if seen[spec.InstanceID] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateInstance, spec.InstanceID)
		}
		seen[spec.InstanceID] = true
	}

	return specs, nil
}

// Filter keeps the specs whose instance id is in ids, preserving input order.
// An empty ids keeps everything. The second return value lists requested ids
// that matched nothing.
func Filter(specs []ImageSpec, ids []string) ([]ImageSpec, []string) {
	if len(ids) == 0 {
		return specs, nil
	}

	kept := lo.Filter(specs, func(s ImageSpec, _ int) bool {
		return lo.Contains(ids, s.InstanceID)
	})

	found := lo.Map(kept, func(s ImageSpec, _ int) string { return s.InstanceID })
	missing, _ := lo.Difference(lo.Uniq(ids), found)

	return kept, missing
}

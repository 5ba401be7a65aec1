package blueprints

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/onkernel/swebench-blueprints/lib/imagespec"
)

// specArtifact is the raw image spec as written to <id>.json
type specArtifact struct {
	Platform            string `json:"platform"`
	BaseDockerfile      string `json:"base_dockerfile"`
	EnvImageName        string `json:"env_image_name"`
	EnvDockerfile       string `json:"env_dockerfile"`
	SetupEnvScript      string `json:"setup_env_script"`
	InstanceImageName   string `json:"instance_image_name"`
	InstanceDockerfile  string `json:"instance_dockerfile"`
	InstanceSetupScript string `json:"instance_setup_script"`
}

// compositeArtifact is the composed build request as written to <id>_composite.json
type compositeArtifact struct {
	Dockerfile string `json:"dockerfile"`
}

// specPath returns the path of the raw spec artifact for an instance
func specPath(outputDir, instanceID string) (string, error) {
	return securejoin.SecureJoin(outputDir, instanceID+".json")
}

// compositePath returns the path of the composite artifact for an instance
func compositePath(outputDir, instanceID string) (string, error) {
	return securejoin.SecureJoin(outputDir, instanceID+"_composite.json")
}

// summaryPath returns the path of the run summary
func summaryPath(outputDir, runID string) (string, error) {
	return securejoin.SecureJoin(outputDir, "summary-"+runID+".json")
}

func writeSpecArtifact(outputDir string, spec imagespec.ImageSpec) error {
	path, err := specPath(outputDir, spec.InstanceID)
	if err != nil {
		return fmt.Errorf("resolve spec path: %w", err)
	}
	return writeJSON(path, specArtifact{
		Platform:            spec.Platform,
		BaseDockerfile:      spec.BaseDockerfile,
		EnvImageName:        spec.EnvImageName,
		EnvDockerfile:       spec.EnvDockerfile,
		SetupEnvScript:      spec.SetupEnvScript,
		InstanceImageName:   spec.InstanceImageName,
		InstanceDockerfile:  spec.InstanceDockerfile,
		InstanceSetupScript: spec.InstanceSetupScript,
	})
}

func writeCompositeArtifact(outputDir, instanceID, dockerfile string) error {
	path, err := compositePath(outputDir, instanceID)
	if err != nil {
		return fmt.Errorf("resolve composite path: %w", err)
	}
	return writeJSON(path, compositeArtifact{Dockerfile: dockerfile})
}

func writeSummary(outputDir string, s *Summary) error {
	path, err := summaryPath(outputDir, s.RunID)
	if err != nil {
		return fmt.Errorf("resolve summary path: %w", err)
	}
	return writeJSON(path, s)
}

// writeJSON writes v pretty-printed, atomically using temp file + rename.
// HTML escaping is off so shell redirections stay readable.
func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename %s: %w", filepath.Base(path), err)
	}

	return nil
}

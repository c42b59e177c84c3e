package sandbox

import (
	"strings"

	"gopkg.in/yaml.v3"
)

// requirementsFiles is the ordered list of pip-style manifests the
// provisioning sequence looks for at environment_setup_commit.
var requirementsFiles = []string{
	"requirements.txt",
	"requirements-dev.txt",
	"test-requirements.txt",
	"requirements_dev.txt",
}

// condaEnvFiles is the ordered list of conda environment manifests.
var condaEnvFiles = []string{"environment.yml", "environment.yaml"}

// condaEnv is the subset of an environment.yml this harness cares about:
// the pip-installable subset of its dependency list.
type condaEnv struct {
	Name         string        `yaml:"name"`
	Dependencies []interface{} `yaml:"dependencies"`
}

// pipDepsFromCondaEnv parses an environment.yml document and returns the pip
// requirements nested under a "- pip:" entry, which is how conda environment
// files express packages not available as conda packages. Non-pip entries
// (conda package specs) are intentionally ignored; the sandbox installs
// those, if at all, via the ordinary requirements*.txt files instead.
func pipDepsFromCondaEnv(content []byte) ([]string, error) {
	var env condaEnv
	if err := yaml.Unmarshal(content, &env); err != nil {
		return nil, err
	}

	var pipDeps []string
	for _, dep := range env.Dependencies {
		m, ok := dep.(map[string]interface{})
		if !ok {
			continue
		}
		rawPip, ok := m["pip"]
		if !ok {
			continue
		}
		items, ok := rawPip.([]interface{})
		if !ok {
			continue
		}
		for _, item := range items {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				pipDeps = append(pipDeps, s)
			}
		}
	}
	return pipDeps, nil
}

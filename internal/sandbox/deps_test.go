package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipDepsFromCondaEnv(t *testing.T) {
	content := []byte(`name: testenv
dependencies:
  - python=3.9
  - numpy
  - pip:
      - requests>=2.0
      - flask==2.1.0
`)
	deps, err := pipDepsFromCondaEnv(content)
	require.NoError(t, err)
	assert.Equal(t, []string{"requests>=2.0", "flask==2.1.0"}, deps)
}

func TestPipDepsFromCondaEnvNoPipSection(t *testing.T) {
	content := []byte(`name: testenv
dependencies:
  - python=3.9
  - numpy
`)
	deps, err := pipDepsFromCondaEnv(content)
	require.NoError(t, err)
	assert.Empty(t, deps)
}

func TestPipDepsFromCondaEnvMalformedYAML(t *testing.T) {
	_, err := pipDepsFromCondaEnv([]byte("dependencies: [unclosed"))
	assert.Error(t, err)
}

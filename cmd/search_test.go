package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanyalzr/nncf/tune"
)

func TestSearchSpec_FromFlagDefaults(t *testing.T) {
	// GIVEN no --config override
	// WHEN we assemble the compression spec from the flag values
	spec := searchSpec()

	// THEN it holds a single adaptive entry with the standard parameters
	require.Len(t, spec.Compression, 1)
	assert.Equal(t, "magnitude_sparsity", spec.Compression[0].Algorithm)
	require.NotNil(t, spec.Compression[0].AccuracyAware)
	assert.Equal(t, tune.DefaultSearchConfig(), *spec.Compression[0].AccuracyAware)
	assert.NoError(t, spec.Validate())
}

func TestSearchSpec_FromConfigFile(t *testing.T) {
	// GIVEN a YAML compression spec on disk
	path := filepath.Join(t.TempDir(), "nncf.yaml")
	doc := `compression:
  - algorithm: filter_pruning
    accuracy_aware_training:
      maximal_accuracy_drop: 0.4
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	configPath = path
	defer func() { configPath = "" }()

	// WHEN we assemble the compression spec
	spec := searchSpec()

	// THEN the file wins over the search flags
	require.Len(t, spec.Compression, 1)
	assert.Equal(t, "filter_pruning", spec.Compression[0].Algorithm)
	require.NotNil(t, spec.Compression[0].AccuracyAware)
	assert.Equal(t, 0.4, spec.Compression[0].AccuracyAware.MaximalAccuracyDrop)
}

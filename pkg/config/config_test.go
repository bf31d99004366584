package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, int64(DefaultRowGroupsPerCell), cfg.RowGroupsPerCell)
	assert.Equal(t, int64(DefaultBlockMemoryLimit), cfg.BlockMemoryLimit)
	assert.Equal(t, int64(DefaultSliceSize), cfg.SliceSize)
	assert.GreaterOrEqual(t, cfg.FieldMemoryBudget, int64(DefaultFieldMemoryBudget))
	assert.False(t, cfg.UseMmap)
	assert.Equal(t, "disable", cfg.WarmupPolicyVector)
	assert.Equal(t, "sync", cfg.WarmupPolicyScalar)

	require.NoError(t, cfg.Validate())
}

func TestLoadDefaultsOnly(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().RowGroupsPerCell, cfg.RowGroupsPerCell)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strata.yaml")
	content := []byte("row_groups_per_cell: 4\nuse_mmap: true\nmmap_dir: /data/mmap\n")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, int64(4), cfg.RowGroupsPerCell)
	assert.True(t, cfg.UseMmap)
	assert.Equal(t, "/data/mmap", cfg.MmapDir)
	// Untouched keys keep their defaults.
	assert.Equal(t, int64(DefaultSliceSize), cfg.SliceSize)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("STRATA_ROW_GROUPS_PER_CELL", "2")
	t.Setenv("STRATA_WARMUP_POLICY_SCALAR", "async")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, int64(2), cfg.RowGroupsPerCell)
	assert.Equal(t, "async", cfg.WarmupPolicyScalar)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*LoadConfig)
	}{
		{"zero row groups per cell", func(c *LoadConfig) { c.RowGroupsPerCell = 0 }},
		{"zero block memory limit", func(c *LoadConfig) { c.BlockMemoryLimit = 0 }},
		{"zero slice size", func(c *LoadConfig) { c.SliceSize = 0 }},
		{"zero memory budget", func(c *LoadConfig) { c.FieldMemoryBudget = 0 }},
		{"negative workers", func(c *LoadConfig) { c.HighPriorityWorkers = -1 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

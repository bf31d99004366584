// Package config provides the configuration system for Strata.
// It defines a single LoadConfig structure covering the read-side
// loading pipeline: cell granularity, memory budgets, mmap behavior,
// cache warmup and worker pool sizing.
//
// Configuration is loaded through viper so values can come from a
// config file, environment variables (STRATA_ prefix) or defaults,
// in that order of precedence.
package config

import (
	"strings"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/spf13/viper"

	"github.com/ajitpratap0/strata/pkg/errors"
)

const (
	// DefaultRowGroupsPerCell is the fixed number of row groups merged
	// into one cache cell.
	DefaultRowGroupsPerCell = 8

	// DefaultBlockMemoryLimit caps the summed byte size of one
	// memory-based row group block.
	DefaultBlockMemoryLimit = 16 << 20 // 16 MiB

	// DefaultSliceSize is the minimum per-reader buffer size and the
	// divisor used to derive the loading parallel degree.
	DefaultSliceSize = 16 << 20 // 16 MiB

	// DefaultFieldMemoryBudget bounds the total reader memory for one
	// column group load when the budget cannot be derived from the host.
	DefaultFieldMemoryBudget = 64 << 20 // 64 MiB

	// memoryBudgetFraction of available host memory used when deriving
	// the field memory budget dynamically.
	memoryBudgetFraction = 8
)

// LoadConfig contains all settings for the segment loading pipeline.
type LoadConfig struct {
	// RowGroupsPerCell is the fixed cell granularity: how many storage
	// row groups are merged into one cache-addressable cell.
	RowGroupsPerCell int64 `mapstructure:"row_groups_per_cell"`

	// BlockMemoryLimit is the byte ceiling for memory-based splitting.
	BlockMemoryLimit int64 `mapstructure:"block_memory_limit"`

	// SliceSize is the minimum per-reader buffer size in bytes.
	SliceSize int64 `mapstructure:"slice_size"`

	// FieldMemoryBudget is the total reader memory budget for one
	// column group load. 0 means derive from available host memory.
	FieldMemoryBudget int64 `mapstructure:"field_memory_budget"`

	// UseMmap materializes cells as memory-mapped files instead of
	// heap-resident chunks.
	UseMmap bool `mapstructure:"use_mmap"`

	// MmapPopulate pre-faults mapped cell files after mapping.
	MmapPopulate bool `mapstructure:"mmap_populate"`

	// MmapDir is the root directory for mapped cell files.
	MmapDir string `mapstructure:"mmap_dir"`

	// WarmupPolicyVector is the cache warmup policy for vector column
	// groups: disable, sync or async.
	WarmupPolicyVector string `mapstructure:"warmup_policy_vector"`

	// WarmupPolicyScalar is the cache warmup policy for scalar column
	// groups.
	WarmupPolicyScalar string `mapstructure:"warmup_policy_scalar"`

	// HighPriorityWorkers sizes the worker pool serving interactive
	// loads. 0 means NumCPU.
	HighPriorityWorkers int `mapstructure:"high_priority_workers"`

	// LowPriorityWorkers sizes the worker pool serving background
	// loads. 0 means NumCPU/2.
	LowPriorityWorkers int `mapstructure:"low_priority_workers"`
}

// Default returns a LoadConfig populated with defaults. The field
// memory budget is derived from available host memory when it can be
// read, falling back to a fixed budget otherwise.
func Default() *LoadConfig {
	return &LoadConfig{
		RowGroupsPerCell:   DefaultRowGroupsPerCell,
		BlockMemoryLimit:   DefaultBlockMemoryLimit,
		SliceSize:          DefaultSliceSize,
		FieldMemoryBudget:  deriveMemoryBudget(),
		UseMmap:            false,
		MmapPopulate:       false,
		MmapDir:            "/tmp/strata/mmap",
		WarmupPolicyVector: "disable",
		WarmupPolicyScalar: "sync",
	}
}

// Load reads configuration from the given file path (optional, may be
// empty) merged with STRATA_* environment variables on top of defaults.
func Load(path string) (*LoadConfig, error) {
	v := viper.New()

	def := Default()
	v.SetDefault("row_groups_per_cell", def.RowGroupsPerCell)
	v.SetDefault("block_memory_limit", def.BlockMemoryLimit)
	v.SetDefault("slice_size", def.SliceSize)
	v.SetDefault("field_memory_budget", def.FieldMemoryBudget)
	v.SetDefault("use_mmap", def.UseMmap)
	v.SetDefault("mmap_populate", def.MmapPopulate)
	v.SetDefault("mmap_dir", def.MmapDir)
	v.SetDefault("warmup_policy_vector", def.WarmupPolicyVector)
	v.SetDefault("warmup_policy_scalar", def.WarmupPolicyScalar)
	v.SetDefault("high_priority_workers", def.HighPriorityWorkers)
	v.SetDefault("low_priority_workers", def.LowPriorityWorkers)

	v.SetEnvPrefix("STRATA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to read config file")
		}
	}

	cfg := &LoadConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to unmarshal config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks configuration invariants.
func (c *LoadConfig) Validate() error {
	if c.RowGroupsPerCell < 1 {
		return errors.Newf(errors.ErrorTypeConfig, "row_groups_per_cell must be >= 1, got %d", c.RowGroupsPerCell)
	}
	if c.BlockMemoryLimit < 1 {
		return errors.Newf(errors.ErrorTypeConfig, "block_memory_limit must be >= 1, got %d", c.BlockMemoryLimit)
	}
	if c.SliceSize < 1 {
		return errors.Newf(errors.ErrorTypeConfig, "slice_size must be >= 1, got %d", c.SliceSize)
	}
	if c.FieldMemoryBudget < 1 {
		return errors.Newf(errors.ErrorTypeConfig, "field_memory_budget must be >= 1, got %d", c.FieldMemoryBudget)
	}
	if c.HighPriorityWorkers < 0 || c.LowPriorityWorkers < 0 {
		return errors.New(errors.ErrorTypeConfig, "worker counts must not be negative")
	}
	return nil
}

// deriveMemoryBudget returns a fraction of available host memory, or
// the fixed default if host memory cannot be inspected.
func deriveMemoryBudget() int64 {
	vm, err := mem.VirtualMemory()
	if err != nil || vm.Available == 0 {
		return DefaultFieldMemoryBudget
	}
	budget := int64(vm.Available / memoryBudgetFraction)
	if budget < DefaultFieldMemoryBudget {
		return DefaultFieldMemoryBudget
	}
	return budget
}

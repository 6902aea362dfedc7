// Package config loads and validates the storage core's configuration.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	buffermanager "github.com/strata-db/strata/core/storage/buffer_manager"
	diskmanager "github.com/strata-db/strata/core/storage/disk_manager"
	pagemanager "github.com/strata-db/strata/core/storage/page_manager"
	"github.com/strata-db/strata/pkg/logger"
	"github.com/strata-db/strata/pkg/telemetry"
)

// StorageConfig holds the settings of the disk and buffer managers.
type StorageConfig struct {
	Disk diskmanager.Config `yaml:"disk"`
	// PageSize must match the build-time page size; it is present in the
	// file so a mismatched deployment fails loudly at startup instead of
	// corrupting files.
	PageSize int `yaml:"page_size"`
	// PoolSize is the number of frames in the buffer pool.
	PoolSize int `yaml:"pool_size"`
	// EvictionPolicy selects the replacer, "lru" or "fifo".
	EvictionPolicy string `yaml:"eviction_policy"`

	Flusher buffermanager.FlusherConfig `yaml:"flusher"`
}

// Config is the root configuration document.
type Config struct {
	Storage   StorageConfig    `yaml:"storage"`
	Logger    logger.Config    `yaml:"logger"`
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	return Config{
		Storage: StorageConfig{
			Disk:           diskmanager.Config{BaseDir: "data"},
			PageSize:       pagemanager.PageSize,
			PoolSize:       64,
			EvictionPolicy: string(buffermanager.PolicyLRU),
			Flusher:        buffermanager.DefaultFlusherConfig(),
		},
		Logger: logger.Config{
			Level:  "info",
			Format: "console",
		},
		Telemetry: telemetry.Config{
			Enabled:        false,
			ServiceName:    "strata",
			PrometheusPort: 9464,
		},
	}
}

// Load reads a yaml file over the defaults and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the storage core cannot honor.
func (c *Config) Validate() error {
	if c.Storage.PageSize != pagemanager.PageSize {
		return fmt.Errorf("page_size %d does not match the build-time page size %d",
			c.Storage.PageSize, pagemanager.PageSize)
	}
	if c.Storage.PoolSize <= 0 {
		return fmt.Errorf("pool_size must be positive, got %d", c.Storage.PoolSize)
	}
	switch buffermanager.Policy(c.Storage.EvictionPolicy) {
	case buffermanager.PolicyLRU, buffermanager.PolicyFIFO:
	default:
		return fmt.Errorf("unknown eviction_policy %q", c.Storage.EvictionPolicy)
	}
	return nil
}

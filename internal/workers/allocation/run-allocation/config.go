package runallocation

import (
	"fmt"
	"time"

	"nomination-workers/internal/common/config"
)

// ConfigKey is the entry under workers: in the application config.
const ConfigKey = "run-allocation"

type Config struct {
	Enabled       bool          `mapstructure:"enabled"`
	MaxJobsActive int           `mapstructure:"max_jobs_active"`
	Timeout       time.Duration `mapstructure:"timeout"`

	CapacitySchema    map[string]string
	ApplicationSchema map[string]string
	ResultProjection  []string
}

func DefaultConfig() *Config {
	return &Config{
		Enabled:       true,
		MaxJobsActive: 5,
		Timeout:       60 * time.Second,
	}
}

// NewConfig reads the worker entry and the allocation section of appConfig.
func NewConfig(appConfig *config.Config) *Config {
	cfg := DefaultConfig()
	if appConfig == nil {
		return cfg
	}

	if workerCfg, exists := appConfig.Workers[ConfigKey]; exists {
		cfg.Enabled = workerCfg.Enabled
		if workerCfg.MaxJobsActive > 0 {
			cfg.MaxJobsActive = workerCfg.MaxJobsActive
		}
		if workerCfg.Timeout > 0 {
			cfg.Timeout = config.GetDuration(workerCfg.Timeout)
		}
	}

	cfg.CapacitySchema = appConfig.Allocation.CapacitySchema
	cfg.ApplicationSchema = appConfig.Allocation.ApplicationSchema
	cfg.ResultProjection = appConfig.Allocation.ResultProjection
	return cfg
}

func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxJobsActive <= 0 {
		return fmt.Errorf("max_jobs_active must be positive")
	}
	return nil
}

package advanceallocation

import (
	"fmt"
	"time"

	"nomination-workers/internal/common/config"
)

const ConfigKey = "advance-allocation"

type Config struct {
	Enabled       bool          `mapstructure:"enabled"`
	MaxJobsActive int           `mapstructure:"max_jobs_active"`
	Timeout       time.Duration `mapstructure:"timeout"`

	// SessionTTL bounds how long a paused run is kept; zero keeps it forever.
	SessionTTL time.Duration

	CapacitySchema    map[string]string
	ApplicationSchema map[string]string
	ResultProjection  []string
}

func DefaultConfig() *Config {
	return &Config{
		Enabled:       true,
		MaxJobsActive: 5,
		Timeout:       30 * time.Second,
		SessionTTL:    24 * time.Hour,
	}
}

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

	cfg.SessionTTL = appConfig.Allocation.SessionTTLDuration()
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
	if c.SessionTTL < 0 {
		return fmt.Errorf("session_ttl must not be negative")
	}
	return nil
}

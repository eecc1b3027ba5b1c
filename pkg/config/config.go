// Package config provides a reusable loader for the engine's
// configuration files and environment variables, covering the
// Engine/Storage/Logging shape this domain needs: there is no peer
// network or consensus layer here, so those sections don't exist as
// dead struct fields.
package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/essential-contributions/essential-core/pkg/utils"
)

// Config is the unified configuration for one engine process. It
// mirrors the structure of the YAML files under cmd/config.
type Config struct {
	Engine struct {
		RunLoopIntervalMS int  `mapstructure:"run_loop_interval_ms" json:"run_loop_interval_ms"`
		GasLimitTotal     uint64 `mapstructure:"gas_limit_total" json:"gas_limit_total"`
		GasLimitPerYield  uint64 `mapstructure:"gas_limit_per_yield" json:"gas_limit_per_yield"`
		CollectAllFailures bool  `mapstructure:"collect_all_failures" json:"collect_all_failures"`
		PruneFailedAfterMS int  `mapstructure:"prune_failed_after_ms" json:"prune_failed_after_ms"`
	} `mapstructure:"engine" json:"engine"`

	Storage struct {
		Backend string `mapstructure:"backend" json:"backend"`
		DBPath  string `mapstructure:"db_path" json:"db_path"`
	} `mapstructure:"storage" json:"storage"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

// RunLoopInterval returns Engine.RunLoopIntervalMS as a time.Duration.
func (c *Config) RunLoopInterval() time.Duration {
	return time.Duration(c.Engine.RunLoopIntervalMS) * time.Millisecond
}

// PruneFailedAfter returns Engine.PruneFailedAfterMS as a time.Duration.
func (c *Config) PruneFailedAfter() time.Duration {
	return time.Duration(c.Engine.PruneFailedAfterMS) * time.Millisecond
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads configuration files and merges any environment-specific
// overrides. The resulting configuration is stored in AppConfig and
// returned. If env is empty, only the default configuration is loaded.
func Load(env string) (*Config, error) {
	_ = godotenv.Load() // best-effort; a missing .env is not an error

	viper.SetConfigName("default")
	viper.AddConfigPath("cmd/config")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		return nil, utils.Wrap(err, "load config")
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.AutomaticEnv()

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the ENGINE_ENV environment
// variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("ENGINE_ENV", ""))
}

// Package config loads engine configuration from file, environment, and
// defaults via viper. Environment variables use the ECOLOG_ prefix with
// underscores as nested-path separators (ECOLOG_SYNC_ENDPOINT overrides
// sync.endpoint).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every tunable the engine and CLI consume.
type Config struct {
	DataDir       string `mapstructure:"data_dir"`
	StateFile     string `mapstructure:"state_file"`
	LogFile       string `mapstructure:"log_file"`
	LogLevel      string `mapstructure:"log_level"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups"`

	Sync SyncConfig `mapstructure:"sync"`
}

// SyncConfig tunes the reconciliation engine and transport.
type SyncConfig struct {
	Endpoint          string        `mapstructure:"endpoint"`
	Interval          time.Duration `mapstructure:"interval"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	MaxRetries        int           `mapstructure:"max_retries"`
	AttemptRetries    int           `mapstructure:"attempt_retries"`
	InitialRetryDelay time.Duration `mapstructure:"initial_retry_delay"`
	BatchSize         int           `mapstructure:"batch_size"`
	Adaptive          bool          `mapstructure:"adaptive"`
	BatchDelay        time.Duration `mapstructure:"batch_delay"`
	MetricsAddr       string        `mapstructure:"metrics_addr"`
}

// DatabasePath is the SQLite file under the data directory.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "ecolog.db")
}

func setDefaults(v *viper.Viper) {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	dataDir := filepath.Join(home, ".ecolog")

	v.SetDefault("data_dir", dataDir)
	v.SetDefault("state_file", filepath.Join(dataDir, "device-state.yaml"))
	v.SetDefault("log_file", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_max_size_mb", 10)
	v.SetDefault("log_max_backups", 3)

	v.SetDefault("sync.endpoint", "")
	v.SetDefault("sync.interval", 30*time.Second)
	v.SetDefault("sync.request_timeout", 10*time.Second)
	v.SetDefault("sync.max_retries", 3)
	v.SetDefault("sync.attempt_retries", 2)
	v.SetDefault("sync.initial_retry_delay", time.Second)
	v.SetDefault("sync.batch_size", 5)
	v.SetDefault("sync.adaptive", true)
	v.SetDefault("sync.batch_delay", 200*time.Millisecond)
	v.SetDefault("sync.metrics_addr", "")
}

// Load reads configuration from the file at path (optional), overlays
// environment variables, and fills defaults. An empty path searches
// $HOME/.ecolog/config.yaml; a missing config file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".ecolog"))
		}
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("ECOLOG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		missing := errors.As(err, &notFound)
		if path != "" {
			_, statErr := os.Stat(path)
			missing = os.IsNotExist(statErr)
		}
		if !missing {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Sync.MaxRetries < 1 {
		return fmt.Errorf("sync.max_retries must be at least 1, got %d", c.Sync.MaxRetries)
	}
	if c.Sync.BatchSize < 1 {
		return fmt.Errorf("sync.batch_size must be at least 1, got %d", c.Sync.BatchSize)
	}
	if c.Sync.Interval < time.Second {
		return fmt.Errorf("sync.interval must be at least 1s, got %s", c.Sync.Interval)
	}
	return nil
}

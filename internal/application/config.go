// Package application holds the ambient configuration and orchestrator
// wiring for the synchronization daemon.
package application

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"syncore/internal/ctxsync"
)

// Config is the daemon's top-level configuration, loaded from a YAML
// file named by --config and overridden by the SYNC_FREQUENCY /
// SYNC_INTERVAL / SYNC_TIMEOUT / MAX_CONCURRENT_SYNCS environment
// variables (see applyEnvOverrides).
type Config struct {
	DataDir      string        `mapstructure:"data_dir"`
	ListenPort   int           `mapstructure:"listen_port"`
	Bootstrap    []string      `mapstructure:"bootstrap"`
	ProjectID    string        `mapstructure:"project_id"`

	SyncFrequency      time.Duration `mapstructure:"sync_frequency"`
	SyncInterval       time.Duration `mapstructure:"sync_interval"`
	SyncTimeout        time.Duration `mapstructure:"sync_timeout"`
	MaxConcurrentSyncs int           `mapstructure:"max_concurrent_syncs"`
}

// DefaultConfig returns the built-in defaults, applied before the config
// file and environment overrides are layered on top.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	defaults := ctxsync.DefaultConfig()
	return &Config{
		DataDir:            filepath.Join(home, ".syncore"),
		ListenPort:         0,
		Bootstrap:          []string{},
		ProjectID:          "default",
		SyncFrequency:      defaults.Frequency,
		SyncInterval:       defaults.Interval,
		SyncTimeout:        defaults.Timeout,
		MaxConcurrentSyncs: defaults.MaxConcurrent,
	}
}

// Load reads configPath (if non-empty) through viper, falling back to
// ./config.yaml and $HOME/.syncore/config.yaml, then layers the
// SYNC_FREQUENCY / SYNC_INTERVAL / SYNC_TIMEOUT / MAX_CONCURRENT_SYNCS
// environment overrides on top (integer seconds / counts). A missing
// config file is not an error — defaults apply.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		home, _ := os.UserHomeDir()
		v.AddConfigPath(filepath.Join(home, ".syncore"))
		v.AddConfigPath(".")
		v.SetConfigName("config")
	}

	v.SetDefault("data_dir", cfg.DataDir)
	v.SetDefault("listen_port", cfg.ListenPort)
	v.SetDefault("bootstrap", cfg.Bootstrap)
	v.SetDefault("project_id", cfg.ProjectID)
	v.SetDefault("sync_frequency", cfg.SyncFrequency)
	v.SetDefault("sync_interval", cfg.SyncInterval)
	v.SetDefault("sync_timeout", cfg.SyncTimeout)
	v.SetDefault("max_concurrent_syncs", cfg.MaxConcurrentSyncs)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && configPath != "" {
			return nil, fmt.Errorf("read config %q: %w", configPath, err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)

	if cfg.DataDir == "" {
		return nil, fmt.Errorf("data_dir must not be empty")
	}
	return cfg, nil
}

// applyEnvOverrides interprets the four sync-tuning environment
// variables as integer seconds / counts, applied after file-based
// configuration so an operator's ad hoc override always wins.
func applyEnvOverrides(cfg *Config) {
	if v, ok := envSeconds("SYNC_FREQUENCY"); ok {
		cfg.SyncFrequency = v
	}
	if v, ok := envSeconds("SYNC_INTERVAL"); ok {
		cfg.SyncInterval = v
	}
	if v, ok := envSeconds("SYNC_TIMEOUT"); ok {
		cfg.SyncTimeout = v
	}
	if v, ok := envInt("MAX_CONCURRENT_SYNCS"); ok {
		cfg.MaxConcurrentSyncs = v
	}
}

func envSeconds(name string) (time.Duration, bool) {
	n, ok := envInt(name)
	if !ok {
		return 0, false
	}
	return time.Duration(n) * time.Second, true
}

func envInt(name string) (int, bool) {
	raw := os.Getenv(name)
	if raw == "" {
		return 0, false
	}
	var n int
	if _, err := fmt.Sscanf(raw, "%d", &n); err != nil {
		return 0, false
	}
	return n, true
}

// SyncManagerConfig projects the daemon config onto ctxsync.Config.
func (c *Config) SyncManagerConfig() ctxsync.Config {
	cfg := ctxsync.DefaultConfig()
	if c.SyncFrequency > 0 {
		cfg.Frequency = c.SyncFrequency
	}
	if c.SyncInterval > 0 {
		cfg.Interval = c.SyncInterval
	}
	if c.SyncTimeout > 0 {
		cfg.Timeout = c.SyncTimeout
	}
	if c.MaxConcurrentSyncs > 0 {
		cfg.MaxConcurrent = c.MaxConcurrentSyncs
	}
	return cfg
}

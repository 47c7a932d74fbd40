// Package config reads and writes the global ~/.tarpconnect/config.toml.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the global daemon configuration.
type Config struct {
	DefaultProfile string `toml:"default_profile"`
	Backend        string `toml:"backend"` // auto, sqlite or kv

	Remote RemoteConfig `toml:"remote"`
	Sync   SyncConfig   `toml:"sync"`
}

// RemoteConfig points at the backend REST API.
type RemoteConfig struct {
	BaseURL        string `toml:"base_url"`
	Token          string `toml:"token"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// SyncConfig tunes the sync manager and store housekeeping.
type SyncConfig struct {
	PingIntervalSeconds  int `toml:"ping_interval_seconds"`
	DrainIntervalSeconds int `toml:"drain_interval_seconds"`
	MaxRetries           int `toml:"max_retries"`
	RetentionDays        int `toml:"retention_days"`
	CacheTTLSeconds      int `toml:"cache_ttl_seconds"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		DefaultProfile: "default",
		Backend:        "auto",
		Remote: RemoteConfig{
			BaseURL:        "https://api.tarpconnect.app",
			TimeoutSeconds: 15,
		},
		Sync: SyncConfig{
			PingIntervalSeconds:  10,
			DrainIntervalSeconds: 30,
			MaxRetries:           3,
			RetentionDays:        30,
			CacheTTLSeconds:      300,
		},
	}
}

// Load reads config from path, layered over defaults. A missing file is an
// error so callers can distinguish "no config yet" from a parse failure.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes config to path with 0600 perms, creating parent dirs.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// PingInterval returns the connectivity probe interval.
func (c *Config) PingInterval() time.Duration {
	return time.Duration(c.Sync.PingIntervalSeconds) * time.Second
}

// DrainInterval returns the periodic drain interval while online.
func (c *Config) DrainInterval() time.Duration {
	return time.Duration(c.Sync.DrainIntervalSeconds) * time.Second
}

// Retention returns how long synced offline actions are kept.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.Sync.RetentionDays) * 24 * time.Hour
}

// RemoteTimeout returns the per-request timeout for the remote client.
func (c *Config) RemoteTimeout() time.Duration {
	return time.Duration(c.Remote.TimeoutSeconds) * time.Second
}

// CacheTTL returns the request-cache freshness window.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Sync.CacheTTLSeconds) * time.Second
}

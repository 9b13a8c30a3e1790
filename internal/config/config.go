package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the daemon configuration file (wappd.toml).
type Config struct {
	Listen             string `toml:"listen"`
	DataDir            string `toml:"data_dir"`
	MediaDir           string `toml:"media_dir"`
	LogFile            string `toml:"log_file"`
	ReconnectDelaySec  int    `toml:"reconnect_delay_sec"`
	HeartbeatSec       int    `toml:"heartbeat_sec"`
	MessagesPerChat    int    `toml:"messages_per_chat"`
	UpdateLogCap       int    `toml:"update_log_cap"`
	MediaRetentionDays int    `toml:"media_retention_days"`
}

// Default returns the built-in configuration.
func Default() *Config {
	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".wappd")
	return &Config{
		Listen:             ":8080",
		DataDir:            base,
		MediaDir:           filepath.Join(base, "media"),
		LogFile:            filepath.Join(base, "wappd.log"),
		ReconnectDelaySec:  3,
		HeartbeatSec:       25,
		MessagesPerChat:    3000,
		UpdateLogCap:       5000,
		MediaRetentionDays: 7,
	}
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".wappd", "wappd.toml")
}

// Load reads config from the given path, applying defaults for any field
// left unset. A missing file yields the defaults without error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
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

// ReconnectDelay returns the reconnect delay as a duration.
func (c *Config) ReconnectDelay() time.Duration {
	return time.Duration(c.ReconnectDelaySec) * time.Second
}

// HeartbeatInterval returns the keep-alive interval as a duration.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatSec) * time.Second
}

// MediaRetention returns the media GC age bound as a duration.
func (c *Config) MediaRetention() time.Duration {
	return time.Duration(c.MediaRetentionDays) * 24 * time.Hour
}

func (c *Config) validate() error {
	if c.ReconnectDelaySec <= 0 {
		return fmt.Errorf("reconnect_delay_sec must be positive, got %d", c.ReconnectDelaySec)
	}
	if c.HeartbeatSec <= 0 {
		return fmt.Errorf("heartbeat_sec must be positive, got %d", c.HeartbeatSec)
	}
	if c.MessagesPerChat <= 0 {
		return fmt.Errorf("messages_per_chat must be positive, got %d", c.MessagesPerChat)
	}
	if c.UpdateLogCap <= 0 {
		return fmt.Errorf("update_log_cap must be positive, got %d", c.UpdateLogCap)
	}
	return nil
}

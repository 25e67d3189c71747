package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	DataDir string `yaml:"data_dir"`

	FamilyID string `yaml:"family_id"`
	UserID   string `yaml:"user_id"`
	UserName string `yaml:"user_name"`
	// Role is "admin" (privileged) or "dependent" (restricted).
	Role string `yaml:"role"`

	RefreshInterval  time.Duration `yaml:"refresh_interval"`
	FlushInterval    time.Duration `yaml:"flush_interval"`
	ProtectionWindow time.Duration `yaml:"protection_window"`
	OfflineRelease   time.Duration `yaml:"offline_release"`

	HistoryRetentionDays int `yaml:"history_retention_days"`
}

func Default() Config {
	return Config{
		DataDir:              "data",
		Role:                 "admin",
		RefreshInterval:      5 * time.Minute,
		FlushInterval:        30 * time.Second,
		ProtectionWindow:     15 * time.Second,
		OfflineRelease:       10 * time.Second,
		HistoryRetentionDays: 7,
	}
}

// Load reads the yaml config at path, falling back to defaults when the
// file does not exist. Environment overrides apply last.
func Load(path string) (Config, error) {
	cfg := Default()

	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fromEnv(cfg), nil
		}
		return Config{}, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	cfg = fillDefaults(cfg)
	return fromEnv(cfg), nil
}

func fillDefaults(cfg Config) Config {
	def := Default()
	if cfg.DataDir == "" {
		cfg.DataDir = def.DataDir
	}
	if cfg.Role == "" {
		cfg.Role = def.Role
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = def.RefreshInterval
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.ProtectionWindow <= 0 {
		cfg.ProtectionWindow = def.ProtectionWindow
	}
	if cfg.OfflineRelease <= 0 {
		cfg.OfflineRelease = def.OfflineRelease
	}
	if cfg.HistoryRetentionDays <= 0 {
		cfg.HistoryRetentionDays = def.HistoryRetentionDays
	}
	return cfg
}

func (c Config) HistoryRetention() time.Duration {
	return time.Duration(c.HistoryRetentionDays) * 24 * time.Hour
}

func (c Config) Privileged() bool {
	return c.Role != "dependent"
}

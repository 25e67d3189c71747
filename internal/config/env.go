package config

import (
	"os"
	"time"
)

// fromEnv overlays environment variables on a loaded config.
// Falls back to the passed values if variables are not set.
func fromEnv(cfg Config) Config {
	if v := os.Getenv("AGENDA_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("AGENDA_FAMILY_ID"); v != "" {
		cfg.FamilyID = v
	}
	if v := os.Getenv("AGENDA_USER_ID"); v != "" {
		cfg.UserID = v
	}
	if v := os.Getenv("AGENDA_USER_NAME"); v != "" {
		cfg.UserName = v
	}
	if v := os.Getenv("AGENDA_ROLE"); v != "" {
		cfg.Role = v
	}
	if d := getEnvDuration("AGENDA_REFRESH_INTERVAL"); d > 0 {
		cfg.RefreshInterval = d
	}
	if d := getEnvDuration("AGENDA_FLUSH_INTERVAL"); d > 0 {
		cfg.FlushInterval = d
	}
	if d := getEnvDuration("AGENDA_PROTECTION_WINDOW"); d > 0 {
		cfg.ProtectionWindow = d
	}
	if d := getEnvDuration("AGENDA_OFFLINE_RELEASE"); d > 0 {
		cfg.OfflineRelease = d
	}
	return cfg
}

func getEnvDuration(key string) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return 0
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0
	}
	return d
}

// Package config loads logsync configuration from the config file,
// environment, and defaults.
//
// Sources, in precedence order:
//  1. LOGSYNC_* environment variables (LOGSYNC_API_TOKEN, LOGSYNC_USER_ID, ...)
//  2. ~/.logsync/config.yaml
//  3. built-in defaults
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds everything the CLI and daemon need to run.
type Config struct {
	// DBPath is the embedded database file.
	DBPath string `mapstructure:"db_path"`

	// APIBaseURL is the workout log service endpoint.
	APIBaseURL string `mapstructure:"api_base_url"`

	// APIToken is the bearer credential for the remote service.
	APIToken string `mapstructure:"api_token"`

	// UserID identifies the logged-in user.
	UserID string `mapstructure:"user_id"`

	// SyncInterval is the daemon's periodic pass cadence.
	SyncInterval time.Duration `mapstructure:"sync_interval"`

	// RefreshInterval is the daemon's remote cache refresh cadence.
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`

	// KeepLocal is how many synced logs survive a refresh prune.
	KeepLocal int `mapstructure:"keep_local"`

	// StatsMaxAge bounds how stale a cached stats snapshot may be.
	StatsMaxAge time.Duration `mapstructure:"stats_max_age"`

	// DashboardPort is the daemon's WebSocket dashboard port.
	DashboardPort int `mapstructure:"dashboard_port"`

	// DaemonLogFile, if set, routes daemon logs to a rotated file.
	DaemonLogFile string `mapstructure:"daemon_log_file"`
}

// Dir returns the logsync configuration directory (~/.logsync).
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".logsync"
	}
	return filepath.Join(home, ".logsync")
}

// Load reads configuration. A missing config file is not an error - the
// defaults plus environment are a complete configuration.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(Dir())

	v.SetEnvPrefix("logsync")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	dir := Dir()
	v.SetDefault("db_path", filepath.Join(dir, "logsync.db"))
	v.SetDefault("api_base_url", "https://api.studiofit.example.com")
	v.SetDefault("api_token", "")
	v.SetDefault("user_id", "")
	v.SetDefault("sync_interval", 30*time.Second)
	v.SetDefault("refresh_interval", 15*time.Minute)
	v.SetDefault("keep_local", 200)
	v.SetDefault("stats_max_age", time.Hour)
	v.SetDefault("dashboard_port", 8764)
	v.SetDefault("daemon_log_file", "")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	return &cfg, nil
}

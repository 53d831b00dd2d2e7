// Package config handles configuration management for the heatmap backend.
// Configuration is loaded from config files and CLI flags (no environment
// variables). CLI flags take precedence over config file values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the heatmap backend.
type Config struct {
	// LogLevel controls logging verbosity (debug, info, warn, error).
	LogLevel string `mapstructure:"log_level"`

	// Timezone is the deployment timezone; booking timestamps without an
	// offset are interpreted in it.
	Timezone string `mapstructure:"timezone"`

	// Database selects and configures the persistence backend.
	Database DatabaseConfig `mapstructure:"database"`

	// YClients configures the upstream scheduling API client.
	YClients YClientsConfig `mapstructure:"yclients"`

	// Groups points at the resource-group definitions.
	Groups GroupsConfig `mapstructure:"groups"`

	// Rebuild holds configuration for the rebuild subcommand.
	Rebuild RebuildConfig `mapstructure:"rebuild"`

	// Serve holds configuration for the serve subcommand.
	Serve ServeConfig `mapstructure:"serve"`
}

// DatabaseConfig selects the storage backend.
type DatabaseConfig struct {
	// Driver is "sqlite" (embedded single-file store) or "postgres".
	Driver string `mapstructure:"driver"`

	// Path is the sqlite database file location.
	Path string `mapstructure:"path"`

	// Connection is the PostgreSQL connection string.
	Connection string `mapstructure:"connection"`
}

// YClientsConfig holds upstream API credentials and limits.
type YClientsConfig struct {
	BaseURL      string `mapstructure:"base_url"`
	PartnerToken string `mapstructure:"partner_token"`
	UserToken    string `mapstructure:"user_token"`

	// TimeoutSeconds bounds a single HTTP request.
	TimeoutSeconds int `mapstructure:"timeout_seconds"`

	// Retries is the attempt budget before a call fails terminally.
	Retries int `mapstructure:"retries"`
}

// GroupsConfig points at the group definition files.
type GroupsConfig struct {
	// ConfigPath is the hand-maintained group config (staff names).
	ConfigPath string `mapstructure:"config_path"`

	// ResolvedPath is where the resolved config (staff ids) is written
	// after each run and preferred on load when present.
	ResolvedPath string `mapstructure:"resolved_path"`

	// LoadGroupName names the groups whose benchmark-hour load feeds the
	// load_percent metric of the financial reports. Empty disables the
	// occupancy feed.
	LoadGroupName string `mapstructure:"load_group_name"`
}

// RebuildConfig holds configuration for occupancy rebuilds.
type RebuildConfig struct {
	// PageSize is the upstream records page size.
	PageSize int `mapstructure:"page_size"`

	// BranchIDs restricts the rebuild to the listed branches
	// (empty = every branch in the group config).
	BranchIDs []int64 `mapstructure:"branch_ids"`

	// StartDate floors full rebuilds (YYYY-MM-DD, empty = no floor).
	StartDate string `mapstructure:"start_date"`
}

// ServeConfig holds configuration for the HTTP API.
type ServeConfig struct {
	Addr string `mapstructure:"addr"`

	// AllowedOrigins is passed to the CORS middleware.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Timezone: "Europe/Moscow",
		Database: DatabaseConfig{
			Driver: "sqlite",
			Path:   "data/heatmap.db",
		},
		YClients: YClientsConfig{
			BaseURL:        "https://api.yclients.com",
			TimeoutSeconds: 30,
			Retries:        3,
		},
		Groups: GroupsConfig{
			ConfigPath:   "config/groups.json",
			ResolvedPath: "data/groups_resolved.json",
		},
		Rebuild: RebuildConfig{
			PageSize: 50,
		},
		Serve: ServeConfig{
			Addr:           ":8080",
			AllowedOrigins: []string{"*"},
		},
	}
}

// Load reads configuration from config files.
// Config file locations (in order of precedence):
// 1. Path specified by configFile parameter
// 2. ./heatmap.yaml
// 3. ~/.config/heatmap/config.yaml
func Load(configFile string) (*Config, error) {
	v := viper.New()

	v.SetConfigName("heatmap")
	v.SetConfigType("yaml")

	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", "heatmap"))
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	}

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	return cfg, nil
}

// Location resolves the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Validate checks configuration shared by all subcommands.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database path is required for the sqlite driver")
		}
	case "postgres":
		if c.Database.Connection == "" {
			return fmt.Errorf("connection string is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database driver must be 'sqlite' or 'postgres'")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// ValidateRebuild checks configuration required for the rebuild command.
func (c *Config) ValidateRebuild() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.YClients.PartnerToken == "" {
		return fmt.Errorf("yclients partner token is required for rebuild")
	}
	if c.Rebuild.PageSize < 1 {
		return fmt.Errorf("rebuild page_size must be at least 1")
	}
	if c.Rebuild.StartDate != "" {
		if _, err := time.Parse("2006-01-02", c.Rebuild.StartDate); err != nil {
			return fmt.Errorf("rebuild start_date must be YYYY-MM-DD: %w", err)
		}
	}
	return nil
}

// ValidateServe checks configuration required for the serve command.
func (c *Config) ValidateServe() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Serve.Addr == "" {
		return fmt.Errorf("serve addr is required")
	}
	return nil
}

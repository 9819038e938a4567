// Package config loads server configuration from the environment and the
// tracked-sources file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the devpulse server configuration.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
	Sources   SourcesConfig   `mapstructure:"sources"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Sync      SyncConfig      `mapstructure:"sync"`
}

// SyncConfig controls the background sync scheduler.
type SyncConfig struct {
	// Interval between scheduled passes. Zero disables the scheduler; manual
	// and webhook-driven syncs still work.
	Interval time.Duration `mapstructure:"interval"`
}

// LoggingConfig contains logger preferences.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "json" or "text"
}

// ServerConfig contains HTTP server options.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns host:port for HTTP server binding.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig describes the backing database connection.
type DatabaseConfig struct {
	Type string `mapstructure:"type"` // "postgres", "mysql" or "sqlite"
	DSN  string `mapstructure:"dsn"`
}

// ProvidersConfig holds the per-provider API credentials. A provider with an
// empty token is simply not configured; sync requests for it are rejected.
type ProvidersConfig struct {
	GitHub GitHubConfig `mapstructure:"github"`
	GitLab GitLabConfig `mapstructure:"gitlab"`
}

// GitHubConfig holds GitHub API access settings.
type GitHubConfig struct {
	Token string `mapstructure:"token"`
}

// GitLabConfig holds GitLab API access settings. BaseURL covers self-hosted
// instances.
type GitLabConfig struct {
	Token   string `mapstructure:"token"`
	BaseURL string `mapstructure:"base_url"`
}

// WebhookConfig holds settings for the push-style ingestion endpoint.
type WebhookConfig struct {
	APIKey string `mapstructure:"api_key"`
}

// SourcesConfig points at the tracked-sources YAML file.
type SourcesConfig struct {
	Path string `mapstructure:"path"`
}

// CacheConfig sizes the metrics response cache.
type CacheConfig struct {
	MaxEntries int           `mapstructure:"max_entries"`
	TTL        time.Duration `mapstructure:"ttl"`
}

// Load reads configuration from DEVPULSE_* environment variables with typed
// defaults and validation.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("devpulse")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	bindEnvs(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate ensures required fields are present and well-formed.
func (c Config) Validate() error {
	if c.Server.Port == 0 {
		return errors.New("server.port is required")
	}
	switch c.Database.Type {
	case "postgres", "mysql", "sqlite":
	default:
		return fmt.Errorf("unsupported database.type %q", c.Database.Type)
	}
	if c.Database.DSN == "" {
		return errors.New("database.dsn is required")
	}
	if c.Providers.GitHub.Token == "" && c.Providers.GitLab.Token == "" {
		return errors.New("at least one provider token is required")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.dsn", "devpulse.db")

	v.SetDefault("providers.gitlab.base_url", "https://gitlab.com")

	v.SetDefault("sources.path", "")

	v.SetDefault("cache.max_entries", 512)
	v.SetDefault("cache.ttl", 5*time.Minute)

	v.SetDefault("sync.interval", time.Hour)
}

func bindEnvs(v *viper.Viper) {
	keys := []string{
		"logging.level",
		"logging.format",
		"server.host",
		"server.port",
		"server.shutdown_timeout",
		"database.type",
		"database.dsn",
		"providers.github.token",
		"providers.gitlab.token",
		"providers.gitlab.base_url",
		"webhook.api_key",
		"sources.path",
		"cache.max_entries",
		"cache.ttl",
		"sync.interval",
	}
	for _, k := range keys {
		_ = v.BindEnv(k)
	}
}

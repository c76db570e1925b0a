// Package config loads service configuration from file and environment via
// Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full service configuration.
type Config struct {
	Application ApplicationConfig `mapstructure:"application"`
	Server      ServerConfig      `mapstructure:"server"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Source      SourceConfig      `mapstructure:"source"`
	Harvest     HarvestConfig     `mapstructure:"harvest"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Progress    ProgressConfig    `mapstructure:"progress"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ApplicationConfig identifies the service.
type ApplicationConfig struct {
	ServiceName string `mapstructure:"service_name"`
	Version     string `mapstructure:"version"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Port           int `mapstructure:"port"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// AuthConfig controls API key protection of the control surface.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// SourceConfig describes the catalog API to harvest.
type SourceConfig struct {
	// Name labels the source in job ids, progress files, and notifications.
	Name           string            `mapstructure:"name"`
	BaseURL        string            `mapstructure:"base_url"`
	AuthPath       string            `mapstructure:"auth_path"`
	CategoriesPath string            `mapstructure:"categories_path"`
	SearchPath     string            `mapstructure:"search_path"`
	ClientID       string            `mapstructure:"client_id"`
	UserAgent      string            `mapstructure:"user_agent"`
	IDField        string            `mapstructure:"id_field"`
	// Denylist maps category id to the reason it is skipped.
	Denylist map[string]string `mapstructure:"denylist"`
}

// HarvestConfig tunes the harvesting engine.
type HarvestConfig struct {
	Concurrency       int  `mapstructure:"concurrency"`
	PageSize          int  `mapstructure:"page_size"`
	PageSizeFloor     int  `mapstructure:"page_size_floor"`
	PageSizeCeiling   int  `mapstructure:"page_size_ceiling"`
	PageSizeStep      int  `mapstructure:"page_size_step"`
	AdaptivePageSize  bool `mapstructure:"adaptive_page_size"`
	RequestIntervalMS int  `mapstructure:"request_interval_ms"`
	MaxEmptyPages     int  `mapstructure:"max_empty_pages"`
	CheckpointEvery   int  `mapstructure:"checkpoint_every"`
	MaxConcurrentJobs int  `mapstructure:"max_concurrent_jobs"`
	GraceSeconds      int  `mapstructure:"grace_seconds"`
}

// HTTPConfig tunes outbound request behavior.
type HTTPConfig struct {
	TimeoutSeconds        int `mapstructure:"timeout_seconds"`
	ConnectTimeoutSeconds int `mapstructure:"connect_timeout_seconds"`
	MaxRetries            int `mapstructure:"max_retries"`
	BackoffInitialMS      int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMS          int `mapstructure:"backoff_max_ms"`
	CooldownSeconds       int `mapstructure:"cooldown_seconds"`
	MaxThrottleWaits      int `mapstructure:"max_throttle_waits"`
	WebhookTimeoutSeconds int `mapstructure:"webhook_timeout_seconds"`
}

// StorageConfig selects and tunes the product store backend.
type StorageConfig struct {
	// Backend is one of file, memory, postgres.
	Backend  string         `mapstructure:"backend"`
	DataDir  string         `mapstructure:"data_dir"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// PostgresConfig controls the optional Postgres product store.
type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// ProgressConfig tunes the progress tracker.
type ProgressConfig struct {
	FlushIntervalMS int `mapstructure:"flush_interval_ms"`
}

// LoggingConfig controls logger construction.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load reads configuration from the optional file at path, falling back to
// a config.yaml next to the binary, then environment variables with the
// HARVESTER prefix, then defaults.
func Load(path string) (Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/catalog-harvester/")
	}
	setDefaults(v)
	v.SetEnvPrefix("HARVESTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("application.service_name", "catalog-harvester")
	v.SetDefault("application.version", "dev")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.timeout_seconds", 60)

	v.SetDefault("auth.enabled", false)

	v.SetDefault("source.name", "catalog")
	v.SetDefault("source.auth_path", "/token/anonymous")
	v.SetDefault("source.categories_path", "/categories")
	v.SetDefault("source.search_path", "/products/search")
	v.SetDefault("source.id_field", "id")
	v.SetDefault("source.user_agent", "catalog-harvester/1.0")

	v.SetDefault("harvest.concurrency", 4)
	v.SetDefault("harvest.page_size", 50)
	v.SetDefault("harvest.page_size_floor", 30)
	v.SetDefault("harvest.page_size_ceiling", 100)
	v.SetDefault("harvest.page_size_step", 20)
	v.SetDefault("harvest.adaptive_page_size", false)
	v.SetDefault("harvest.request_interval_ms", 200)
	v.SetDefault("harvest.max_empty_pages", 3)
	v.SetDefault("harvest.checkpoint_every", 200)
	v.SetDefault("harvest.max_concurrent_jobs", 3)
	v.SetDefault("harvest.grace_seconds", 5)

	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.connect_timeout_seconds", 10)
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.backoff_initial_ms", 250)
	v.SetDefault("http.backoff_max_ms", 5000)
	v.SetDefault("http.cooldown_seconds", 2)
	v.SetDefault("http.max_throttle_waits", 10)
	v.SetDefault("http.webhook_timeout_seconds", 10)

	v.SetDefault("storage.backend", "file")
	v.SetDefault("storage.data_dir", "data")
	v.SetDefault("storage.postgres.table", "products")

	v.SetDefault("progress.flush_interval_ms", 2000)

	v.SetDefault("logging.development", true)
}

// Validate rejects configurations the service cannot start with.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", c.Server.Port)
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key is required when auth is enabled")
	}
	if c.Harvest.Concurrency <= 0 {
		return fmt.Errorf("harvest.concurrency must be positive")
	}
	if c.Harvest.PageSize <= 0 {
		return fmt.Errorf("harvest.page_size must be positive")
	}
	if c.Harvest.MaxConcurrentJobs <= 0 {
		return fmt.Errorf("harvest.max_concurrent_jobs must be positive")
	}
	switch c.Storage.Backend {
	case "file", "memory":
	case "postgres":
		if c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("storage.backend %q must be file, memory, or postgres", c.Storage.Backend)
	}
	if c.Storage.Backend == "file" && c.Storage.DataDir == "" {
		return fmt.Errorf("storage.data_dir is required for the file backend")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be positive")
	}
	return nil
}

// RequestInterval returns the pacing interval as a duration.
func (c HarvestConfig) RequestInterval() time.Duration {
	return time.Duration(c.RequestIntervalMS) * time.Millisecond
}

// GracePeriod returns the cancellation grace period as a duration.
func (c HarvestConfig) GracePeriod() time.Duration {
	return time.Duration(c.GraceSeconds) * time.Second
}

// Timeout returns the total request timeout as a duration.
func (c HTTPConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ConnectTimeout returns the dial timeout as a duration.
func (c HTTPConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutSeconds) * time.Second
}

// BackoffInitial returns the initial retry backoff as a duration.
func (c HTTPConfig) BackoffInitial() time.Duration {
	return time.Duration(c.BackoffInitialMS) * time.Millisecond
}

// BackoffMax returns the retry backoff ceiling as a duration.
func (c HTTPConfig) BackoffMax() time.Duration {
	return time.Duration(c.BackoffMaxMS) * time.Millisecond
}

// Cooldown returns the post-throttle cooldown as a duration.
func (c HTTPConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownSeconds) * time.Second
}

// WebhookTimeout returns the webhook delivery timeout as a duration.
func (c HTTPConfig) WebhookTimeout() time.Duration {
	return time.Duration(c.WebhookTimeoutSeconds) * time.Second
}

// FlushInterval returns the progress flush cadence as a duration.
func (c ProgressConfig) FlushInterval() time.Duration {
	return time.Duration(c.FlushIntervalMS) * time.Millisecond
}

// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	DB      DBConfig      `mapstructure:"db"`
	Blob    BlobConfig    `mapstructure:"blob"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Crawl   CrawlConfig   `mapstructure:"crawl"`
	Render  RenderConfig  `mapstructure:"render"`
	Stats   StatsConfig   `mapstructure:"stats"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int `mapstructure:"port"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// DBConfig controls job and result persistence. Driver is "memory" or
// "postgres".
type DBConfig struct {
	Driver             string `mapstructure:"driver"`
	DSN                string `mapstructure:"dsn"`
	MaxConns           int32  `mapstructure:"max_conns"`
	MinConns           int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMin int    `mapstructure:"max_conn_lifetime_minutes"`
}

// BlobConfig selects the render output destination. Driver is "local",
// "gcs" or "memory".
type BlobConfig struct {
	Driver  string `mapstructure:"driver"`
	BaseDir string `mapstructure:"base_dir"`
	Bucket  string `mapstructure:"bucket"`
}

// PubSubConfig holds metadata for completion event publishing.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicID   string `mapstructure:"topic_id"`
}

// CrawlConfig tunes the audit fetcher.
type CrawlConfig struct {
	UserAgent             string `mapstructure:"user_agent"`
	RequestTimeoutSeconds int    `mapstructure:"request_timeout_seconds"`
	MaxConnsPerHost       int    `mapstructure:"max_conns_per_host"`
}

// RenderConfig tunes the headless renderer.
type RenderConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	UserAgent string `mapstructure:"user_agent"`
}

// StatsConfig bounds result paging.
type StatsConfig struct {
	MaxPageSize int `mapstructure:"max_page_size"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SITEOPS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
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
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.timeout_seconds", 60)
	v.SetDefault("db.driver", "memory")
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.max_conn_lifetime_minutes", 30)
	v.SetDefault("blob.driver", "memory")
	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("crawl.user_agent", "pagegrove-siteops/1.0")
	v.SetDefault("crawl.request_timeout_seconds", 15)
	v.SetDefault("crawl.max_conns_per_host", 32)
	v.SetDefault("render.enabled", false)
	v.SetDefault("render.user_agent", "pagegrove-siteops/1.0")
	v.SetDefault("stats.max_page_size", 500)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.TimeoutSeconds <= 0 {
		return fmt.Errorf("server.timeout_seconds must be > 0")
	}
	switch c.DB.Driver {
	case "memory":
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown db.driver %q", c.DB.Driver)
	}
	switch c.Blob.Driver {
	case "memory":
	case "local":
		if c.Blob.BaseDir == "" {
			return fmt.Errorf("blob.base_dir is required for the local driver")
		}
	case "gcs":
		if c.Blob.Bucket == "" {
			return fmt.Errorf("blob.bucket is required for the gcs driver")
		}
	default:
		return fmt.Errorf("unknown blob.driver %q", c.Blob.Driver)
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.TopicID == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_id are required when pubsub is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key is required when auth is enabled")
	}
	if c.Crawl.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("crawl.request_timeout_seconds must be > 0")
	}
	if c.Stats.MaxPageSize <= 0 {
		return fmt.Errorf("stats.max_page_size must be > 0")
	}
	return nil
}

// ServerTimeout returns the request timeout as a duration.
func (c Config) ServerTimeout() time.Duration {
	return time.Duration(c.Server.TimeoutSeconds) * time.Second
}

// CrawlRequestTimeout returns the fetcher timeout as a duration.
func (c Config) CrawlRequestTimeout() time.Duration {
	return time.Duration(c.Crawl.RequestTimeoutSeconds) * time.Second
}

// DBMaxConnLifetime returns the pool connection lifetime as a duration.
func (c Config) DBMaxConnLifetime() time.Duration {
	return time.Duration(c.DB.MaxConnLifetimeMin) * time.Minute
}

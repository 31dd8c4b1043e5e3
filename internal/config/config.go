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
	Crawl   CrawlConfig   `mapstructure:"crawl"`
	Browser BrowserConfig `mapstructure:"browser"`
	Storage StorageConfig `mapstructure:"storage"`
	DB      DBConfig      `mapstructure:"db"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CrawlConfig governs crawl pipeline defaults and limits.
type CrawlConfig struct {
	MaxPagesDefault       int `mapstructure:"max_pages_default"`
	RequestDelayMs        int `mapstructure:"request_delay_ms"`
	PostLoadDelayMs       int `mapstructure:"post_load_delay_ms"`
	NavTimeoutSeconds     int `mapstructure:"nav_timeout_seconds"`
	PageTimeoutSeconds    int `mapstructure:"page_timeout_seconds"`
	NetworkIdleSeconds    int `mapstructure:"network_idle_seconds"`
	MaxNavigationAttempts int `mapstructure:"max_navigation_attempts"`
	MaxTileHeight         int `mapstructure:"max_tile_height"`
	TileOverlap           int `mapstructure:"tile_overlap"`
	QueueDepth            int `mapstructure:"queue_depth"`
}

// BrowserConfig configures the headless Chrome allocator.
type BrowserConfig struct {
	UserAgent      string `mapstructure:"user_agent"`
	ViewportWidth  int    `mapstructure:"viewport_width"`
	ViewportHeight int    `mapstructure:"viewport_height"`
}

// StorageConfig selects and parametrizes the blob backend.
type StorageConfig struct {
	Backend       string `mapstructure:"backend"`
	GCSBucket     string `mapstructure:"gcs_bucket"`
	LocalBaseDir  string `mapstructure:"local_base_dir"`
	OutputBaseURL string `mapstructure:"output_base_url"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// PubSubConfig holds metadata for the distributed job queue.
type PubSubConfig struct {
	ProjectID      string `mapstructure:"project_id"`
	TopicName      string `mapstructure:"topic_name"`
	SubscriptionID string `mapstructure:"subscription_id"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SITELENS")
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
	v.SetDefault("crawl.max_pages_default", 50)
	v.SetDefault("crawl.request_delay_ms", 1000)
	v.SetDefault("crawl.post_load_delay_ms", 0)
	v.SetDefault("crawl.nav_timeout_seconds", 30)
	v.SetDefault("crawl.page_timeout_seconds", 45)
	v.SetDefault("crawl.network_idle_seconds", 10)
	v.SetDefault("crawl.max_navigation_attempts", 3)
	v.SetDefault("crawl.max_tile_height", 4096)
	v.SetDefault("crawl.tile_overlap", 0)
	v.SetDefault("crawl.queue_depth", 64)
	v.SetDefault("browser.user_agent", "sitelens-bot/0.1")
	v.SetDefault("browser.viewport_width", 1440)
	v.SetDefault("browser.viewport_height", 900)
	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.local_base_dir", "./data")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawl.PageTimeoutSeconds <= 0 {
		return fmt.Errorf("crawl.page_timeout_seconds must be > 0")
	}
	if c.Crawl.MaxTileHeight <= 0 {
		return fmt.Errorf("crawl.max_tile_height must be > 0")
	}
	if c.Crawl.TileOverlap < 0 || c.Crawl.TileOverlap >= c.Crawl.MaxTileHeight {
		return fmt.Errorf("crawl.tile_overlap must be in [0, max_tile_height)")
	}
	switch c.Storage.Backend {
	case "local", "memory":
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend must be one of local, memory, gcs")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// RequestDelay converts the configured delay into a duration.
func (c Config) RequestDelay() time.Duration {
	return time.Duration(c.Crawl.RequestDelayMs) * time.Millisecond
}

// PostLoadDelay converts the configured settle delay into a duration.
func (c Config) PostLoadDelay() time.Duration {
	return time.Duration(c.Crawl.PostLoadDelayMs) * time.Millisecond
}

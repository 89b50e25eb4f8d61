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
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Fetcher    FetcherConfig    `mapstructure:"fetcher"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher"`
	DB         DBConfig         `mapstructure:"db"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	Events     EventsConfig     `mapstructure:"events"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int `mapstructure:"port"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// FetcherConfig configures the page fetcher.
type FetcherConfig struct {
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxPageBytes   int64  `mapstructure:"max_page_bytes"`
	MaxRedirects   int    `mapstructure:"max_redirects"`
	UserAgent      string `mapstructure:"user_agent"`
}

// DispatcherConfig governs the crawl queue and worker behavior.
type DispatcherConfig struct {
	QueueDepth  int `mapstructure:"queue_depth"`
	RateLimitMs int `mapstructure:"rate_limit_ms"`
	MaxLinks    int `mapstructure:"max_links"`
}

// DBConfig controls access to the relational database. An empty DSN
// selects the in-memory store (dev mode).
type DBConfig struct {
	DSN             string `mapstructure:"dsn"`
	MaxConns        int32  `mapstructure:"max_conns"`
	MinConns        int32  `mapstructure:"min_conns"`
	ConnLifetimeMin int    `mapstructure:"conn_lifetime_minutes"`
}

// ArchiveConfig selects where raw HTML bodies are kept.
// Provider is one of: none, memory, local, gcs.
type ArchiveConfig struct {
	Provider  string `mapstructure:"provider"`
	Prefix    string `mapstructure:"prefix"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// EventsConfig holds metadata for crawl-completed notifications.
// Provider is one of: none, memory, pubsub.
type EventsConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("WEBINSIGHT")
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
	v.SetDefault("logging.development", true)
	v.SetDefault("fetcher.timeout_seconds", 30)
	v.SetDefault("fetcher.max_page_bytes", 5*1024*1024)
	v.SetDefault("fetcher.max_redirects", 5)
	v.SetDefault("fetcher.user_agent", "webinsight-bot/1.0 (+https://github.com/pagelens/webinsight)")
	v.SetDefault("dispatcher.queue_depth", 100)
	v.SetDefault("dispatcher.rate_limit_ms", 1000)
	v.SetDefault("dispatcher.max_links", 200)
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.conn_lifetime_minutes", 30)
	v.SetDefault("archive.provider", "none")
	v.SetDefault("archive.prefix", "raw")
	v.SetDefault("events.provider", "none")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.TimeoutSeconds <= 0 {
		return fmt.Errorf("server.timeout_seconds must be > 0")
	}
	if c.Fetcher.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetcher.timeout_seconds must be > 0")
	}
	if c.Fetcher.MaxPageBytes <= 0 {
		return fmt.Errorf("fetcher.max_page_bytes must be > 0")
	}
	if c.Fetcher.MaxRedirects < 0 {
		return fmt.Errorf("fetcher.max_redirects must be >= 0")
	}
	if c.Dispatcher.QueueDepth <= 0 {
		return fmt.Errorf("dispatcher.queue_depth must be > 0")
	}
	if c.Dispatcher.RateLimitMs < 0 {
		return fmt.Errorf("dispatcher.rate_limit_ms must be >= 0")
	}
	if c.Dispatcher.MaxLinks <= 0 {
		return fmt.Errorf("dispatcher.max_links must be > 0")
	}

	switch c.Archive.Provider {
	case "none", "memory":
	case "local":
		if c.Archive.BaseDir == "" {
			return fmt.Errorf("archive.base_dir is required for the local provider")
		}
	case "gcs":
		if c.Archive.GCSBucket == "" {
			return fmt.Errorf("archive.gcs_bucket is required for the gcs provider")
		}
	default:
		return fmt.Errorf("archive.provider must be one of none, memory, local, gcs")
	}

	switch c.Events.Provider {
	case "none", "memory":
	case "pubsub":
		if c.Events.ProjectID == "" {
			return fmt.Errorf("events.project_id is required for the pubsub provider")
		}
		if c.Events.Topic == "" {
			return fmt.Errorf("events.topic is required for the pubsub provider")
		}
	default:
		return fmt.Errorf("events.provider must be one of none, memory, pubsub")
	}

	return nil
}

// FetchTimeout returns the fetcher timeout as a duration.
func (c FetcherConfig) FetchTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// RateLimit returns the politeness delay as a duration.
func (c DispatcherConfig) RateLimit() time.Duration {
	return time.Duration(c.RateLimitMs) * time.Millisecond
}

// ServerTimeout returns the per-request timeout as a duration.
func (c ServerConfig) ServerTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ConnLifetime returns the pool connection lifetime as a duration.
func (c DBConfig) ConnLifetime() time.Duration {
	return time.Duration(c.ConnLifetimeMin) * time.Minute
}

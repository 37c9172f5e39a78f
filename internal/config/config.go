// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
// It is constructed once at startup and passed to every component that
// needs it; there is no global settings object.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	DB      DBConfig      `mapstructure:"db"`
	Probe   ProbeConfig   `mapstructure:"probe"`
	Jobs    JobsConfig    `mapstructure:"jobs"`
	Storage StorageConfig `mapstructure:"storage"`
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

// DBConfig controls access to the record store.
type DBConfig struct {
	// Provider selects the store backend: "postgres" or "memory".
	Provider     string `mapstructure:"provider"`
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// ProbeConfig governs website probe behavior.
type ProbeConfig struct {
	TimeoutSeconds int      `mapstructure:"timeout_seconds"`
	UserAgent      string   `mapstructure:"user_agent"`
	TLDs           []string `mapstructure:"tlds"`
	PacingMs       int      `mapstructure:"pacing_ms"`
}

// JobsConfig governs lifecycle defaults and executor batching.
type JobsConfig struct {
	MaxRetries      int `mapstructure:"max_retries"`
	CheckBatchLimit int `mapstructure:"check_batch_limit"`
	// WatchdogMinutes bounds a job's wall clock when > 0; the dispatcher
	// applies it as a coarse context timeout.
	WatchdogMinutes int `mapstructure:"watchdog_minutes"`
}

// StorageConfig sets the blob archive for probe response snapshots.
type StorageConfig struct {
	// Provider selects the archive backend: "gcs", "memory", or "none".
	Provider  string `mapstructure:"provider"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for job lifecycle event publishing.
type PubSubConfig struct {
	// Provider selects the publisher backend: "pubsub", "memory", or "none".
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
	// Level is the minimum log level ("debug", "info", "warn", "error").
	Level string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ZZPSCAN")
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
	v.SetDefault("db.provider", "memory")
	v.SetDefault("db.max_open_conns", 8)
	v.SetDefault("probe.timeout_seconds", 10)
	v.SetDefault("probe.user_agent", "Mozilla/5.0 (compatible; ZZP-Scanner/1.0)")
	v.SetDefault("probe.tlds", []string{"nl", "com", "be", "de", "lu"})
	v.SetDefault("probe.pacing_ms", 500)
	v.SetDefault("jobs.max_retries", 3)
	v.SetDefault("jobs.check_batch_limit", 100)
	v.SetDefault("jobs.watchdog_minutes", 0)
	v.SetDefault("storage.provider", "none")
	v.SetDefault("storage.prefix", "snapshots")
	v.SetDefault("pubsub.provider", "none")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	switch c.DB.Provider {
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set when db.provider is postgres")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown db.provider: %s", c.DB.Provider)
	}
	if c.Probe.TimeoutSeconds <= 0 {
		return fmt.Errorf("probe.timeout_seconds must be > 0")
	}
	if len(c.Probe.TLDs) == 0 {
		return fmt.Errorf("probe.tlds must not be empty")
	}
	if c.Jobs.MaxRetries < 0 {
		return fmt.Errorf("jobs.max_retries must be >= 0")
	}
	if c.Jobs.CheckBatchLimit <= 0 {
		return fmt.Errorf("jobs.check_batch_limit must be > 0")
	}
	if c.Storage.Provider == "gcs" && c.Storage.GCSBucket == "" {
		return fmt.Errorf("storage.gcs_bucket must be set when storage.provider is gcs")
	}
	if c.PubSub.Provider == "pubsub" && (c.PubSub.ProjectID == "" || c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set when pubsub.provider is pubsub")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// ProbeTimeout converts the probe timeout config into a duration.
func (c Config) ProbeTimeout() time.Duration {
	return time.Duration(c.Probe.TimeoutSeconds) * time.Second
}

// Pacing converts the pacing config into a duration.
func (c Config) Pacing() time.Duration {
	return time.Duration(c.Probe.PacingMs) * time.Millisecond
}

// Watchdog converts the watchdog config into a duration; zero means none.
func (c Config) Watchdog() time.Duration {
	return time.Duration(c.Jobs.WatchdogMinutes) * time.Minute
}

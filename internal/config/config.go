// Package config provides configuration management for the monitor.
//
// This package handles loading configuration from multiple sources:
//   - YAML configuration files
//   - Environment variables (with HLM_ prefix)
//   - .env files
//   - Default values
//
// # Configuration Sources Priority
//
// Configuration is loaded in the following order (later sources override earlier ones):
//  1. Default values (hardcoded)
//  2. Configuration files (./config.yaml, ~/.monitord/config.yaml, /etc/monitord/config.yaml)
//  3. .env files
//  4. Environment variables (HLM_ prefix)
//
// # Usage Example
//
//	cfg, err := config.Load("config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Server: %s:%d\n", cfg.Server.Host, cfg.Server.Port)
//
// # Environment Variables
//
// Environment variables override all other configuration sources.
// Use HLM_ prefix and underscores for nested keys:
//   - HLM_SERVER_PORT=8090
//   - HLM_DATABASE_DRIVER=postgres
//   - HLM_RETENTION_DAYS=14
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/louissader/homelab-infrastructure-monitor/models"
)

// Config is the root configuration structure for the monitor.
type Config struct {
	// Server contains HTTP server configuration
	Server ServerConfig `mapstructure:"server"`

	// Database selects and configures the snapshot/rule/alert store backend
	Database DatabaseConfig `mapstructure:"database"`

	// Retention controls background deletion of old snapshots
	Retention RetentionConfig `mapstructure:"retention"`

	// Liveness controls the idle-entity offline sweep
	Liveness LivenessConfig `mapstructure:"liveness"`

	// Stream contains push-stream (websocket/event bus) tuning
	Stream StreamConfig `mapstructure:"stream"`

	// Query contains pagination limits for the read APIs
	Query QueryConfig `mapstructure:"query"`

	// Rules controls alert rule seeding at first boot
	Rules RulesConfig `mapstructure:"rules"`

	// Poller contains Kubernetes cluster polling configuration
	Poller PollerConfig `mapstructure:"poller"`

	// Notify configures alert notification sinks
	Notify NotifyConfig `mapstructure:"notify"`

	// Logging contains logging settings
	Logging LoggingConfig `mapstructure:"logging"`

	// Security contains auth, CORS and rate limiting settings
	Security SecurityConfig `mapstructure:"security"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	// Host is the server bind address (default: 0.0.0.0)
	Host string `mapstructure:"host"`

	// Port is the server listen port (default: 8090)
	Port int `mapstructure:"port"`

	// ReadTimeout is the maximum duration for reading requests
	ReadTimeout time.Duration `mapstructure:"read_timeout"`

	// WriteTimeout is the maximum duration for writing responses
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	// ShutdownTimeout is the maximum duration for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// Debug enables debug logging and echo debug mode
	Debug bool `mapstructure:"debug"`

	// TLSEnabled enables HTTPS
	TLSEnabled bool `mapstructure:"tls_enabled"`

	// TLSCert is the path to the TLS certificate file
	TLSCert string `mapstructure:"tls_cert"`

	// TLSKey is the path to the TLS private key file
	TLSKey string `mapstructure:"tls_key"`
}

// DatabaseConfig selects the store backend.
type DatabaseConfig struct {
	// Driver is "memory" or "postgres"
	Driver string `mapstructure:"driver"`

	// DSN is the PostgreSQL connection string (postgres driver only)
	DSN string `mapstructure:"dsn"`

	// MaxOpenConns caps the connection pool (postgres driver only)
	MaxOpenConns int `mapstructure:"max_open_conns"`

	// MaxIdleConns caps idle pooled connections (postgres driver only)
	MaxIdleConns int `mapstructure:"max_idle_conns"`

	// LogQueries enables GORM statement logging
	LogQueries bool `mapstructure:"log_queries"`
}

// RetentionConfig controls the background snapshot sweeper.
type RetentionConfig struct {
	// Enabled toggles the sweeper
	Enabled bool `mapstructure:"enabled"`

	// Days is the retention horizon; snapshots older than this are deleted
	Days int `mapstructure:"days"`

	// Schedule is a cron expression (robfig/cron, "@hourly" style accepted)
	Schedule string `mapstructure:"schedule"`
}

// LivenessConfig controls the idle-entity sweep.
type LivenessConfig struct {
	// Interval between sweeps
	Interval time.Duration `mapstructure:"interval"`

	// OfflineAfter marks an entity offline when no ingest arrived within it
	OfflineAfter time.Duration `mapstructure:"offline_after"`
}

// StreamConfig tunes the event fan-out.
type StreamConfig struct {
	// BufferSize is the per-subscriber event buffer; on overflow the oldest
	// buffered event is dropped
	BufferSize int `mapstructure:"buffer_size"`
}

// QueryConfig bounds the paginated read APIs.
type QueryConfig struct {
	// DefaultPageSize applies when the request omits size
	DefaultPageSize int `mapstructure:"default_page_size"`

	// MaxPageSize is the clamp ceiling for size
	MaxPageSize int `mapstructure:"max_page_size"`
}

// RulesConfig controls alert rule seeding.
type RulesConfig struct {
	// SeedDefaults installs the built-in threshold rules when the rule
	// store is empty at boot
	SeedDefaults bool `mapstructure:"seed_defaults"`

	// SeedFile is an optional YAML file replacing the built-in set
	SeedFile string `mapstructure:"seed_file"`
}

// PollerClusterConfig describes one polled Kubernetes cluster.
type PollerClusterConfig struct {
	// EntityID is the cluster's entity ID; created at startup when missing
	EntityID string `mapstructure:"entity_id"`

	// Name is the display name used when the entity is created
	Name string `mapstructure:"name"`

	// Source selects the poll source ("simulated" is the only built-in)
	Source string `mapstructure:"source"`
}

// PollerConfig contains cluster polling configuration.
type PollerConfig struct {
	// Enabled toggles the poller
	Enabled bool `mapstructure:"enabled"`

	// Interval between polls
	Interval time.Duration `mapstructure:"interval"`

	// Clusters lists the clusters to poll
	Clusters []PollerClusterConfig `mapstructure:"clusters"`
}

// WebhookConfig configures the HTTP notification sink.
type WebhookConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`

	// MinSeverity filters notifications (info, warning, critical)
	MinSeverity string `mapstructure:"min_severity"`
}

// KafkaConfig configures the Kafka notification sink.
type KafkaConfig struct {
	Enabled     bool     `mapstructure:"enabled"`
	Brokers     []string `mapstructure:"brokers"`
	Topic       string   `mapstructure:"topic"`
	MinSeverity string   `mapstructure:"min_severity"`
}

// NotifyConfig configures alert notification sinks.
type NotifyConfig struct {
	Webhook WebhookConfig `mapstructure:"webhook"`
	Kafka   KafkaConfig   `mapstructure:"kafka"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error)
	Level string `mapstructure:"level"`

	// Format is the log format (json, console)
	Format string `mapstructure:"format"`
}

// SecurityConfig contains security and rate limiting settings.
type SecurityConfig struct {
	// RateLimit is the maximum requests per second per client
	RateLimit int `mapstructure:"rate_limit"`

	// AllowedOrigins are the CORS allowed origins
	AllowedOrigins []string `mapstructure:"allowed_origins"`

	// AuthEnabled enables API-key and JWT authentication
	AuthEnabled bool `mapstructure:"auth_enabled"`

	// JWTSecret is the secret key for signing operator tokens
	JWTSecret string `mapstructure:"jwt_secret"`

	// JWTExpiration is the token lifetime (default: 24h)
	JWTExpiration time.Duration `mapstructure:"jwt_expiration"`

	// Users are the operator accounts (bcrypt password hashes)
	Users []models.User `mapstructure:"users"`
}

// Load reads configuration from a file and environment variables.
// If cfgFile is empty, it searches for config.yaml in standard locations.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (HLM_ prefix)
//  2. .env file
//  3. Configuration file
//  4. Default values
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.monitord")
		v.AddConfigPath("/etc/monitord")
	}

	if err := v.ReadInConfig(); err != nil {
		if cfgFile != "" {
			// An explicitly named file may be absent; run on defaults then.
			if !isFileNotFoundError(err) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		} else {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.MergeInConfig() // Ignore error if .env file doesn't exist

	v.SetEnvPrefix("HLM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.debug", false)
	v.SetDefault("server.tls_enabled", false)

	v.SetDefault("database.driver", "memory")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.log_queries", false)

	v.SetDefault("retention.enabled", true)
	v.SetDefault("retention.days", 30)
	v.SetDefault("retention.schedule", "@hourly")

	v.SetDefault("liveness.interval", "30s")
	v.SetDefault("liveness.offline_after", "90s")

	v.SetDefault("stream.buffer_size", 256)

	v.SetDefault("query.default_page_size", 50)
	v.SetDefault("query.max_page_size", 500)

	v.SetDefault("rules.seed_defaults", true)

	v.SetDefault("poller.enabled", false)
	v.SetDefault("poller.interval", "60s")

	v.SetDefault("notify.webhook.enabled", false)
	v.SetDefault("notify.webhook.timeout", "10s")
	v.SetDefault("notify.webhook.min_severity", "warning")
	v.SetDefault("notify.kafka.enabled", false)
	v.SetDefault("notify.kafka.topic", "monitor.alerts")
	v.SetDefault("notify.kafka.min_severity", "info")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("security.rate_limit", 100)
	v.SetDefault("security.allowed_origins", []string{"*"})
	v.SetDefault("security.auth_enabled", false)
	v.SetDefault("security.jwt_secret", "change-me-in-production")
	v.SetDefault("security.jwt_expiration", "24h")
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}

	switch cfg.Database.Driver {
	case "memory":
	case "postgres":
		if cfg.Database.DSN == "" {
			return fmt.Errorf("database dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown database driver: %q", cfg.Database.Driver)
	}

	if cfg.Retention.Enabled && cfg.Retention.Days < 1 {
		return fmt.Errorf("retention days must be at least 1, got %d", cfg.Retention.Days)
	}

	if cfg.Query.MaxPageSize < 1 {
		return fmt.Errorf("query max page size must be at least 1, got %d", cfg.Query.MaxPageSize)
	}

	if cfg.Liveness.OfflineAfter <= 0 {
		return fmt.Errorf("liveness offline_after must be positive")
	}

	if cfg.Security.AuthEnabled && cfg.Security.JWTSecret == "change-me-in-production" {
		return fmt.Errorf("security jwt_secret must be changed when auth is enabled")
	}

	if cfg.Poller.Enabled {
		for i, cl := range cfg.Poller.Clusters {
			if cl.EntityID == "" {
				return fmt.Errorf("poller cluster %d: entity_id is required", i)
			}
		}
	}

	return nil
}

// isFileNotFoundError checks if an error is a file not found error.
func isFileNotFoundError(err error) bool {
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return errors.Is(pathErr, os.ErrNotExist)
	}
	return false
}

// Package config provides application configuration with multi-source
// priority.
//
// Sources (highest to lowest):
//  1. Environment variables (RELAYDESK_ prefix, plus DATABASE_URL)
//  2. Config file (config.yaml in the working directory or /etc/relaydesk)
//  3. Defaults
//
// Validation uses sentinel errors so callers can branch with errors.Is.
// Sensitive values (postgres password, service token) are never logged.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default engine tuning values.
const (
	// DefaultTopK is the number of knowledge fragments retrieved per inbound
	// message.
	DefaultTopK = 5

	// DefaultMinRelevance is the similarity floor below which retrieved
	// fragments are discarded before composing a reply.
	DefaultMinRelevance = 0.30

	// DefaultResolveConfidence is the similarity a grounded reply must reach
	// before the conversation is auto-resolved.
	DefaultResolveConfidence = 0.80

	// DefaultIdleTimeout is how long a conversation may sit without activity
	// before the sweep resolves it.
	DefaultIdleTimeout = 30 * time.Minute

	// DefaultSweepInterval is how often the idle sweep runs.
	DefaultSweepInterval = time.Minute
)

// Config stores application configuration.
type Config struct {
	// HTTP server
	ListenAddr   string `mapstructure:"listen_addr"`
	ServiceToken string `mapstructure:"service_token"`

	// Inbound endpoint rate limiting (requests per second per caller, burst)
	InboundRate  float64 `mapstructure:"inbound_rate"`
	InboundBurst int     `mapstructure:"inbound_burst"`

	// Storage
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"`
	PostgresDBName   string `mapstructure:"postgres_dbname"`
	PostgresSSLMode  string `mapstructure:"postgres_sslmode"`

	// Engine tuning
	TopK              int           `mapstructure:"top_k"`
	MinRelevance      float32       `mapstructure:"min_relevance"`
	ResolveConfidence float32       `mapstructure:"resolve_confidence"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`

	// Logging
	LogJSON  bool   `mapstructure:"log_json"`
	LogLevel string `mapstructure:"log_level"`
}

// Load reads configuration from defaults, an optional config file, and the
// environment. A missing config file is not an error.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/relaydesk")

	v.SetEnvPrefix("RELAYDESK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// DATABASE_URL overrides individual postgres_* settings.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", "127.0.0.1:8080")
	v.SetDefault("inbound_rate", 5.0)
	v.SetDefault("inbound_burst", 10)

	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "relaydesk")
	v.SetDefault("postgres_password", "")
	v.SetDefault("postgres_dbname", "relaydesk")
	v.SetDefault("postgres_sslmode", "disable")

	v.SetDefault("top_k", DefaultTopK)
	v.SetDefault("min_relevance", DefaultMinRelevance)
	v.SetDefault("resolve_confidence", DefaultResolveConfidence)
	v.SetDefault("idle_timeout", DefaultIdleTimeout)
	v.SetDefault("sweep_interval", DefaultSweepInterval)

	v.SetDefault("log_json", false)
	v.SetDefault("log_level", "info")
}

package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/scmhub/apiguard"
	"github.com/scmhub/apiguard/instrumentation"
)

// fileConfig is the on-disk / environment configuration of the apiguard binary
type fileConfig struct {
	Listen   string        `mapstructure:"listen"`
	Log      logConfig     `mapstructure:"log"`
	Storage  storageConfig `mapstructure:"storage"`
	Limits   limitsConfig  `mapstructure:"limits"`
	Cache    cacheConfig   `mapstructure:"cache"`
	Audit    auditConfig   `mapstructure:"audit"`
	Security struct {
		ServerURL string `mapstructure:"server_url"`
	} `mapstructure:"security"`
	Metrics struct {
		Enabled      bool `mapstructure:"enabled"`
		LogClientIPs bool `mapstructure:"log_client_ips"`
	} `mapstructure:"metrics"`
	HealthInterval time.Duration `mapstructure:"health_interval"`
}

type logConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type storageConfig struct {
	// Backend is "memory" or "valkey" for rate limits and cache
	Backend string `mapstructure:"backend"`
	Valkey  struct {
		Address   string `mapstructure:"address"`
		Password  string `mapstructure:"password"`
		DB        int    `mapstructure:"db"`
		KeyPrefix string `mapstructure:"key_prefix"`
	} `mapstructure:"valkey"`
	// Audit is "memory", "postgres", or "sqlite"
	Audit string `mapstructure:"audit"`
	DSN   string `mapstructure:"dsn"`
}

type limitConfig struct {
	Window      time.Duration `mapstructure:"window"`
	MaxRequests int           `mapstructure:"max_requests"`
}

type limitsConfig struct {
	API               limitConfig `mapstructure:"api"`
	Strict            limitConfig `mapstructure:"strict"`
	Auth              limitConfig `mapstructure:"auth"`
	Webhook           limitConfig `mapstructure:"webhook"`
	TrustProxy        bool        `mapstructure:"trust_proxy"`
	TrustedProxyCount int         `mapstructure:"trusted_proxy_count"`
}

type cacheConfig struct {
	TTL                      time.Duration `mapstructure:"ttl"`
	DisableWriteInvalidation bool          `mapstructure:"disable_write_invalidation"`
}

type auditConfig struct {
	Disabled              bool `mapstructure:"disabled"`
	QueueSize             int  `mapstructure:"queue_size"`
	Workers               int  `mapstructure:"workers"`
	DisableAPICallRecords bool `mapstructure:"disable_api_call_records"`
}

// loadConfig reads path (optional) and APIGUARD_* environment overrides,
// e.g. APIGUARD_STORAGE_BACKEND=valkey
func loadConfig(path string) (*fileConfig, error) {
	v := viper.New()
	v.SetDefault("listen", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.audit", "memory")
	v.SetDefault("storage.valkey.address", "localhost:6379")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("apiguard")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("APIGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		// A missing default file is fine; an explicit path must exist
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var c fileConfig
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &c, nil
}

// guardConfig maps the file configuration onto apiguard.Config
func (c *fileConfig) guardConfig() *apiguard.Config {
	exporter := instrumentation.MetricsExporterNone
	if c.Metrics.Enabled {
		exporter = instrumentation.MetricsExporterPrometheus
	}
	return &apiguard.Config{
		RateLimit: apiguard.RateLimitConfig{
			API:               apiguard.LimitConfig(c.Limits.API),
			Strict:            apiguard.LimitConfig(c.Limits.Strict),
			Auth:              apiguard.LimitConfig(c.Limits.Auth),
			Webhook:           apiguard.LimitConfig(c.Limits.Webhook),
			TrustProxy:        c.Limits.TrustProxy,
			TrustedProxyCount: c.Limits.TrustedProxyCount,
		},
		Cache: apiguard.CacheConfig{
			TTL:                      c.Cache.TTL,
			DisableWriteInvalidation: c.Cache.DisableWriteInvalidation,
		},
		Audit: apiguard.AuditConfig{
			Disabled:              c.Audit.Disabled,
			QueueSize:             c.Audit.QueueSize,
			Workers:               c.Audit.Workers,
			DisableAPICallRecords: c.Audit.DisableAPICallRecords,
		},
		Security: apiguard.SecurityConfig{ServerURL: c.Security.ServerURL},
		Instrumentation: instrumentation.Config{
			Enabled:         c.Metrics.Enabled,
			ServiceName:     instrumentation.DefaultServiceName,
			ServiceVersion:  version,
			MetricsExporter: exporter,
			LogClientIPs:    c.Metrics.LogClientIPs,
		},
		HealthInterval: c.HealthInterval,
	}
}

// newLogger builds the process logger from the log section
func newLogger(c logConfig) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", c.Level, err)
	}
	opts := &slog.HandlerOptions{Level: level}

	switch c.Format {
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stdout, opts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(os.Stdout, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q", c.Format)
	}
}

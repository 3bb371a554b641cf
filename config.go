package apiguard

import (
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/scmhub/apiguard/cache"
	"github.com/scmhub/apiguard/instrumentation"
	"github.com/scmhub/apiguard/security"
)

const (
	// DefaultHealthInterval is how often the memory monitor logs runtime statistics
	DefaultHealthInterval = 5 * time.Minute
)

// Config holds the guard configuration.
// Structured using composition; zero values select the defaults.
type Config struct {
	// Rate limiting configuration
	RateLimit RateLimitConfig

	// Response cache configuration
	Cache CacheConfig

	// Audit pipeline configuration
	Audit AuditConfig

	// Security header configuration
	Security SecurityConfig

	// Instrumentation configures OpenTelemetry metrics and tracing
	Instrumentation instrumentation.Config

	// HealthInterval is how often memory statistics are logged.
	// Default: 5 minutes. Negative disables the monitor.
	HealthInterval time.Duration

	// Logger for structured logging (optional, uses default if not provided)
	Logger *slog.Logger
}

// LimitConfig overrides the window and threshold of one limiter class.
// Zero fields keep the class default.
type LimitConfig struct {
	Window      time.Duration
	MaxRequests int
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	// API is general API traffic. Default: 100 requests per 15 minutes.
	API LimitConfig

	// Strict is sensitive operations. Default: 10 requests per 15 minutes.
	Strict LimitConfig

	// Auth is authentication attempts. Default: 5 requests per 15 minutes.
	Auth LimitConfig

	// Webhook is inbound webhooks. Default: 60 requests per minute.
	Webhook LimitConfig

	// TrustProxy enables trusting X-Forwarded-For and X-Real-IP headers.
	// Only enable behind a trusted reverse proxy.
	TrustProxy bool

	// TrustedProxyCount is the number of proxies in front of the service.
	// Default: 1 when TrustProxy is set.
	TrustedProxyCount int

	// StoreTimeout bounds each rate limit store call for every class; a
	// slower store lets the request through. Default: 100ms.
	StoreTimeout time.Duration
}

// CacheConfig holds response cache configuration
type CacheConfig struct {
	// TTL is how long a cached GET response is served. Default: 5 minutes.
	TTL time.Duration

	// SweepInterval is how often expired entries are removed. Default: 1 minute.
	SweepInterval time.Duration

	// MaxBodyBytes is the largest body that is cached. Default: 1 MiB.
	MaxBodyBytes int

	// DisableWriteInvalidation keeps cached GETs after writes to the same path.
	// WARNING: Clients may read stale data for up to TTL after a write.
	DisableWriteInvalidation bool
}

// AuditConfig holds audit pipeline configuration
type AuditConfig struct {
	// Disabled turns audit recording off.
	Disabled bool

	// QueueSize is the pending record buffer. Default: 1024.
	QueueSize int

	// Workers is the number of concurrent store writers. Default: 2.
	Workers int

	// WriteTimeout bounds each store append. Default: 5 seconds.
	WriteTimeout time.Duration

	// DisableAPICallRecords stops the per-request API_CALL record.
	// Security events and rate limit denials are still recorded.
	DisableAPICallRecords bool
}

// SecurityConfig holds security header settings
type SecurityConfig struct {
	// ServerURL is the public base URL. An https URL enables HSTS.
	ServerURL string

	// HSTSMaxAge overrides the HSTS max-age. Default: 1 year.
	HSTSMaxAge time.Duration

	// CSPDirectives replace or extend the default Content-Security-Policy
	// directives (see security.DefaultCSPDirectives).
	CSPDirectives map[string][]string
}

// Validate reports configuration errors that defaults cannot repair
func (c *Config) Validate() error {
	limits := map[string]LimitConfig{
		"api":     c.RateLimit.API,
		"strict":  c.RateLimit.Strict,
		"auth":    c.RateLimit.Auth,
		"webhook": c.RateLimit.Webhook,
	}
	for name, l := range limits {
		if l.Window < 0 {
			return fmt.Errorf("rate limit %s: window must not be negative", name)
		}
		if l.MaxRequests < 0 {
			return fmt.Errorf("rate limit %s: max requests must not be negative", name)
		}
	}
	if c.RateLimit.TrustedProxyCount < 0 {
		return fmt.Errorf("trusted proxy count must not be negative")
	}
	if c.RateLimit.StoreTimeout < 0 {
		return fmt.Errorf("rate limit store timeout must not be negative")
	}
	if c.Cache.TTL < 0 || c.Cache.SweepInterval < 0 || c.Cache.MaxBodyBytes < 0 {
		return fmt.Errorf("cache settings must not be negative")
	}
	if c.Audit.QueueSize < 0 || c.Audit.Workers < 0 || c.Audit.WriteTimeout < 0 {
		return fmt.Errorf("audit settings must not be negative")
	}
	if c.Security.ServerURL != "" {
		u, err := url.Parse(c.Security.ServerURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid server URL %q", c.Security.ServerURL)
		}
	}
	switch c.Instrumentation.MetricsExporter {
	case "", instrumentation.MetricsExporterNone, instrumentation.MetricsExporterPrometheus:
	default:
		return fmt.Errorf("unsupported metrics exporter %q", c.Instrumentation.MetricsExporter)
	}
	return nil
}

// applyDefaults fills zero values and logs warnings for weakened settings
func (c *Config) applyDefaults(logger *slog.Logger) {
	if c.RateLimit.TrustProxy && c.RateLimit.TrustedProxyCount == 0 {
		c.RateLimit.TrustedProxyCount = 1
	}
	if c.HealthInterval == 0 {
		c.HealthInterval = DefaultHealthInterval
	}

	if c.Cache.DisableWriteInvalidation {
		logger.Warn("Cache write invalidation disabled; reads may be stale for up to the cache TTL",
			"ttl", c.cacheConfig().TTL)
	}
	if c.Audit.Disabled {
		logger.Warn("Audit logging disabled")
	}
	if c.RateLimit.TrustProxy {
		logger.Info("Trusting proxy headers for client IP",
			"trusted_proxy_count", c.RateLimit.TrustedProxyCount)
	}
}

// limiterOverrides maps the per-class settings onto the security package
func (c *Config) limiterOverrides() map[security.LimitClass]security.LimiterConfig {
	override := func(l LimitConfig) security.LimiterConfig {
		return security.LimiterConfig{
			Window:       l.Window,
			MaxRequests:  l.MaxRequests,
			StoreTimeout: c.RateLimit.StoreTimeout,
		}
	}
	return map[security.LimitClass]security.LimiterConfig{
		security.LimitAPI:     override(c.RateLimit.API),
		security.LimitStrict:  override(c.RateLimit.Strict),
		security.LimitAuth:    override(c.RateLimit.Auth),
		security.LimitWebhook: override(c.RateLimit.Webhook),
	}
}

func (c *Config) cacheConfig() cache.Config {
	cfg := cache.DefaultConfig()
	if c.Cache.TTL > 0 {
		cfg.TTL = c.Cache.TTL
	}
	if c.Cache.SweepInterval > 0 {
		cfg.SweepInterval = c.Cache.SweepInterval
	}
	if c.Cache.MaxBodyBytes > 0 {
		cfg.MaxBodyBytes = c.Cache.MaxBodyBytes
	}
	cfg.InvalidateOnWrite = !c.Cache.DisableWriteInvalidation
	return cfg
}

func (c *Config) auditorConfig() security.AuditorConfig {
	cfg := security.DefaultAuditorConfig()
	cfg.Enabled = !c.Audit.Disabled
	if c.Audit.QueueSize > 0 {
		cfg.QueueSize = c.Audit.QueueSize
	}
	if c.Audit.Workers > 0 {
		cfg.Workers = c.Audit.Workers
	}
	if c.Audit.WriteTimeout > 0 {
		cfg.WriteTimeout = c.Audit.WriteTimeout
	}
	cfg.TrustProxy = c.RateLimit.TrustProxy
	cfg.TrustedProxyCount = c.RateLimit.TrustedProxyCount
	return cfg
}

func (c *Config) headerConfig() security.HeaderConfig {
	return security.HeaderConfig{
		ServerURL:     c.Security.ServerURL,
		HSTSMaxAge:    c.Security.HSTSMaxAge,
		CSPDirectives: c.Security.CSPDirectives,
	}
}

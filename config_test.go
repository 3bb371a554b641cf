package apiguard

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/scmhub/apiguard/instrumentation"
	"github.com/scmhub/apiguard/security"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "zero config", cfg: Config{}},
		{
			name: "overrides",
			cfg: Config{
				RateLimit: RateLimitConfig{Auth: LimitConfig{Window: time.Minute, MaxRequests: 3}},
				Security:  SecurityConfig{ServerURL: "https://api.example.com"},
			},
		},
		{
			name:    "negative window",
			cfg:     Config{RateLimit: RateLimitConfig{API: LimitConfig{Window: -time.Second}}},
			wantErr: true,
		},
		{
			name:    "negative max requests",
			cfg:     Config{RateLimit: RateLimitConfig{Webhook: LimitConfig{MaxRequests: -1}}},
			wantErr: true,
		},
		{
			name:    "negative proxy count",
			cfg:     Config{RateLimit: RateLimitConfig{TrustedProxyCount: -1}},
			wantErr: true,
		},
		{
			name:    "negative store timeout",
			cfg:     Config{RateLimit: RateLimitConfig{StoreTimeout: -time.Millisecond}},
			wantErr: true,
		},
		{
			name:    "negative cache ttl",
			cfg:     Config{Cache: CacheConfig{TTL: -time.Minute}},
			wantErr: true,
		},
		{
			name:    "negative audit workers",
			cfg:     Config{Audit: AuditConfig{Workers: -2}},
			wantErr: true,
		},
		{
			name:    "server url without scheme",
			cfg:     Config{Security: SecurityConfig{ServerURL: "api.example.com"}},
			wantErr: true,
		},
		{
			name: "unknown exporter",
			cfg: Config{Instrumentation: instrumentation.Config{
				Enabled:         true,
				MetricsExporter: "statsd",
			}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_ApplyDefaults(t *testing.T) {
	cfg := &Config{RateLimit: RateLimitConfig{TrustProxy: true}}
	cfg.applyDefaults(discardLogger())

	if cfg.RateLimit.TrustedProxyCount != 1 {
		t.Errorf("TrustedProxyCount = %d, want 1", cfg.RateLimit.TrustedProxyCount)
	}
	if cfg.HealthInterval != DefaultHealthInterval {
		t.Errorf("HealthInterval = %v, want %v", cfg.HealthInterval, DefaultHealthInterval)
	}

	disabled := &Config{HealthInterval: -1}
	disabled.applyDefaults(discardLogger())
	if disabled.HealthInterval != -1 {
		t.Errorf("negative HealthInterval should be kept, got %v", disabled.HealthInterval)
	}
}

func TestConfig_LimiterOverrides(t *testing.T) {
	cfg := &Config{RateLimit: RateLimitConfig{
		Strict:       LimitConfig{MaxRequests: 3},
		StoreTimeout: 50 * time.Millisecond,
	}}
	overrides := cfg.limiterOverrides()

	if got := overrides[security.LimitStrict]; got.MaxRequests != 3 || got.Window != 0 {
		t.Errorf("strict override = %+v, want MaxRequests 3 and zero window", got)
	}
	for class, o := range overrides {
		if o.StoreTimeout != 50*time.Millisecond {
			t.Errorf("%s StoreTimeout = %v, want 50ms", class, o.StoreTimeout)
		}
	}
	if len(overrides) != 4 {
		t.Errorf("len(overrides) = %d, want 4", len(overrides))
	}
}

func TestConfig_ComponentConfigs(t *testing.T) {
	cfg := &Config{
		RateLimit: RateLimitConfig{TrustProxy: true, TrustedProxyCount: 2},
		Cache:     CacheConfig{TTL: time.Minute, DisableWriteInvalidation: true},
		Audit:     AuditConfig{Disabled: true, QueueSize: 16},
	}

	cc := cfg.cacheConfig()
	if cc.TTL != time.Minute {
		t.Errorf("cache TTL = %v, want 1m", cc.TTL)
	}
	if cc.InvalidateOnWrite {
		t.Error("write invalidation should be disabled")
	}
	if cc.SweepInterval == 0 || cc.MaxBodyBytes == 0 {
		t.Errorf("cache defaults not applied: %+v", cc)
	}

	ac := cfg.auditorConfig()
	if ac.Enabled {
		t.Error("auditor should be disabled")
	}
	if ac.QueueSize != 16 {
		t.Errorf("QueueSize = %d, want 16", ac.QueueSize)
	}
	if !ac.TrustProxy || ac.TrustedProxyCount != 2 {
		t.Errorf("proxy settings not propagated: %+v", ac)
	}
}

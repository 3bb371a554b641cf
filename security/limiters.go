package security

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/scmhub/apiguard/instrumentation"
	"github.com/scmhub/apiguard/storage"
)

// LimitClass names one of the configured limiters
type LimitClass string

const (
	// LimitAPI covers general API traffic
	LimitAPI LimitClass = "api"

	// LimitStrict covers sensitive operations such as exports and key rotation
	LimitStrict LimitClass = "strict"

	// LimitAuth covers login, registration, and 2FA attempts
	LimitAuth LimitClass = "auth"

	// LimitWebhook covers inbound webhooks
	LimitWebhook LimitClass = "webhook"
)

// DefaultLimiterConfigs returns the stock window and threshold per class
func DefaultLimiterConfigs() map[LimitClass]LimiterConfig {
	return map[LimitClass]LimiterConfig{
		LimitAPI:     {Name: string(LimitAPI), Window: 15 * time.Minute, MaxRequests: 100},
		LimitStrict:  {Name: string(LimitStrict), Window: 15 * time.Minute, MaxRequests: 10},
		LimitAuth:    {Name: string(LimitAuth), Window: 15 * time.Minute, MaxRequests: 5},
		LimitWebhook: {Name: string(LimitWebhook), Window: time.Minute, MaxRequests: 60},
	}
}

// LimiterSet holds one independent limiter per class
type LimiterSet struct {
	limiters map[LimitClass]*FixedWindowLimiter
}

// NewLimiterSet builds a limiter for every class in DefaultLimiterConfigs.
// Entries in overrides replace the default for that class; a zero Window or
// MaxRequests (or StoreTimeout) keeps the default value.
func NewLimiterSet(store storage.RateLimitStore, overrides map[LimitClass]LimiterConfig, logger *slog.Logger) (*LimiterSet, error) {
	if store == nil {
		return nil, fmt.Errorf("rate limit store is required")
	}

	configs := DefaultLimiterConfigs()
	for class, override := range overrides {
		base, ok := configs[class]
		if !ok {
			return nil, fmt.Errorf("unknown limiter class %q", class)
		}
		if override.Window > 0 {
			base.Window = override.Window
		}
		if override.MaxRequests > 0 {
			base.MaxRequests = override.MaxRequests
		}
		if override.StoreTimeout > 0 {
			base.StoreTimeout = override.StoreTimeout
		}
		configs[class] = base
	}

	set := &LimiterSet{limiters: make(map[LimitClass]*FixedWindowLimiter, len(configs))}
	for class, cfg := range configs {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		set.limiters[class] = NewFixedWindowLimiter(cfg, store, logger)
	}
	return set, nil
}

// Get returns the limiter for class, or nil if the class is unknown
func (s *LimiterSet) Get(class LimitClass) *FixedWindowLimiter {
	return s.limiters[class]
}

// SetClock sets the time source on every limiter
func (s *LimiterSet) SetClock(c Clock) {
	for _, l := range s.limiters {
		l.SetClock(c)
	}
}

// SetMetrics enables decision metrics on every limiter
func (s *LimiterSet) SetMetrics(m *instrumentation.Metrics) {
	for _, l := range s.limiters {
		l.SetMetrics(m)
	}
}

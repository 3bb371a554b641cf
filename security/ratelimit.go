package security

import (
	"context"
	"fmt"
	"hash/maphash"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/scmhub/apiguard/instrumentation"
	"github.com/scmhub/apiguard/storage"
)

const (
	// DefaultStoreTimeout bounds each rate limit store call. A slower store
	// fails open instead of holding the request.
	DefaultStoreTimeout = 100 * time.Millisecond

	// keyLockStripes is the number of mutexes keys are spread across
	keyLockStripes = 256
)

// LimiterConfig configures one fixed-window limiter
type LimiterConfig struct {
	// Name identifies the limiter in logs, metrics, and its storage key prefix
	Name string

	// Window is the length of one counting window
	Window time.Duration

	// MaxRequests is how many requests a key may make per window
	MaxRequests int

	// StoreTimeout bounds each store call. Default: 100ms.
	StoreTimeout time.Duration
}

// Validate checks that the config describes a usable limiter
func (c LimiterConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("limiter name is required")
	}
	if c.Window <= 0 {
		return fmt.Errorf("limiter %q: window must be positive, got %v", c.Name, c.Window)
	}
	if c.MaxRequests <= 0 {
		return fmt.Errorf("limiter %q: max requests must be positive, got %d", c.Name, c.MaxRequests)
	}
	if c.StoreTimeout < 0 {
		return fmt.Errorf("limiter %q: store timeout must not be negative, got %v", c.Name, c.StoreTimeout)
	}
	return nil
}

// Decision is the outcome of a single admission check
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time

	// RetryAfterSeconds is set only when Allowed is false
	RetryAfterSeconds int
}

// FixedWindowLimiter counts requests per key in fixed windows.
//
// The first request for a key opens a window of cfg.Window. Every request in
// that window increments the counter; once the counter exceeds
// cfg.MaxRequests the key is denied until the window ends. The next request
// after the window ends opens a fresh window with a count of one.
//
// Admission is serialized per key within one limiter instance; different keys
// proceed in parallel. Counters shared through a network store are not updated
// atomically across replicas.
type FixedWindowLimiter struct {
	cfg     LimiterConfig
	store   storage.RateLimitStore
	logger  *slog.Logger
	metrics *instrumentation.Metrics

	mu  sync.Mutex // guards now
	now Clock

	seed    maphash.Seed
	keyMu   [keyLockStripes]sync.Mutex
	sweepMu sync.Mutex
}

// NewFixedWindowLimiter creates a limiter backed by store.
// It panics if cfg is invalid; callers validate configuration at startup.
func NewFixedWindowLimiter(cfg LimiterConfig, store storage.RateLimitStore, logger *slog.Logger) *FixedWindowLimiter {
	if err := cfg.Validate(); err != nil {
		panic(err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.StoreTimeout == 0 {
		cfg.StoreTimeout = DefaultStoreTimeout
	}
	return &FixedWindowLimiter{
		cfg:    cfg,
		store:  store,
		logger: logger,
		now:    systemClock,
		seed:   maphash.MakeSeed(),
	}
}

// SetClock replaces the limiter's time source. Pass nil to restore time.Now.
func (l *FixedWindowLimiter) SetClock(c Clock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = clockOrDefault(c)
}

// SetMetrics enables decision metrics
func (l *FixedWindowLimiter) SetMetrics(m *instrumentation.Metrics) {
	l.metrics = m
}

// clock returns the current time source
func (l *FixedWindowLimiter) clock() Clock {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.now
}

// Name returns the limiter name
func (l *FixedWindowLimiter) Name() string {
	return l.cfg.Name
}

// Config returns the limiter configuration
func (l *FixedWindowLimiter) Config() LimiterConfig {
	return l.cfg
}

// storeKey namespaces key so limiters sharing a store never share a counter
func (l *FixedWindowLimiter) storeKey(key string) string {
	return l.cfg.Name + ":" + key
}

// keyLock returns the mutex serializing read-modify-write for skey
func (l *FixedWindowLimiter) keyLock(skey string) *sync.Mutex {
	return &l.keyMu[maphash.String(l.seed, skey)%keyLockStripes]
}

// storeContext bounds one store call
func (l *FixedWindowLimiter) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, l.cfg.StoreTimeout)
}

// sweep purges expired counters. Concurrent callers skip while a sweep runs;
// that sweep already covers their instant.
func (l *FixedWindowLimiter) sweep(ctx context.Context, now time.Time) {
	if !l.sweepMu.TryLock() {
		return
	}
	defer l.sweepMu.Unlock()

	ctx, cancel := l.storeContext(ctx)
	defer cancel()
	if _, err := l.store.SweepRateLimits(ctx, now); err != nil {
		l.logger.Debug("Rate limit sweep failed", "limiter", l.cfg.Name, "error", err)
	}
}

// Admit records one request for key and reports whether it is allowed.
// Store failures and store calls slower than StoreTimeout admit the request.
func (l *FixedWindowLimiter) Admit(ctx context.Context, key string) Decision {
	now := l.clock()()
	l.sweep(ctx, now)

	skey := l.storeKey(key)
	km := l.keyLock(skey)
	km.Lock()
	defer km.Unlock()

	getCtx, cancel := l.storeContext(ctx)
	entry, found, err := l.store.GetRateLimit(getCtx, skey)
	cancel()
	if err != nil {
		return l.failOpen(ctx, now, "get", err)
	}
	if !found || entry.Expired(now) {
		entry = storage.RateLimitEntry{Count: 0, ResetAt: now.Add(l.cfg.Window)}
	}

	entry.Count++
	setCtx, cancel := l.storeContext(ctx)
	err = l.store.SetRateLimit(setCtx, skey, entry)
	cancel()
	if err != nil {
		return l.failOpen(ctx, now, "set", err)
	}

	d := Decision{
		Allowed:   entry.Count <= l.cfg.MaxRequests,
		Limit:     l.cfg.MaxRequests,
		Remaining: max(0, l.cfg.MaxRequests-entry.Count),
		ResetAt:   entry.ResetAt,
	}
	if !d.Allowed {
		d.RetryAfterSeconds = retryAfterSeconds(entry.ResetAt.Sub(now))
	}

	l.metrics.RecordRateLimitDecision(ctx, l.cfg.Name, d.Allowed)
	return d
}

// Reset clears the counter for key
func (l *FixedWindowLimiter) Reset(ctx context.Context, key string) error {
	skey := l.storeKey(key)
	km := l.keyLock(skey)
	km.Lock()
	defer km.Unlock()

	ctx, cancel := l.storeContext(ctx)
	defer cancel()
	if err := l.store.DeleteRateLimit(ctx, skey); err != nil {
		return fmt.Errorf("failed to reset rate limit: %w", err)
	}
	return nil
}

// failOpen admits a request whose counter could not be read or written
func (l *FixedWindowLimiter) failOpen(ctx context.Context, now time.Time, op string, err error) Decision {
	l.logger.Warn("Rate limit store unavailable, allowing request",
		"limiter", l.cfg.Name,
		"operation", op,
		"error", err)
	l.metrics.RecordRateLimitStoreError(ctx, l.cfg.Name)

	return Decision{
		Allowed:   true,
		Limit:     l.cfg.MaxRequests,
		Remaining: l.cfg.MaxRequests,
		ResetAt:   now.Add(l.cfg.Window),
	}
}

// retryAfterSeconds rounds d up to whole seconds, never below one
func retryAfterSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

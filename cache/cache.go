package cache

import (
	"context"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/scmhub/apiguard/instrumentation"
	"github.com/scmhub/apiguard/internal/util"
	"github.com/scmhub/apiguard/storage"
)

const (
	// DefaultTTL is how long a cached response is served
	DefaultTTL = 5 * time.Minute

	// DefaultSweepInterval is how often expired entries are removed
	DefaultSweepInterval = time.Minute

	// DefaultMaxBodyBytes is the largest body that is cached
	DefaultMaxBodyBytes = 1 << 20

	// HeaderCache reports HIT or MISS on GET responses
	HeaderCache = "X-Cache"

	keyPrefix = "GET:"
)

// Config configures a ResponseCache. Start from DefaultConfig so
// InvalidateOnWrite keeps its default of true.
type Config struct {
	// TTL is how long a stored response is served (default 5m)
	TTL time.Duration

	// SweepInterval is the period of the background sweep (default 1m)
	SweepInterval time.Duration

	// InvalidateOnWrite drops cached GETs for a path after a successful
	// POST, PUT, PATCH or DELETE to it
	InvalidateOnWrite bool

	// MaxBodyBytes caps the cached body size (default 1 MiB)
	MaxBodyBytes int
}

// DefaultConfig returns the default cache configuration
func DefaultConfig() Config {
	return Config{
		TTL:               DefaultTTL,
		SweepInterval:     DefaultSweepInterval,
		InvalidateOnWrite: true,
		MaxBodyBytes:      DefaultMaxBodyBytes,
	}
}

func (c *Config) applyDefaults() {
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
}

// ResponseCache serves repeated GET requests from a storage.CacheStore.
type ResponseCache struct {
	store   storage.CacheStore
	cfg     Config
	logger  *slog.Logger
	metrics *instrumentation.Metrics
	now     func() time.Time

	mu        sync.Mutex
	stopSweep chan struct{}
	sweepDone chan struct{}
}

// New creates a response cache. Call Start to run the background sweep.
func New(store storage.CacheStore, cfg Config, logger *slog.Logger) *ResponseCache {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()
	return &ResponseCache{
		store:  store,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// SetClock replaces the time source. Pass nil to restore time.Now.
func (c *ResponseCache) SetClock(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	c.now = now
}

// SetMetrics enables cache metrics
func (c *ResponseCache) SetMetrics(m *instrumentation.Metrics) {
	c.metrics = m
}

// Config returns the effective configuration
func (c *ResponseCache) Config() Config {
	return c.cfg
}

// Key returns the cache key for r: method, normalized path and sorted query
func Key(r *http.Request) string {
	return keyPrefix + util.NormalizePath(r.URL.Path) + "?" + r.URL.Query().Encode()
}

// Intercept returns the cached response for r, if any
func (c *ResponseCache) Intercept(r *http.Request) (*storage.CacheEntry, bool) {
	if r.Method != http.MethodGet {
		return nil, false
	}

	ctx := r.Context()
	entry, err := c.store.GetCache(ctx, Key(r))
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			c.logger.Debug("Cache lookup failed", "path", r.URL.Path, "error", err)
		}
		c.metrics.RecordCacheLookup(ctx, "miss")
		return nil, false
	}
	if entry.Expired(c.now()) {
		c.metrics.RecordCacheLookup(ctx, "miss")
		return nil, false
	}

	c.metrics.RecordCacheLookup(ctx, "hit")
	return entry, true
}

// Store caches a response for r. Only 200 JSON responses to GET are kept.
func (c *ResponseCache) Store(r *http.Request, status int, contentType string, body []byte) {
	if r.Method != http.MethodGet || status != http.StatusOK || !isJSON(contentType) {
		return
	}
	if len(body) > c.cfg.MaxBodyBytes {
		return
	}

	ctx := r.Context()
	entry := &storage.CacheEntry{
		Payload:     body,
		ContentType: contentType,
		StatusCode:  status,
		ExpiresAt:   c.now().Add(c.cfg.TTL),
	}
	if err := c.store.SetCache(ctx, Key(r), entry); err != nil {
		c.logger.Warn("Failed to store cached response", "path", r.URL.Path, "error", err)
		return
	}
	c.metrics.RecordCacheStore(ctx)
}

// Invalidate removes cached GETs for pathPrefix and everything below it,
// plus the listing of its parent collection. Matching stops at segment
// boundaries: invalidating /items/1 keeps /items/10.
func (c *ResponseCache) Invalidate(ctx context.Context, pathPrefix string) int {
	p := util.NormalizePath(pathPrefix)
	prefixes := []string{keyPrefix + p}
	if p != "/" {
		prefixes = []string{keyPrefix + p + "?", keyPrefix + p + "/"}
	}
	if parent := path.Dir(p); parent != p {
		prefixes = append(prefixes, keyPrefix+parent+"?")
	}

	removed := 0
	for _, prefix := range prefixes {
		n, err := c.store.DeleteCachePrefix(ctx, prefix)
		if err != nil {
			c.logger.Warn("Failed to invalidate cached responses", "prefix", prefix, "error", err)
			continue
		}
		removed += n
	}

	c.metrics.RecordCacheInvalidation(ctx, removed)
	if removed > 0 {
		c.logger.Debug("Invalidated cached responses", "path", p, "removed", removed)
	}
	return removed
}

// Middleware serves GET hits from the cache and stores GET misses.
// Writes that succeed invalidate the path when InvalidateOnWrite is set.
func (c *ResponseCache) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			c.serveGet(w, r, next)
		case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
			if !c.cfg.InvalidateOnWrite {
				next.ServeHTTP(w, r)
				return
			}
			sw := util.NewStatusWriter(w)
			next.ServeHTTP(sw, r)
			if sw.Status() >= 200 && sw.Status() < 300 {
				c.Invalidate(r.Context(), r.URL.Path)
			}
		default:
			next.ServeHTTP(w, r)
		}
	})
}

func (c *ResponseCache) serveGet(w http.ResponseWriter, r *http.Request, next http.Handler) {
	span := trace.SpanFromContext(r.Context())
	if entry, ok := c.Intercept(r); ok {
		instrumentation.AddCacheAttributes(span, "hit")
		w.Header().Set("Content-Type", entry.ContentType)
		w.Header().Set(HeaderCache, "HIT")
		w.WriteHeader(entry.StatusCode)
		_, _ = w.Write(entry.Payload)
		return
	}

	instrumentation.AddCacheAttributes(span, "miss")
	w.Header().Set(HeaderCache, "MISS")
	cw := util.NewCaptureWriter(w, c.cfg.MaxBodyBytes)
	next.ServeHTTP(cw, r)

	if body := cw.Body(); body != nil {
		c.Store(r, cw.Status(), w.Header().Get("Content-Type"), body)
	}
}

// Start runs the background sweep. Calling Start on a running cache is a no-op.
func (c *ResponseCache) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopSweep != nil {
		return
	}
	c.stopSweep = make(chan struct{})
	c.sweepDone = make(chan struct{})
	go c.sweepLoop(c.stopSweep, c.sweepDone)

	c.logger.Debug("Response cache sweeper started", "interval", c.cfg.SweepInterval, "ttl", c.cfg.TTL)
}

// Stop halts the background sweep and waits for it to exit
func (c *ResponseCache) Stop() {
	c.mu.Lock()
	stop, done := c.stopSweep, c.sweepDone
	c.stopSweep, c.sweepDone = nil, nil
	c.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (c *ResponseCache) sweepLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Sweep(context.Background())
		case <-stop:
			return
		}
	}
}

// Sweep removes expired entries once and returns how many were removed
func (c *ResponseCache) Sweep(ctx context.Context) int {
	removed, err := c.store.SweepCache(ctx, c.now())
	if err != nil {
		c.logger.Warn("Cache sweep failed", "error", err)
		return 0
	}
	c.metrics.RecordCacheSweep(ctx, removed)
	return removed
}

// isJSON reports whether contentType is application/json or a +json type
func isJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

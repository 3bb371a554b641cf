package apiguard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/scmhub/apiguard/cache"
	"github.com/scmhub/apiguard/instrumentation"
	"github.com/scmhub/apiguard/internal/util"
	"github.com/scmhub/apiguard/security"
	"github.com/scmhub/apiguard/storage"
)

// Stores are the backends the guard layer runs on. RateLimits is required;
// a nil Cache disables response caching and a nil Audit disables auditing.
type Stores struct {
	RateLimits storage.RateLimitStore
	Cache      storage.CacheStore
	Audit      storage.AuditStore
}

// Server wires the limiters, response cache, and auditor into HTTP middleware.
// Each Server owns its components; nothing is shared through package state.
type Server struct {
	Limiters        *security.LimiterSet
	Cache           *cache.ResponseCache // nil when Stores.Cache is nil
	Auditor         *security.Auditor
	Instrumentation *instrumentation.Instrumentation

	config  *Config
	stores  Stores
	logger  *slog.Logger
	tracer  trace.Tracer
	headers func(http.Handler) http.Handler

	startTime    time.Time
	healthStop   chan struct{}
	healthDone   chan struct{}
	shutdownOnce sync.Once
}

// instrumentable is implemented by stores that report metrics
type instrumentable interface {
	SetInstrumentation(inst *instrumentation.Instrumentation)
}

// NewServer validates cfg and builds the guard components.
// The cache sweeper and memory monitor start immediately; call Shutdown to stop them.
func NewServer(stores Stores, cfg *Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if logger == nil {
		logger = cfg.Logger
	}
	if logger == nil {
		logger = slog.Default()
	}
	if stores.RateLimits == nil {
		return nil, fmt.Errorf("rate limit store is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	cfg.applyDefaults(logger)

	inst, err := instrumentation.New(cfg.Instrumentation)
	if err != nil {
		return nil, fmt.Errorf("failed to create instrumentation: %w", err)
	}

	limiters, err := security.NewLimiterSet(stores.RateLimits, cfg.limiterOverrides(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limiters: %w", err)
	}
	limiters.SetMetrics(inst.Metrics())

	s := &Server{
		Limiters:        limiters,
		Auditor:         security.NewAuditor(stores.Audit, cfg.auditorConfig(), logger),
		Instrumentation: inst,
		config:          cfg,
		stores:          stores,
		logger:          logger,
		tracer:          inst.Tracer("http"),
		headers:         security.SecurityHeadersMiddleware(cfg.headerConfig()),
		startTime:       time.Now(),
	}
	s.Auditor.SetInstrumentation(inst)

	if stores.Cache != nil {
		s.Cache = cache.New(stores.Cache, cfg.cacheConfig(), logger)
		s.Cache.SetMetrics(inst.Metrics())
		s.Cache.Start()
	}

	// Memory and valkey stores may back several roles; instrument each once
	seen := map[any]bool{}
	for _, st := range []any{stores.RateLimits, stores.Cache, stores.Audit} {
		if st == nil || seen[st] {
			continue
		}
		seen[st] = true
		if is, ok := st.(instrumentable); ok {
			is.SetInstrumentation(inst)
		}
	}

	if cfg.HealthInterval > 0 {
		s.healthStop = make(chan struct{})
		s.healthDone = make(chan struct{})
		go s.monitorLoop(cfg.HealthInterval)
	}

	logger.Info("API guard initialized",
		"cache_enabled", s.Cache != nil,
		"audit_enabled", s.Auditor.Enabled(),
		"instrumentation_enabled", cfg.Instrumentation.Enabled)

	return s, nil
}

// SetClock replaces the time source of the limiters, cache, and auditor
func (s *Server) SetClock(c security.Clock) {
	s.Limiters.SetClock(c)
	s.Auditor.SetClock(c)
	if s.Cache != nil {
		s.Cache.SetClock(c)
	}
}

// Handler wraps next in the guard chain for class:
//
//	request id -> security headers -> rate limit -> observe -> [cache] -> next
//
// The response cache applies to LimitAPI only. "observe" records metrics, a
// span and the API_CALL audit record after next returns.
func (s *Server) Handler(class security.LimitClass, next http.Handler) http.Handler {
	return s.Middleware(class)(next)
}

// Middleware returns the guard chain for class as a middleware.
// It panics if class is unknown.
func (s *Server) Middleware(class security.LimitClass) func(http.Handler) http.Handler {
	limiter := s.Limiters.Get(class)
	if limiter == nil {
		panic(fmt.Sprintf("apiguard: unknown limit class %q", class))
	}
	rateLimit := security.RateLimitMiddleware(
		limiter,
		security.ClientIPKey(s.config.RateLimit.TrustProxy, s.config.RateLimit.TrustedProxyCount),
		s.Auditor,
		s.logger,
	)

	return func(next http.Handler) http.Handler {
		h := next
		if class == security.LimitAPI && s.Cache != nil {
			h = s.Cache.Middleware(h)
		}
		h = s.observe(class, h)
		h = rateLimit(h)
		h = s.headers(h)
		return security.RequestIDMiddleware(h)
	}
}

// observe records the outcome of every admitted request
func (s *Server) observe(class security.LimitClass, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx, p := withPrincipal(r.Context())

		ctx, span := s.tracer.Start(ctx, "http.request")
		defer span.End()
		r = r.WithContext(ctx)

		sw := util.NewStatusWriter(w)
		next.ServeHTTP(sw, r)

		status := sw.Status()
		elapsed := time.Since(start)
		endpoint := util.NormalizePath(r.URL.Path)

		s.Instrumentation.Metrics().RecordHTTPRequest(ctx, r.Method, endpoint, status,
			float64(elapsed.Microseconds())/1000.0)
		instrumentation.AddHTTPAttributes(span, r.Method, endpoint, status)
		instrumentation.SetSpanAttributes(span, instrumentation.RateLimiterAttr(string(class)))
		if s.Instrumentation.ShouldLogClientIPs() {
			instrumentation.AddSecurityAttributes(span,
				security.GetClientIP(r, s.config.RateLimit.TrustProxy, s.config.RateLimit.TrustedProxyCount))
		}
		if status >= http.StatusInternalServerError {
			instrumentation.RecordError(span, fmt.Errorf("handler returned %d", status))
		} else {
			instrumentation.SetSpanSuccess(span)
		}

		if !s.config.Audit.DisableAPICallRecords {
			userID, companyID := p.get()
			s.Auditor.LogAPICall(r, userID, companyID, status, elapsed)
		}
	})
}

// ResetLimit clears the counter for key in class, e.g. after a successful login
func (s *Server) ResetLimit(ctx context.Context, class security.LimitClass, key string) error {
	limiter := s.Limiters.Get(class)
	if limiter == nil {
		return fmt.Errorf("unknown limit class %q", class)
	}
	return limiter.Reset(ctx, key)
}

// Shutdown stops the background loops, drains the audit queue, and flushes
// instrumentation. It should be called after the HTTP server has stopped
// accepting requests. Safe to call more than once.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error

	s.shutdownOnce.Do(func() {
		if s.healthStop != nil {
			close(s.healthStop)
			<-s.healthDone
		}
		if s.Cache != nil {
			s.Cache.Stop()
		}
		if err := s.Auditor.Close(ctx); err != nil {
			errs = append(errs, err)
		}
		if err := s.Instrumentation.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shut down instrumentation: %w", err))
		}
		s.logger.Info("API guard stopped")
	})

	return errors.Join(errs...)
}

package security

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/scmhub/apiguard/internal/envelope"
)

// Rate limit response headers
const (
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
	HeaderRetryAfter         = "Retry-After"

	// ErrorCodeRateLimitExceeded is the machine-readable code of a 429 response
	ErrorCodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"

	rateLimitMessage = "Too many requests, please try again later."
)

// KeyFunc derives the rate limit key for a request
type KeyFunc func(r *http.Request) string

// ClientIPKey keys requests by client IP
func ClientIPKey(trustProxy bool, trustedProxyCount int) KeyFunc {
	return func(r *http.Request) string {
		return GetClientIP(r, trustProxy, trustedProxyCount)
	}
}

// RateLimitMiddleware admits each request through limiter before calling next.
//
// Every response carries the X-RateLimit-* headers. A denied request gets
// Retry-After and a 429 error envelope and never reaches next. auditor may be
// nil. Decision metrics are recorded by the limiter itself (see SetMetrics).
func RateLimitMiddleware(limiter *FixedWindowLimiter, keyFunc KeyFunc, auditor *Auditor, logger *slog.Logger) func(http.Handler) http.Handler {
	if keyFunc == nil {
		keyFunc = ClientIPKey(false, 0)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFunc(r)
			d := limiter.Admit(r.Context(), key)

			h := w.Header()
			h.Set(HeaderRateLimitLimit, strconv.Itoa(d.Limit))
			h.Set(HeaderRateLimitRemaining, strconv.Itoa(d.Remaining))
			h.Set(HeaderRateLimitReset, envelope.FormatTimestamp(d.ResetAt))

			if d.Allowed {
				next.ServeHTTP(w, r)
				return
			}

			logger.Warn("Rate limit exceeded",
				"limiter", limiter.Name(),
				"key", key,
				"path", r.URL.Path,
				"retry_after", d.RetryAfterSeconds)

			if auditor != nil {
				auditor.LogSecurity(r, "", "", EventRateLimitExceeded, false, map[string]any{
					"limiter": limiter.Name(),
					"path":    r.URL.Path,
					"method":  r.Method,
				})
			}

			retryAfter := d.RetryAfterSeconds
			h.Set(HeaderRetryAfter, strconv.Itoa(retryAfter))
			envelope.WriteError(w, http.StatusTooManyRequests, envelope.ErrorBody{
				Code:       ErrorCodeRateLimitExceeded,
				Message:    rateLimitMessage,
				RetryAfter: &retryAfter,
			}, GetRequestID(r.Context()), limiter.clock()())
		})
	}
}

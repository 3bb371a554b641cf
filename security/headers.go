package security

import (
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"
)

// DefaultHSTSMaxAge is sent when the server URL is https and HeaderConfig.HSTSMaxAge is zero
const DefaultHSTSMaxAge = 365 * 24 * time.Hour

// cspOrder fixes the position of well-known directives in the rendered
// policy. Unknown directives follow in lexical order.
var cspOrder = []string{
	"default-src",
	"script-src",
	"style-src",
	"img-src",
	"font-src",
	"connect-src",
	"media-src",
	"frame-src",
	"worker-src",
	"manifest-src",
	"frame-ancestors",
	"object-src",
	"base-uri",
	"form-action",
	"upgrade-insecure-requests",
}

// HeaderConfig configures SetSecurityHeaders
type HeaderConfig struct {
	// ServerURL enables HSTS when its scheme is https
	ServerURL string

	// HSTSMaxAge overrides the HSTS max-age (default one year)
	HSTSMaxAge time.Duration

	// CSPDirectives replace or extend DefaultCSPDirectives, keyed by directive
	// name. White-label tenants use this to allow their asset hosts. An empty
	// source list removes the directive.
	CSPDirectives map[string][]string
}

// DefaultCSPDirectives returns the baseline policy for API responses
func DefaultCSPDirectives() map[string][]string {
	return map[string][]string{
		"default-src":     {"'self'"},
		"frame-ancestors": {"'none'"},
		"object-src":      {"'none'"},
		"base-uri":        {"'self'"},
	}
}

// BuildCSP renders directives as a Content-Security-Policy value in a stable order
func BuildCSP(directives map[string][]string) string {
	names := make([]string, 0, len(directives))
	for name := range directives {
		names = append(names, name)
	}
	slices.SortFunc(names, func(a, b string) int {
		ia, ib := slices.Index(cspOrder, a), slices.Index(cspOrder, b)
		switch {
		case ia >= 0 && ib >= 0:
			return ia - ib
		case ia >= 0:
			return -1
		case ib >= 0:
			return 1
		default:
			return strings.Compare(a, b)
		}
	})

	parts := make([]string, 0, len(names))
	for _, name := range names {
		sources := directives[name]
		if len(sources) == 0 && name != "upgrade-insecure-requests" {
			continue
		}
		if len(sources) == 0 {
			parts = append(parts, name)
			continue
		}
		parts = append(parts, name+" "+strings.Join(sources, " "))
	}
	return strings.Join(parts, "; ")
}

// policy returns the merged CSP for cfg
func (cfg HeaderConfig) policy() string {
	directives := DefaultCSPDirectives()
	for name, sources := range cfg.CSPDirectives {
		directives[name] = sources
	}
	return BuildCSP(directives)
}

// hsts returns the Strict-Transport-Security value, or "" when HSTS does not apply
func (cfg HeaderConfig) hsts() string {
	parsed, err := url.Parse(cfg.ServerURL)
	if err != nil || parsed.Scheme != "https" {
		return ""
	}
	maxAge := cfg.HSTSMaxAge
	if maxAge <= 0 {
		maxAge = DefaultHSTSMaxAge
	}
	return "max-age=" + strconv.FormatInt(int64(maxAge.Seconds()), 10) + "; includeSubDomains"
}

// SetSecurityHeaders sets the standard hardening headers on w
func SetSecurityHeaders(w http.ResponseWriter, cfg HeaderConfig) {
	setSecurityHeaders(w.Header(), cfg.policy(), cfg.hsts())
}

func setSecurityHeaders(h http.Header, csp, hsts string) {
	h.Set("X-Frame-Options", "DENY")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("X-XSS-Protection", "1; mode=block")
	h.Set("Referrer-Policy", "no-referrer")
	h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
	h.Set("Content-Security-Policy", csp)
	if hsts != "" {
		h.Set("Strict-Transport-Security", hsts)
	}
}

// SecurityHeadersMiddleware applies SetSecurityHeaders to every response.
// The policy is rendered once.
func SecurityHeadersMiddleware(cfg HeaderConfig) func(http.Handler) http.Handler {
	csp, hsts := cfg.policy(), cfg.hsts()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			setSecurityHeaders(w.Header(), csp, hsts)
			next.ServeHTTP(w, r)
		})
	}
}

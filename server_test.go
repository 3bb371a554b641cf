package apiguard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/scmhub/apiguard/internal/testutil"
	"github.com/scmhub/apiguard/security"
	"github.com/scmhub/apiguard/storage"
	"github.com/scmhub/apiguard/storage/memory"
)

func newTestServer(t *testing.T, cfg *Config) (*Server, *memory.Store) {
	t.Helper()
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.HealthInterval = -1

	store := memory.New()
	s, err := NewServer(Stores{RateLimits: store, Cache: store, Audit: store}, cfg, discardLogger())
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	return s, store
}

func serve(h http.Handler, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, testutil.NewRequest(method, target, "198.51.100.7:5000"))
	return rec
}

func TestNewServer_RequiresRateLimitStore(t *testing.T) {
	_, err := NewServer(Stores{}, &Config{}, discardLogger())
	if err == nil {
		t.Fatal("expected error without a rate limit store")
	}
}

func TestNewServer_InvalidConfig(t *testing.T) {
	cfg := &Config{RateLimit: RateLimitConfig{API: LimitConfig{MaxRequests: -1}}}
	_, err := NewServer(Stores{RateLimits: memory.New()}, cfg, discardLogger())
	if err == nil {
		t.Fatal("expected error for invalid config")
	}
}

func TestNewServer_NoCacheStore(t *testing.T) {
	s, err := NewServer(Stores{RateLimits: memory.New()}, &Config{HealthInterval: -1}, discardLogger())
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	defer func() { _ = s.Shutdown(context.Background()) }()

	if s.Cache != nil {
		t.Error("cache should be nil without a cache store")
	}
	if s.Auditor.Enabled() {
		t.Error("auditor should be disabled without an audit store")
	}

	rec := serve(s.Handler(security.LimitAPI, testutil.JSONHandler(http.StatusOK, `{}`, nil)), http.MethodGet, "/api/items")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("X-Cache"); got != "" {
		t.Errorf("X-Cache = %q, want empty", got)
	}
}

func TestServer_RateLimitWindow(t *testing.T) {
	s, _ := newTestServer(t, &Config{
		RateLimit: RateLimitConfig{API: LimitConfig{Window: time.Second, MaxRequests: 2}},
	})
	clock := testutil.NewMockTime(testutil.DefaultTestTime)
	s.SetClock(clock.Now)

	h := s.Handler(security.LimitAPI, testutil.JSONHandler(http.StatusOK, `{"ok":true}`, nil))

	var statuses []int
	for i := 0; i < 3; i++ {
		// Distinct query strings keep every request a cache miss
		rec := serve(h, http.MethodGet, "/api/orders?page="+strconv.Itoa(i))
		statuses = append(statuses, rec.Code)
		if i == 2 {
			if got := rec.Header().Get(security.HeaderRetryAfter); got != "1" {
				t.Errorf("Retry-After = %q, want 1", got)
			}
			body := decodeEnvelope(t, rec)
			if body.Error.Code != ErrorCodeRateLimitExceeded {
				t.Errorf("code = %q, want %q", body.Error.Code, ErrorCodeRateLimitExceeded)
			}
			if body.Error.RetryAfter == nil || *body.Error.RetryAfter != 1 {
				t.Errorf("retryAfter = %v, want 1", body.Error.RetryAfter)
			}
			if body.RequestID == "" || body.RequestID != rec.Header().Get(security.RequestIDHeader) {
				t.Errorf("requestId = %q, header = %q", body.RequestID, rec.Header().Get(security.RequestIDHeader))
			}
		}
	}

	want := []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}
	for i := range want {
		if statuses[i] != want[i] {
			t.Fatalf("statuses = %v, want %v", statuses, want)
		}
	}

	clock.Advance(1100 * time.Millisecond)
	rec := serve(h, http.MethodGet, "/api/orders?page=9")
	if rec.Code != http.StatusOK {
		t.Fatalf("after window: status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get(security.HeaderRateLimitRemaining); got != "1" {
		t.Errorf("after window: remaining = %q, want 1", got)
	}
}

func TestServer_ClassesAreIndependent(t *testing.T) {
	s, _ := newTestServer(t, &Config{
		RateLimit: RateLimitConfig{Auth: LimitConfig{MaxRequests: 1}},
	})

	auth := s.Handler(security.LimitAuth, testutil.JSONHandler(http.StatusOK, `{}`, nil))
	api := s.Handler(security.LimitAPI, testutil.JSONHandler(http.StatusOK, `{}`, nil))

	if rec := serve(auth, http.MethodPost, "/auth/login"); rec.Code != http.StatusOK {
		t.Fatalf("first login: status = %d", rec.Code)
	}
	if rec := serve(auth, http.MethodPost, "/auth/login"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second login: status = %d, want 429", rec.Code)
	}
	if rec := serve(api, http.MethodGet, "/api/items"); rec.Code != http.StatusOK {
		t.Errorf("api request should not share the auth budget, status = %d", rec.Code)
	}
}

func TestServer_ResetLimit(t *testing.T) {
	s, _ := newTestServer(t, &Config{
		RateLimit: RateLimitConfig{Auth: LimitConfig{MaxRequests: 1}},
	})
	auth := s.Handler(security.LimitAuth, testutil.JSONHandler(http.StatusOK, `{}`, nil))

	serve(auth, http.MethodPost, "/auth/login")
	if rec := serve(auth, http.MethodPost, "/auth/login"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}

	if err := s.ResetLimit(context.Background(), security.LimitAuth, "198.51.100.7"); err != nil {
		t.Fatalf("ResetLimit() error = %v", err)
	}
	if rec := serve(auth, http.MethodPost, "/auth/login"); rec.Code != http.StatusOK {
		t.Errorf("after reset: status = %d, want 200", rec.Code)
	}

	if err := s.ResetLimit(context.Background(), security.LimitClass("bogus"), "x"); err == nil {
		t.Error("expected error for unknown class")
	}
}

func TestServer_CacheOnlyOnAPIClass(t *testing.T) {
	s, _ := newTestServer(t, nil)

	apiCalls, strictCalls := 0, 0
	api := s.Handler(security.LimitAPI, testutil.JSONHandler(http.StatusOK, `{"items":[]}`, &apiCalls))
	strict := s.Handler(security.LimitStrict, testutil.JSONHandler(http.StatusOK, `{"items":[]}`, &strictCalls))

	first := serve(api, http.MethodGet, "/api/items")
	second := serve(api, http.MethodGet, "/api/items")
	if got := first.Header().Get("X-Cache"); got != "MISS" {
		t.Errorf("first X-Cache = %q, want MISS", got)
	}
	if got := second.Header().Get("X-Cache"); got != "HIT" {
		t.Errorf("second X-Cache = %q, want HIT", got)
	}
	if second.Body.String() != `{"items":[]}` {
		t.Errorf("cached body = %q", second.Body.String())
	}
	if apiCalls != 1 {
		t.Errorf("api handler calls = %d, want 1", apiCalls)
	}

	serve(strict, http.MethodGet, "/admin/items")
	rec := serve(strict, http.MethodGet, "/admin/items")
	if got := rec.Header().Get("X-Cache"); got != "" {
		t.Errorf("strict X-Cache = %q, want empty", got)
	}
	if strictCalls != 2 {
		t.Errorf("strict handler calls = %d, want 2", strictCalls)
	}
}

func TestServer_WriteInvalidatesCache(t *testing.T) {
	s, _ := newTestServer(t, nil)

	calls := 0
	h := s.Handler(security.LimitAPI, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusCreated)
		}
		_, _ = w.Write([]byte(`{}`))
	}))

	serve(h, http.MethodGet, "/api/items")
	serve(h, http.MethodPost, "/api/items")
	rec := serve(h, http.MethodGet, "/api/items")

	if got := rec.Header().Get("X-Cache"); got != "MISS" {
		t.Errorf("X-Cache after write = %q, want MISS", got)
	}
	if calls != 3 {
		t.Errorf("handler calls = %d, want 3", calls)
	}
}

func TestServer_SecurityHeaders(t *testing.T) {
	s, _ := newTestServer(t, &Config{
		Security: SecurityConfig{ServerURL: "https://api.example.com"},
	})
	h := s.Handler(security.LimitStrict, testutil.JSONHandler(http.StatusOK, `{}`, nil))

	rec := serve(h, http.MethodGet, "/admin/settings")

	want := map[string]string{
		"X-Frame-Options":        "DENY",
		"X-Content-Type-Options": "nosniff",
		"Referrer-Policy":        "no-referrer",
	}
	for header, value := range want {
		if got := rec.Header().Get(header); got != value {
			t.Errorf("%s = %q, want %q", header, got, value)
		}
	}
	if rec.Header().Get("Content-Security-Policy") == "" {
		t.Error("Content-Security-Policy should be set")
	}
	if rec.Header().Get("Strict-Transport-Security") == "" {
		t.Error("Strict-Transport-Security should be set for an https server URL")
	}
}

func TestServer_RequestIDEchoed(t *testing.T) {
	s, _ := newTestServer(t, nil)
	h := s.Handler(security.LimitWebhook, testutil.JSONHandler(http.StatusOK, `{}`, nil))

	req := testutil.NewRequest(http.MethodPost, "/webhooks/stripe", "198.51.100.7:5000")
	req.Header.Set(security.RequestIDHeader, "client-req-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get(security.RequestIDHeader); got != "client-req-42" {
		t.Errorf("%s = %q, want client-req-42", security.RequestIDHeader, got)
	}
}

func TestServer_APICallAudit(t *testing.T) {
	s, store := newTestServer(t, nil)
	h := s.Handler(security.LimitAPI, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		SetPrincipal(r.Context(), "user-1", "company-9")
		WriteError(w, r, ErrNotFound("Order not found"))
	}))

	serve(h, http.MethodGet, "/api/orders/123")

	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	records := store.AuditRecords()
	if len(records) != 1 {
		t.Fatalf("got %d audit records, want 1", len(records))
	}
	rec := records[0]
	if rec.Action != security.EventAPICall {
		t.Errorf("action = %q, want %q", rec.Action, security.EventAPICall)
	}
	if rec.UserID != "user-1" || rec.CompanyID != "company-9" {
		t.Errorf("principal = (%q, %q), want (user-1, company-9)", rec.UserID, rec.CompanyID)
	}
	if rec.Success {
		t.Error("a 404 should be recorded as unsuccessful")
	}
	if rec.IPAddress != "198.51.100.7" {
		t.Errorf("ip = %q, want 198.51.100.7", rec.IPAddress)
	}
	if got := rec.Details["statusCode"]; got != http.StatusNotFound {
		t.Errorf("statusCode detail = %v, want 404", got)
	}
	if got := rec.Details["path"]; got != "/api/orders/123" {
		t.Errorf("path detail = %v", got)
	}
}

func TestServer_APICallRecordsDisabled(t *testing.T) {
	s, store := newTestServer(t, &Config{Audit: AuditConfig{DisableAPICallRecords: true}})
	h := s.Handler(security.LimitAPI, testutil.JSONHandler(http.StatusOK, `{}`, nil))

	serve(h, http.MethodGet, "/api/items")
	_ = s.Shutdown(context.Background())

	if n := len(store.AuditRecords()); n != 0 {
		t.Errorf("got %d audit records, want 0", n)
	}
}

func TestServer_RateLimitDenialIsAudited(t *testing.T) {
	s, store := newTestServer(t, &Config{
		Audit:     AuditConfig{DisableAPICallRecords: true},
		RateLimit: RateLimitConfig{Strict: LimitConfig{MaxRequests: 1}},
	})
	h := s.Handler(security.LimitStrict, testutil.JSONHandler(http.StatusOK, `{}`, nil))

	serve(h, http.MethodPost, "/admin/export")
	serve(h, http.MethodPost, "/admin/export")
	_ = s.Shutdown(context.Background())

	var found *storage.AuditRecord
	for _, r := range store.AuditRecords() {
		if r.Action == security.EventRateLimitExceeded {
			found = r
		}
	}
	if found == nil {
		t.Fatal("expected a RATE_LIMIT_EXCEEDED record")
	}
	if got := found.Details["limiter"]; got != string(security.LimitStrict) {
		t.Errorf("limiter detail = %v, want %s", got, security.LimitStrict)
	}
}

func TestServer_MiddlewareUnknownClassPanics(t *testing.T) {
	s, _ := newTestServer(t, nil)
	defer func() {
		if recover() == nil {
			t.Error("expected panic for unknown class")
		}
	}()
	s.Middleware(security.LimitClass("bogus"))
}

func TestServer_ShutdownIsIdempotent(t *testing.T) {
	cfg := &Config{HealthInterval: 10 * time.Millisecond}
	store := memory.New()
	s, err := NewServer(Stores{RateLimits: store, Cache: store, Audit: store}, cfg, discardLogger())
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("first Shutdown() error = %v", err)
	}
	if err := s.Shutdown(ctx); err != nil {
		t.Errorf("second Shutdown() error = %v", err)
	}
}

func TestServer_HealthHandler(t *testing.T) {
	s, _ := newTestServer(t, nil)
	api := s.Handler(security.LimitAPI, testutil.JSONHandler(http.StatusOK, `{}`, nil))
	serve(api, http.MethodGet, "/api/items")

	rec := serve(s.HealthHandler(), http.MethodGet, "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body HealthStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want ok", body.Status)
	}
	if body.RateLimitEntries == nil || *body.RateLimitEntries != 1 {
		t.Errorf("rate_limit_entries = %v, want 1", body.RateLimitEntries)
	}
	if body.CacheEntries == nil || *body.CacheEntries != 1 {
		t.Errorf("cache_entries = %v, want 1", body.CacheEntries)
	}
	if body.Memory.Goroutines == 0 {
		t.Error("goroutines should be reported")
	}
}

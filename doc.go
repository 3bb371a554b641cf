// Package apiguard provides a request-guard layer for HTTP APIs: fixed-window
// rate limiting per client, a GET response cache with write invalidation,
// security response headers, request IDs, and an asynchronous audit trail.
//
// # Architecture
//
// The library is split into focused packages:
//
//   - apiguard (root): Server wiring, configuration, error envelope
//   - security: limiters, rate limit middleware, auditor, headers, backup codes
//   - cache: GET response cache middleware
//   - storage: store interfaces with memory, valkey, and SQL (gorm) backends
//   - instrumentation: OpenTelemetry metrics and tracing
//
// # Basic Usage
//
//	store := memory.New()
//	guard, err := apiguard.NewServer(apiguard.Stores{
//		RateLimits: store,
//		Cache:      store,
//		Audit:      store,
//	}, &apiguard.Config{
//		Security: apiguard.SecurityConfig{ServerURL: "https://api.example.com"},
//	}, logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer guard.Shutdown(context.Background())
//
//	mux := http.NewServeMux()
//	mux.Handle("/api/products", guard.Handler(security.LimitAPI, productsHandler))
//	mux.Handle("/auth/login", guard.Handler(security.LimitAuth, loginHandler))
//	mux.Handle("/webhooks/stripe", guard.Handler(security.LimitWebhook, webhookHandler))
//
// Handlers attribute the per-request audit record by calling SetPrincipal
// once the caller is authenticated:
//
//	apiguard.SetPrincipal(r.Context(), user.ID, user.CompanyID)
//
// # Error Envelope
//
// Every error produced by the guard, and every error passed to WriteError,
// uses the same JSON shape:
//
//	{"success":false,"error":{"code":"RATE_LIMIT_EXCEEDED","message":"...","retryAfter":42},
//	 "timestamp":"2025-03-03T09:00:00.000Z","requestId":"..."}
//
// # Deployment
//
// Counters and cached responses live in the configured stores. With the memory
// store each replica limits and caches independently; use the valkey store to
// share state between replicas.
package apiguard

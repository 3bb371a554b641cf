// Package security implements the request guards of apiguard: fixed-window
// rate limiting, the asynchronous audit logger, backup codes for two-factor
// recovery, security headers, request IDs, and client IP extraction.
//
// # Rate Limiting
//
// A FixedWindowLimiter counts requests per key in windows of fixed length.
// Counters live in a storage.RateLimitStore, so the same limiter runs on the
// in-memory store in a single process or on valkey across replicas.
//
//	set, err := security.NewLimiterSet(store, nil, logger)
//	if err != nil {
//	    return err
//	}
//	mw := security.RateLimitMiddleware(set.Get(security.LimitAuth),
//	    security.ClientIPKey(cfg.TrustProxy, cfg.TrustedProxyCount), auditor, logger)
//	mux.Handle("POST /api/auth/login", mw(loginHandler))
//
// The four classes and their defaults:
//
//	api      100 requests / 15 minutes
//	strict    10 requests / 15 minutes
//	auth       5 requests / 15 minutes
//	webhook   60 requests / 1 minute
//
// When the store fails the request is admitted and a warning is logged.
// Rate limiting degrades; the API stays up.
//
// With the memory store each replica keeps its own counters, so the
// effective limit is multiplied by the replica count. The valkey store
// shares counters, but the read-increment-write in Admit is not atomic
// across replicas and concurrent requests on different replicas can both
// be admitted at the threshold.
//
// # Audit Logging
//
// The Auditor never fails or delays the request that triggered it. Log
// stamps an ID and timestamp, enqueues the record, and returns. Workers
// write to the storage.AuditStore with a context detached from the request.
// A full queue drops the record; store failures are logged at a throttled
// rate. Close drains the queue on shutdown.
//
// The auditor does not redact. Never pass passwords, tokens, or backup codes
// in Details.
//
// # Backup Codes
//
//	codes, _ := security.GenerateBackupCodes(10)  // show once to the user
//	hashes, _ := security.HashBackupCodes(codes) // persist these
//	if i := security.VerifyBackupCode(input, hashes); i != security.BackupCodeNotFound {
//	    // remove hashes[i] so the code cannot be reused
//	}
package security

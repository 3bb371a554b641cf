// Package memory provides an in-memory implementation of the apiguard storage interfaces.
//
// This package implements RateLimitStore, CacheStore, and AuditStore using Go maps
// with mutex protection. It is suitable for development, testing, and single-instance
// deployments where persistence is not required.
//
// Features:
//   - Thread-safe operations using sync.Mutex / sync.RWMutex
//   - Full-scan sweeps of expired counters and cached responses
//   - Defensive copies of cached payloads and audit details
//   - Bounded audit retention (oldest records discarded first)
//
// Counters and cache entries live in process memory only. With several replicas each
// keeps its own independent state, so rate limits multiply by the replica count. Use
// storage/valkey to share counters and cache between replicas.
//
// Example usage:
//
//	store := memory.New()
//	srv, _ := apiguard.NewServer(apiguard.Stores{
//	    RateLimits: store,
//	    Cache:      store,
//	    Audit:      store,
//	}, cfg, logger)
package memory

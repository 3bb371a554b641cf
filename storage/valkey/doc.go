// Package valkey provides a Valkey storage backend for apiguard.
//
// Valkey is a key-value store that is wire-compatible with Redis. This package
// implements [storage.RateLimitStore] and [storage.CacheStore] so that counters and
// cached responses are shared by every replica pointed at the same instance.
//
// # Key Schema
//
// All keys use a configurable prefix (default "apiguard:"):
//
//	{prefix}rl:{limiter}:{clientKey}   -> JSON(count, reset_at_ms)   (PX until window end)
//	{prefix}cache:GET:{path}?{query}   -> JSON(payload, status, ...) (PX until expiry)
//
// # Expiry
//
// Every key is written with a millisecond TTL, so Valkey removes expired entries
// itself and the Sweep methods are no-ops. Prefix invalidation uses SCAN with an
// escaped MATCH pattern followed by DEL.
//
// # Consistency
//
// The rate limiter performs get, increment, and set as separate commands. It is
// serialized per process only, so two replicas racing on the same key can each
// see the old count. Limits are approximate under that race.
//
// # Usage
//
//	store, err := valkey.New(valkey.Config{
//	    Address:   "localhost:6379",
//	    KeyPrefix: "supply:",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
package valkey

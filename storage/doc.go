// Package storage provides the persistence interfaces used by the request guard layer.
//
// The storage package defines three interfaces:
//   - RateLimitStore: fixed-window counters keyed by client identifier
//   - CacheStore: captured GET responses keyed by normalized URL
//   - AuditStore: append-only audit records
//
// Implementations are provided in subpackages:
//   - storage/memory: In-memory storage for single-instance deployments and testing
//   - storage/mock: Mock storage with failure injection for unit testing
//   - storage/valkey: Valkey/Redis-compatible shared storage for counters and cache
//   - storage/sql: GORM-backed audit log for PostgreSQL and SQLite
//
// The in-memory store is process-local. When the service runs with several
// replicas each one keeps its own counters and cache, so effective rate limits
// multiply by the replica count.
package storage

// Package storage defines interfaces for rate-limit counters, cached responses, and
// audit records. It supports in-memory, Valkey, and SQL backends.
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a key has no stored value
	ErrNotFound = errors.New("not found")

	// ErrInvalidKey is returned for empty or oversized keys
	ErrInvalidKey = errors.New("invalid key")

	// ErrInvalidRecord is returned when an audit record is missing required fields
	ErrInvalidRecord = errors.New("invalid audit record")
)

// MaxKeyLength bounds keys accepted by the stores (path + query of a request URL
// or a client identifier).
const MaxKeyLength = 2048

// RateLimitEntry is the fixed-window counter for one client key.
// Count only grows until ResetAt; after that the window starts over.
type RateLimitEntry struct {
	Count   int
	ResetAt time.Time
}

// Expired reports whether the window has elapsed at now.
func (e RateLimitEntry) Expired(now time.Time) bool {
	return !now.Before(e.ResetAt)
}

// RateLimitStore holds fixed-window counters.
// Implementations must be safe for concurrent use.
// All methods accept context.Context for tracing and cancellation.
type RateLimitStore interface {
	// GetRateLimit returns the entry for key. The second return is false if
	// no entry exists.
	GetRateLimit(ctx context.Context, key string) (RateLimitEntry, bool, error)

	// SetRateLimit stores the entry for key until entry.ResetAt.
	SetRateLimit(ctx context.Context, key string, entry RateLimitEntry) error

	// DeleteRateLimit removes the entry for key.
	DeleteRateLimit(ctx context.Context, key string) error

	// SweepRateLimits removes all entries whose window has elapsed at now and
	// returns how many were removed. TTL-native backends may return 0.
	SweepRateLimits(ctx context.Context, now time.Time) (int, error)
}

// CacheEntry is a captured response body.
type CacheEntry struct {
	Payload     []byte
	ContentType string
	StatusCode  int
	ExpiresAt   time.Time
}

// Expired reports whether the entry is stale at now.
func (e *CacheEntry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// CacheStore holds cached responses keyed by normalized request.
// Implementations must be safe for concurrent use.
type CacheStore interface {
	// GetCache returns the entry for key or ErrNotFound.
	// Stale entries may be returned; callers must check Expired.
	GetCache(ctx context.Context, key string) (*CacheEntry, error)

	// SetCache stores the entry until entry.ExpiresAt.
	SetCache(ctx context.Context, key string, entry *CacheEntry) error

	// DeleteCachePrefix removes every entry whose key starts with prefix and
	// returns how many were removed.
	DeleteCachePrefix(ctx context.Context, prefix string) (int, error)

	// SweepCache removes entries that are expired at now.
	SweepCache(ctx context.Context, now time.Time) (int, error)
}

// AuditRecord is one append-only audit log row.
type AuditRecord struct {
	ID        string
	UserID    string
	CompanyID string
	Action    string
	IPAddress string
	UserAgent string
	Success   bool
	Details   map[string]any
	Timestamp time.Time
}

// AuditStore persists audit records. Records are never read back, updated, or
// deleted through this interface.
type AuditStore interface {
	// AppendAuditRecord persists a single record.
	AppendAuditRecord(ctx context.Context, record *AuditRecord) error
}

// ValidateKey checks that a store key is non-empty and bounded.
func ValidateKey(key string) error {
	if key == "" || len(key) > MaxKeyLength {
		return ErrInvalidKey
	}
	return nil
}

// ValidateAuditRecord checks the fields every backend requires.
func ValidateAuditRecord(record *AuditRecord) error {
	if record == nil || record.ID == "" || record.Action == "" || record.Timestamp.IsZero() {
		return ErrInvalidRecord
	}
	return nil
}

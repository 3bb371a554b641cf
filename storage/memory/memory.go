// Package memory provides an in-memory implementation of all storage interfaces.
// It is suitable for development, testing, and single-instance deployments.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/scmhub/apiguard/instrumentation"
	"github.com/scmhub/apiguard/storage"
)

const (
	// DefaultMaxAuditRecords is how many audit records are retained before the
	// oldest are discarded
	DefaultMaxAuditRecords = 10000
)

// Store is an in-memory implementation of all storage interfaces.
// It implements RateLimitStore, CacheStore, and AuditStore.
type Store struct {
	rlMu       sync.Mutex
	rateLimits map[string]storage.RateLimitEntry

	cacheMu sync.RWMutex
	cache   map[string]*storage.CacheEntry

	auditMu         sync.Mutex
	auditRecords    []*storage.AuditRecord
	maxAuditRecords int

	// Instrumentation
	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer

	// Atomic counters for metrics (lock-free access during metric collection)
	rateLimitCountAtomic atomic.Int64
	cacheCountAtomic     atomic.Int64

	logger *slog.Logger
}

// Compile-time interface checks to ensure Store implements all storage interfaces
var (
	_ storage.RateLimitStore = (*Store)(nil)
	_ storage.CacheStore     = (*Store)(nil)
	_ storage.AuditStore     = (*Store)(nil)
)

// New creates a new in-memory store with the default audit retention
func New() *Store {
	return NewWithAuditCapacity(DefaultMaxAuditRecords)
}

// NewWithAuditCapacity creates a new in-memory store that keeps at most
// maxAuditRecords audit records. If maxAuditRecords is 0 or negative, uses the default.
func NewWithAuditCapacity(maxAuditRecords int) *Store {
	if maxAuditRecords <= 0 {
		maxAuditRecords = DefaultMaxAuditRecords
	}

	return &Store{
		rateLimits:      make(map[string]storage.RateLimitEntry),
		cache:           make(map[string]*storage.CacheEntry),
		maxAuditRecords: maxAuditRecords,
		logger:          slog.Default(),
	}
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetInstrumentation sets OpenTelemetry instrumentation for the store
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.instrumentation = inst
	if inst == nil {
		return
	}
	s.tracer = inst.Tracer("storage")

	err := inst.RegisterSizeCallbacks(
		func() int64 { return s.rateLimitCountAtomic.Load() },
		func() int64 { return s.cacheCountAtomic.Load() },
		nil,
	)
	if err != nil {
		s.logger.Warn("Failed to register storage size callbacks", "error", err)
	}
}

// ============================================================
// RateLimitStore Implementation
// ============================================================

// GetRateLimit returns the counter for key
func (s *Store) GetRateLimit(_ context.Context, key string) (storage.RateLimitEntry, bool, error) {
	s.rlMu.Lock()
	defer s.rlMu.Unlock()

	entry, ok := s.rateLimits[key]
	return entry, ok, nil
}

// SetRateLimit stores the counter for key
func (s *Store) SetRateLimit(_ context.Context, key string, entry storage.RateLimitEntry) error {
	if err := storage.ValidateKey(key); err != nil {
		return err
	}

	s.rlMu.Lock()
	defer s.rlMu.Unlock()

	s.rateLimits[key] = entry
	s.rateLimitCountAtomic.Store(int64(len(s.rateLimits)))
	return nil
}

// DeleteRateLimit removes the counter for key
func (s *Store) DeleteRateLimit(_ context.Context, key string) error {
	s.rlMu.Lock()
	defer s.rlMu.Unlock()

	delete(s.rateLimits, key)
	s.rateLimitCountAtomic.Store(int64(len(s.rateLimits)))
	return nil
}

// SweepRateLimits removes every counter whose window has elapsed.
// This is a full scan of the table.
func (s *Store) SweepRateLimits(_ context.Context, now time.Time) (int, error) {
	s.rlMu.Lock()
	defer s.rlMu.Unlock()

	removed := 0
	for key, entry := range s.rateLimits {
		if entry.Expired(now) {
			delete(s.rateLimits, key)
			removed++
		}
	}
	s.rateLimitCountAtomic.Store(int64(len(s.rateLimits)))
	return removed, nil
}

// RateLimitCount returns the number of tracked keys
func (s *Store) RateLimitCount() int {
	return int(s.rateLimitCountAtomic.Load())
}

// ============================================================
// CacheStore Implementation
// ============================================================

// GetCache returns the cached entry for key
func (s *Store) GetCache(_ context.Context, key string) (*storage.CacheEntry, error) {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()

	entry, ok := s.cache[key]
	if !ok {
		return nil, storage.ErrNotFound
	}

	// Copy so callers cannot mutate the stored payload
	out := *entry
	out.Payload = append([]byte(nil), entry.Payload...)
	return &out, nil
}

// SetCache stores a cached entry for key
func (s *Store) SetCache(_ context.Context, key string, entry *storage.CacheEntry) error {
	if err := storage.ValidateKey(key); err != nil {
		return err
	}
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}

	stored := *entry
	stored.Payload = append([]byte(nil), entry.Payload...)

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	s.cache[key] = &stored
	s.cacheCountAtomic.Store(int64(len(s.cache)))
	return nil
}

// DeleteCachePrefix removes all entries whose key starts with prefix
func (s *Store) DeleteCachePrefix(_ context.Context, prefix string) (int, error) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	removed := 0
	for key := range s.cache {
		if strings.HasPrefix(key, prefix) {
			delete(s.cache, key)
			removed++
		}
	}
	s.cacheCountAtomic.Store(int64(len(s.cache)))
	return removed, nil
}

// SweepCache removes every expired entry
func (s *Store) SweepCache(ctx context.Context, now time.Time) (int, error) {
	ctx, span := s.startStorageSpan(ctx, "sweep_cache")
	defer span.End()
	startTime := time.Now()

	s.cacheMu.Lock()
	removed := 0
	for key, entry := range s.cache {
		if entry.Expired(now) {
			delete(s.cache, key)
			removed++
		}
	}
	s.cacheCountAtomic.Store(int64(len(s.cache)))
	s.cacheMu.Unlock()

	s.recordStorageOperation(ctx, span, "sweep_cache", nil, startTime)

	if removed > 0 {
		s.logger.Debug("Cache sweep completed",
			"removed", removed,
			"remaining", s.cacheCountAtomic.Load())
	}
	return removed, nil
}

// CacheCount returns the number of cached entries, including stale ones not yet swept
func (s *Store) CacheCount() int {
	return int(s.cacheCountAtomic.Load())
}

// ============================================================
// AuditStore Implementation
// ============================================================

// AppendAuditRecord appends a record, discarding the oldest once capacity is reached
func (s *Store) AppendAuditRecord(ctx context.Context, record *storage.AuditRecord) error {
	ctx, span := s.startStorageSpan(ctx, "append_audit")
	defer span.End()
	startTime := time.Now()

	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "append_audit", err, startTime)
	}()

	if err = storage.ValidateAuditRecord(record); err != nil {
		return err
	}

	stored := *record
	if record.Details != nil {
		stored.Details = make(map[string]any, len(record.Details))
		for k, v := range record.Details {
			stored.Details[k] = v
		}
	}

	s.auditMu.Lock()
	defer s.auditMu.Unlock()

	if len(s.auditRecords) >= s.maxAuditRecords {
		s.auditRecords = s.auditRecords[1:]
	}
	s.auditRecords = append(s.auditRecords, &stored)
	return nil
}

// AuditRecords returns a snapshot of the retained records, oldest first
func (s *Store) AuditRecords() []*storage.AuditRecord {
	s.auditMu.Lock()
	defer s.auditMu.Unlock()

	out := make([]*storage.AuditRecord, len(s.auditRecords))
	copy(out, s.auditRecords)
	return out
}

// ============================================================
// Instrumentation helpers
// ============================================================

func (s *Store) startStorageSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}

	ctx, span := s.tracer.Start(ctx, fmt.Sprintf("storage.%s", operation))
	instrumentation.AddStorageAttributes(span, operation, "memory")
	return ctx, span
}

// recordStorageOperation records metrics for a storage operation and sets span status
func (s *Store) recordStorageOperation(ctx context.Context, span trace.Span, operation string, err error, startTime time.Time) {
	if s.instrumentation == nil {
		return
	}

	durationMs := float64(time.Since(startTime).Microseconds()) / 1000.0
	result := "success"
	if err != nil {
		result = "error"
	}
	instrumentation.AddStorageResult(span, err)

	s.instrumentation.Metrics().RecordStorageOperation(ctx, operation, result, durationMs)
}

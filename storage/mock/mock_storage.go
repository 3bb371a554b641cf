// Package mock provides mock implementations of storage interfaces for testing.
// Each mock delegates to an overridable Func field so tests can inject failures,
// latency, or panics, and records call counts.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/scmhub/apiguard/storage"
	"github.com/scmhub/apiguard/storage/memory"
)

// Compile-time interface checks
var (
	_ storage.RateLimitStore = (*MockRateLimitStore)(nil)
	_ storage.CacheStore     = (*MockCacheStore)(nil)
	_ storage.AuditStore     = (*MockAuditStore)(nil)
)

// callCounter is shared by the mocks
type callCounter struct {
	mu         sync.Mutex
	callCounts map[string]int
}

func (c *callCounter) inc(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.callCounts == nil {
		c.callCounts = make(map[string]int)
	}
	c.callCounts[name]++
}

// Calls returns how many times the named method was called
func (c *callCounter) Calls(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.callCounts[name]
}

// MockRateLimitStore is a mock implementation of RateLimitStore for testing.
// By default it delegates to an in-memory store.
type MockRateLimitStore struct {
	callCounter
	GetFunc    func(ctx context.Context, key string) (storage.RateLimitEntry, bool, error)
	SetFunc    func(ctx context.Context, key string, entry storage.RateLimitEntry) error
	DeleteFunc func(ctx context.Context, key string) error
	SweepFunc  func(ctx context.Context, now time.Time) (int, error)
}

// NewMockRateLimitStore creates a new mock rate limit store
func NewMockRateLimitStore() *MockRateLimitStore {
	backing := memory.New()
	return &MockRateLimitStore{
		GetFunc:    backing.GetRateLimit,
		SetFunc:    backing.SetRateLimit,
		DeleteFunc: backing.DeleteRateLimit,
		SweepFunc:  backing.SweepRateLimits,
	}
}

// GetRateLimit calls GetFunc
func (m *MockRateLimitStore) GetRateLimit(ctx context.Context, key string) (storage.RateLimitEntry, bool, error) {
	m.inc("GetRateLimit")
	return m.GetFunc(ctx, key)
}

// SetRateLimit calls SetFunc
func (m *MockRateLimitStore) SetRateLimit(ctx context.Context, key string, entry storage.RateLimitEntry) error {
	m.inc("SetRateLimit")
	return m.SetFunc(ctx, key, entry)
}

// DeleteRateLimit calls DeleteFunc
func (m *MockRateLimitStore) DeleteRateLimit(ctx context.Context, key string) error {
	m.inc("DeleteRateLimit")
	return m.DeleteFunc(ctx, key)
}

// SweepRateLimits calls SweepFunc
func (m *MockRateLimitStore) SweepRateLimits(ctx context.Context, now time.Time) (int, error) {
	m.inc("SweepRateLimits")
	return m.SweepFunc(ctx, now)
}

// MockCacheStore is a mock implementation of CacheStore for testing.
// By default it delegates to an in-memory store.
type MockCacheStore struct {
	callCounter
	GetFunc          func(ctx context.Context, key string) (*storage.CacheEntry, error)
	SetFunc          func(ctx context.Context, key string, entry *storage.CacheEntry) error
	DeletePrefixFunc func(ctx context.Context, prefix string) (int, error)
	SweepFunc        func(ctx context.Context, now time.Time) (int, error)
}

// NewMockCacheStore creates a new mock cache store
func NewMockCacheStore() *MockCacheStore {
	backing := memory.New()
	return &MockCacheStore{
		GetFunc:          backing.GetCache,
		SetFunc:          backing.SetCache,
		DeletePrefixFunc: backing.DeleteCachePrefix,
		SweepFunc:        backing.SweepCache,
	}
}

// GetCache calls GetFunc
func (m *MockCacheStore) GetCache(ctx context.Context, key string) (*storage.CacheEntry, error) {
	m.inc("GetCache")
	return m.GetFunc(ctx, key)
}

// SetCache calls SetFunc
func (m *MockCacheStore) SetCache(ctx context.Context, key string, entry *storage.CacheEntry) error {
	m.inc("SetCache")
	return m.SetFunc(ctx, key, entry)
}

// DeleteCachePrefix calls DeletePrefixFunc
func (m *MockCacheStore) DeleteCachePrefix(ctx context.Context, prefix string) (int, error) {
	m.inc("DeleteCachePrefix")
	return m.DeletePrefixFunc(ctx, prefix)
}

// SweepCache calls SweepFunc
func (m *MockCacheStore) SweepCache(ctx context.Context, now time.Time) (int, error) {
	m.inc("SweepCache")
	return m.SweepFunc(ctx, now)
}

// MockAuditStore is a mock implementation of AuditStore for testing.
// By default it keeps every appended record.
type MockAuditStore struct {
	callCounter
	mu         sync.Mutex
	records    []*storage.AuditRecord
	AppendFunc func(ctx context.Context, record *storage.AuditRecord) error
}

// NewMockAuditStore creates a new mock audit store
func NewMockAuditStore() *MockAuditStore {
	m := &MockAuditStore{}
	m.AppendFunc = func(_ context.Context, record *storage.AuditRecord) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.records = append(m.records, record)
		return nil
	}
	return m
}

// AppendAuditRecord calls AppendFunc
func (m *MockAuditStore) AppendAuditRecord(ctx context.Context, record *storage.AuditRecord) error {
	m.inc("AppendAuditRecord")
	return m.AppendFunc(ctx, record)
}

// Records returns the records kept by the default AppendFunc
func (m *MockAuditStore) Records() []*storage.AuditRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*storage.AuditRecord, len(m.records))
	copy(out, m.records)
	return out
}

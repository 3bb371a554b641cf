package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/scmhub/apiguard/instrumentation"
	"github.com/scmhub/apiguard/internal/testutil"
	"github.com/scmhub/apiguard/storage"
)

// ============================================================
// RateLimitStore Tests
// ============================================================

func TestStore_RateLimit_SetGet(t *testing.T) {
	store := New()
	ctx := context.Background()
	now := testutil.DefaultTestTime

	if _, ok, err := store.GetRateLimit(ctx, "api:203.0.113.7"); err != nil || ok {
		t.Fatalf("GetRateLimit() on empty store = ok %v, err %v; want false, nil", ok, err)
	}

	entry := storage.RateLimitEntry{Count: 3, ResetAt: now.Add(time.Minute)}
	if err := store.SetRateLimit(ctx, "api:203.0.113.7", entry); err != nil {
		t.Fatalf("SetRateLimit() error = %v", err)
	}

	got, ok, err := store.GetRateLimit(ctx, "api:203.0.113.7")
	if err != nil || !ok {
		t.Fatalf("GetRateLimit() = ok %v, err %v", ok, err)
	}
	if got != entry {
		t.Errorf("GetRateLimit() = %+v, want %+v", got, entry)
	}
	if store.RateLimitCount() != 1 {
		t.Errorf("RateLimitCount() = %d, want 1", store.RateLimitCount())
	}
}

func TestStore_RateLimit_InvalidKey(t *testing.T) {
	store := New()
	ctx := context.Background()

	err := store.SetRateLimit(ctx, "", storage.RateLimitEntry{Count: 1})
	if !errors.Is(err, storage.ErrInvalidKey) {
		t.Errorf("SetRateLimit(\"\") error = %v, want ErrInvalidKey", err)
	}

	err = store.SetRateLimit(ctx, strings.Repeat("k", storage.MaxKeyLength+1), storage.RateLimitEntry{Count: 1})
	if !errors.Is(err, storage.ErrInvalidKey) {
		t.Errorf("SetRateLimit(oversized) error = %v, want ErrInvalidKey", err)
	}
}

func TestStore_RateLimit_Delete(t *testing.T) {
	store := New()
	ctx := context.Background()

	_ = store.SetRateLimit(ctx, "auth:1.1.1.1", storage.RateLimitEntry{Count: 5, ResetAt: testutil.DefaultTestTime})
	if err := store.DeleteRateLimit(ctx, "auth:1.1.1.1"); err != nil {
		t.Fatalf("DeleteRateLimit() error = %v", err)
	}
	if _, ok, _ := store.GetRateLimit(ctx, "auth:1.1.1.1"); ok {
		t.Error("entry should be gone after DeleteRateLimit()")
	}
	if err := store.DeleteRateLimit(ctx, "missing"); err != nil {
		t.Errorf("DeleteRateLimit(missing) error = %v, want nil", err)
	}
}

func TestStore_SweepRateLimits(t *testing.T) {
	store := New()
	ctx := context.Background()
	now := testutil.DefaultTestTime

	_ = store.SetRateLimit(ctx, "expired", storage.RateLimitEntry{Count: 9, ResetAt: now.Add(-time.Second)})
	_ = store.SetRateLimit(ctx, "boundary", storage.RateLimitEntry{Count: 2, ResetAt: now})
	_ = store.SetRateLimit(ctx, "live", storage.RateLimitEntry{Count: 1, ResetAt: now.Add(time.Second)})

	removed, err := store.SweepRateLimits(ctx, now)
	if err != nil {
		t.Fatalf("SweepRateLimits() error = %v", err)
	}
	if removed != 2 {
		t.Errorf("SweepRateLimits() removed = %d, want 2", removed)
	}
	if _, ok, _ := store.GetRateLimit(ctx, "live"); !ok {
		t.Error("live entry should survive the sweep")
	}
	if store.RateLimitCount() != 1 {
		t.Errorf("RateLimitCount() = %d, want 1", store.RateLimitCount())
	}
}

// ============================================================
// CacheStore Tests
// ============================================================

func TestStore_Cache_SetGet(t *testing.T) {
	store := New()
	ctx := context.Background()
	now := testutil.DefaultTestTime

	entry := &storage.CacheEntry{
		Payload:     []byte(`{"forecast":[1,2,3]}`),
		ContentType: "application/json",
		StatusCode:  200,
		ExpiresAt:   now.Add(time.Minute),
	}
	if err := store.SetCache(ctx, "GET:/api/forecasts?", entry); err != nil {
		t.Fatalf("SetCache() error = %v", err)
	}

	// Mutating the caller's slice must not affect the stored copy
	entry.Payload[0] = 'X'

	got, err := store.GetCache(ctx, "GET:/api/forecasts?")
	if err != nil {
		t.Fatalf("GetCache() error = %v", err)
	}
	if string(got.Payload) != `{"forecast":[1,2,3]}` {
		t.Errorf("Payload = %q, want original bytes", got.Payload)
	}
	if got.ContentType != "application/json" || got.StatusCode != 200 {
		t.Errorf("GetCache() = %+v", got)
	}
}

func TestStore_Cache_NotFound(t *testing.T) {
	store := New()

	_, err := store.GetCache(context.Background(), "GET:/missing?")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetCache() error = %v, want ErrNotFound", err)
	}
}

func TestStore_Cache_NilEntry(t *testing.T) {
	store := New()

	if err := store.SetCache(context.Background(), "GET:/x?", nil); err == nil {
		t.Error("SetCache(nil) should return error")
	}
}

func TestStore_DeleteCachePrefix(t *testing.T) {
	store := New()
	ctx := context.Background()
	exp := testutil.DefaultTestTime.Add(time.Hour)

	for _, key := range []string{
		"GET:/api/suppliers?",
		"GET:/api/suppliers?page=2",
		"GET:/api/suppliers/7?",
		"GET:/api/shipments?",
	} {
		_ = store.SetCache(ctx, key, &storage.CacheEntry{Payload: []byte(`{}`), ExpiresAt: exp})
	}

	removed, err := store.DeleteCachePrefix(ctx, "GET:/api/suppliers")
	if err != nil {
		t.Fatalf("DeleteCachePrefix() error = %v", err)
	}
	if removed != 3 {
		t.Errorf("DeleteCachePrefix() removed = %d, want 3", removed)
	}
	if _, err := store.GetCache(ctx, "GET:/api/shipments?"); err != nil {
		t.Errorf("unrelated entry removed: %v", err)
	}
	if store.CacheCount() != 1 {
		t.Errorf("CacheCount() = %d, want 1", store.CacheCount())
	}
}

func TestStore_SweepCache(t *testing.T) {
	store := New()
	ctx := context.Background()
	now := testutil.DefaultTestTime

	_ = store.SetCache(ctx, "stale", &storage.CacheEntry{ExpiresAt: now.Add(-time.Millisecond)})
	_ = store.SetCache(ctx, "fresh", &storage.CacheEntry{ExpiresAt: now.Add(time.Minute)})

	removed, err := store.SweepCache(ctx, now)
	if err != nil {
		t.Fatalf("SweepCache() error = %v", err)
	}
	if removed != 1 {
		t.Errorf("SweepCache() removed = %d, want 1", removed)
	}
	if _, err := store.GetCache(ctx, "fresh"); err != nil {
		t.Errorf("fresh entry should survive: %v", err)
	}
}

// ============================================================
// AuditStore Tests
// ============================================================

func newRecord(i int) *storage.AuditRecord {
	return &storage.AuditRecord{
		ID:        fmt.Sprintf("rec-%d", i),
		UserID:    "user-1",
		CompanyID: "company-1",
		Action:    "LOGIN",
		IPAddress: "203.0.113.7",
		UserAgent: "Unknown",
		Success:   true,
		Details:   map[string]any{"n": i},
		Timestamp: testutil.DefaultTestTime,
	}
}

func TestStore_AppendAuditRecord(t *testing.T) {
	store := New()
	ctx := context.Background()

	rec := newRecord(1)
	if err := store.AppendAuditRecord(ctx, rec); err != nil {
		t.Fatalf("AppendAuditRecord() error = %v", err)
	}

	// Mutating the caller's details must not change the stored record
	rec.Details["n"] = 99

	records := store.AuditRecords()
	if len(records) != 1 {
		t.Fatalf("AuditRecords() len = %d, want 1", len(records))
	}
	if records[0].Details["n"] != 1 {
		t.Errorf("Details[n] = %v, want 1", records[0].Details["n"])
	}
}

func TestStore_AppendAuditRecord_Invalid(t *testing.T) {
	store := New()
	ctx := context.Background()

	tests := []struct {
		name   string
		record *storage.AuditRecord
	}{
		{"nil", nil},
		{"no id", &storage.AuditRecord{Action: "LOGIN", Timestamp: time.Now()}},
		{"no action", &storage.AuditRecord{ID: "x", Timestamp: time.Now()}},
		{"no timestamp", &storage.AuditRecord{ID: "x", Action: "LOGIN"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.AppendAuditRecord(ctx, tt.record)
			if !errors.Is(err, storage.ErrInvalidRecord) {
				t.Errorf("AppendAuditRecord() error = %v, want ErrInvalidRecord", err)
			}
		})
	}
}

func TestStore_AppendAuditRecord_Capacity(t *testing.T) {
	store := NewWithAuditCapacity(3)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := store.AppendAuditRecord(ctx, newRecord(i)); err != nil {
			t.Fatalf("AppendAuditRecord(%d) error = %v", i, err)
		}
	}

	records := store.AuditRecords()
	if len(records) != 3 {
		t.Fatalf("AuditRecords() len = %d, want 3", len(records))
	}
	if records[0].ID != "rec-2" || records[2].ID != "rec-4" {
		t.Errorf("retained ids = %s..%s, want rec-2..rec-4", records[0].ID, records[2].ID)
	}
}

func TestStore_Concurrent(t *testing.T) {
	store := New()
	ctx := context.Background()
	now := testutil.DefaultTestTime

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("k-%d", i%4)
			_ = store.SetRateLimit(ctx, key, storage.RateLimitEntry{Count: i, ResetAt: now.Add(time.Minute)})
			_, _, _ = store.GetRateLimit(ctx, key)
			_ = store.SetCache(ctx, "GET:/"+key+"?", &storage.CacheEntry{ExpiresAt: now.Add(time.Minute)})
			_, _ = store.SweepCache(ctx, now)
			_, _ = store.SweepRateLimits(ctx, now)
			_ = store.AppendAuditRecord(ctx, newRecord(i))
		}(i)
	}
	wg.Wait()

	if got := len(store.AuditRecords()); got != 20 {
		t.Errorf("AuditRecords() len = %d, want 20", got)
	}
}

func TestStore_SetInstrumentation(t *testing.T) {
	inst, err := instrumentation.New(instrumentation.Config{Enabled: true})
	if err != nil {
		t.Fatalf("instrumentation.New() error = %v", err)
	}
	defer func() { _ = inst.Shutdown(context.Background()) }()

	store := New()
	store.SetInstrumentation(inst)

	// Instrumented operations should not panic
	_ = store.AppendAuditRecord(context.Background(), newRecord(1))
	_, _ = store.SweepCache(context.Background(), time.Now())
}

package valkey

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scmhub/apiguard/storage"
)

// testStore creates a test store connected to a local Valkey instance.
// Tests will be skipped if the connection fails.
// Each test gets a unique prefix to ensure test isolation.
func testStore(t *testing.T) *Store {
	t.Helper()

	addr := os.Getenv("VALKEY_TEST_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	prefix := fmt.Sprintf("apiguardtest:%s:", t.Name())

	store, err := New(Config{
		Address:   addr,
		KeyPrefix: prefix,
	})
	if err != nil {
		t.Skipf("Skipping test: could not connect to Valkey at %s: %v", addr, err)
	}

	t.Cleanup(func() {
		cleanupTestKeys(t, store)
		store.Close()
	})

	cleanupTestKeys(t, store)
	return store
}

// cleanupTestKeys removes all test keys from Valkey
func cleanupTestKeys(t *testing.T, s *Store) {
	t.Helper()
	if _, err := s.scanDelete(context.Background(), escapeGlob(s.prefix)+"*"); err != nil {
		t.Logf("Warning: failed to clean up test keys: %v", err)
	}
}

func TestNew_RequiresAddress(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestEscapeGlob(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"GET:/api/suppliers", "GET:/api/suppliers"},
		{"GET:/a?b=1", `GET:/a\?b=1`},
		{"x*[y]", `x\*\[y\]`},
		{`back\slash`, `back\\slash`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, escapeGlob(tt.in))
	}
}

func TestTTLUntil(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Second, ttlUntil(now, now.Add(time.Second)))
	assert.Equal(t, time.Duration(0), ttlUntil(now, now))
	assert.Equal(t, time.Duration(0), ttlUntil(now, now.Add(-time.Minute)))
}

func TestStore_RateLimit(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	_, ok, err := store.GetRateLimit(ctx, "api:203.0.113.7")
	require.NoError(t, err)
	assert.False(t, ok)

	resetAt := time.Now().Add(time.Minute).Truncate(time.Millisecond)
	require.NoError(t, store.SetRateLimit(ctx, "api:203.0.113.7", storage.RateLimitEntry{Count: 4, ResetAt: resetAt}))

	got, ok, err := store.GetRateLimit(ctx, "api:203.0.113.7")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 4, got.Count)
	assert.True(t, got.ResetAt.Equal(resetAt), "ResetAt = %v, want %v", got.ResetAt, resetAt)

	require.NoError(t, store.DeleteRateLimit(ctx, "api:203.0.113.7"))
	_, ok, err = store.GetRateLimit(ctx, "api:203.0.113.7")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_RateLimit_ExpiresWithWindow(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetRateLimit(ctx, "auth:1.2.3.4",
		storage.RateLimitEntry{Count: 1, ResetAt: time.Now().Add(100 * time.Millisecond)}))

	time.Sleep(250 * time.Millisecond)

	_, ok, err := store.GetRateLimit(ctx, "auth:1.2.3.4")
	require.NoError(t, err)
	assert.False(t, ok, "entry should expire with its window")

	removed, err := store.SweepRateLimits(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
}

func TestStore_Cache(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	_, err := store.GetCache(ctx, "GET:/api/forecasts?")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	entry := &storage.CacheEntry{
		Payload:     []byte(`{"data":[{"sku":"A-1","qty":40}]}`),
		ContentType: "application/json",
		StatusCode:  200,
		ExpiresAt:   time.Now().Add(time.Minute),
	}
	require.NoError(t, store.SetCache(ctx, "GET:/api/forecasts?", entry))

	got, err := store.GetCache(ctx, "GET:/api/forecasts?")
	require.NoError(t, err)
	assert.Equal(t, entry.Payload, got.Payload)
	assert.Equal(t, "application/json", got.ContentType)
	assert.Equal(t, 200, got.StatusCode)
}

func TestStore_Cache_ExpiredEntryNotWritten(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetCache(ctx, "GET:/old?", &storage.CacheEntry{
		Payload:   []byte(`{}`),
		ExpiresAt: time.Now().Add(-time.Second),
	}))

	_, err := store.GetCache(ctx, "GET:/old?")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStore_DeleteCachePrefix(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	exp := time.Now().Add(time.Minute)

	for _, key := range []string{
		"GET:/api/suppliers?",
		"GET:/api/suppliers?page=2",
		"GET:/api/suppliers/7?",
		"GET:/api/shipments?",
	} {
		require.NoError(t, store.SetCache(ctx, key, &storage.CacheEntry{Payload: []byte(`{}`), ExpiresAt: exp}))
	}

	removed, err := store.DeleteCachePrefix(ctx, "GET:/api/suppliers")
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	_, err = store.GetCache(ctx, "GET:/api/shipments?")
	assert.NoError(t, err)
}

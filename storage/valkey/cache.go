package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/scmhub/apiguard/internal/util"
	"github.com/scmhub/apiguard/storage"
)

// cacheJSON is the JSON representation of a cached response
type cacheJSON struct {
	Payload     []byte `json:"payload"`
	ContentType string `json:"content_type,omitempty"`
	StatusCode  int    `json:"status_code"`
	ExpiresAt   int64  `json:"expires_at_ms"`
}

// GetCache returns the cached entry for key or storage.ErrNotFound
func (s *Store) GetCache(ctx context.Context, key string) (_ *storage.CacheEntry, err error) {
	defer s.record(ctx, "get_cache", time.Now(), &err)

	data, err := s.client.Do(ctx, s.client.B().Get().Key(s.cacheKey(key)).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get cache entry: %w", err)
	}

	var j cacheJSON
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache entry: %w", err)
	}

	return &storage.CacheEntry{
		Payload:     j.Payload,
		ContentType: j.ContentType,
		StatusCode:  j.StatusCode,
		ExpiresAt:   time.UnixMilli(j.ExpiresAt),
	}, nil
}

// SetCache stores a response; Valkey expires it at ExpiresAt
func (s *Store) SetCache(ctx context.Context, key string, entry *storage.CacheEntry) error {
	if err := storage.ValidateKey(key); err != nil {
		return err
	}
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}
	if len(entry.Payload) > MaxCachePayloadSize {
		return fmt.Errorf("cache payload exceeds %d bytes", MaxCachePayloadSize)
	}

	ttl := ttlUntil(time.Now(), entry.ExpiresAt)
	if ttl <= 0 {
		return nil
	}

	data, err := json.Marshal(cacheJSON{
		Payload:     entry.Payload,
		ContentType: entry.ContentType,
		StatusCode:  entry.StatusCode,
		ExpiresAt:   entry.ExpiresAt.UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	if err := s.client.Do(ctx,
		s.client.B().Set().Key(s.cacheKey(key)).Value(string(data)).Px(ttl).Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to save cache entry: %w", err)
	}

	s.logger.Debug("Saved cache entry", "key", util.SafeTruncate(key, keyLogLength), "ttl", ttl)
	return nil
}

// DeleteCachePrefix removes all cached responses whose key starts with prefix
func (s *Store) DeleteCachePrefix(ctx context.Context, prefix string) (removed int, err error) {
	defer s.record(ctx, "delete_cache_prefix", time.Now(), &err)

	removed, err = s.scanDelete(ctx, escapeGlob(s.cacheKey(prefix))+"*")
	if err != nil {
		return removed, fmt.Errorf("failed to invalidate cache prefix: %w", err)
	}
	return removed, nil
}

// SweepCache is a no-op: Valkey expires cached responses through key TTLs
func (s *Store) SweepCache(_ context.Context, _ time.Time) (int, error) {
	return 0, nil
}

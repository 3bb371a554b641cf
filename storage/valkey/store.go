package valkey

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"

	"github.com/scmhub/apiguard/instrumentation"
	"github.com/scmhub/apiguard/storage"
)

const (
	// DefaultKeyPrefix is the default prefix for all Valkey keys
	DefaultKeyPrefix = "apiguard:"

	// scanBatchSize is the number of keys to fetch per SCAN iteration
	scanBatchSize = 100

	// connectionVerifyTimeout is the timeout for initial connection verification
	connectionVerifyTimeout = 5 * time.Second

	// keyLogLength is the number of characters to include when logging keys
	keyLogLength = 48

	// MaxCachePayloadSize is the maximum size of a cached response body (1MB)
	MaxCachePayloadSize = 1024 * 1024
)

// Config holds configuration for the Valkey storage backend.
type Config struct {
	// Address is the Valkey server address (required), e.g., "localhost:6379"
	Address string

	// Password is the optional password for Valkey authentication
	Password string

	// DB is the optional database number (default 0)
	DB int

	// KeyPrefix is the prefix for all keys (default "apiguard:")
	KeyPrefix string

	// TLS is the optional TLS configuration for encrypted connections
	TLS *tls.Config

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger
}

// Store is a Valkey-backed implementation of RateLimitStore and CacheStore.
//
// Counters and cached responses are shared by every replica using the same
// instance. The limiter's read-modify-write is not atomic across replicas, so
// concurrent requests from one client hitting different replicas can undercount.
type Store struct {
	client  valkeygo.Client
	prefix  string
	logger  *slog.Logger
	metrics *instrumentation.Metrics
}

// Compile-time interface checks to ensure Store implements the storage interfaces
var (
	_ storage.RateLimitStore = (*Store)(nil)
	_ storage.CacheStore     = (*Store)(nil)
)

// New creates a new Valkey-backed storage instance.
// Returns an error if the connection cannot be established.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("valkey address is required")
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := valkeygo.ClientOption{
		InitAddress: []string{cfg.Address},
		SelectDB:    cfg.DB,
	}

	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	if cfg.TLS != nil {
		opts.TLSConfig = cfg.TLS
	}

	client, err := valkeygo.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	logger.Info("Connected to Valkey storage",
		"address", cfg.Address,
		"db", cfg.DB,
		"prefix", prefix)

	return &Store{
		client: client,
		prefix: prefix,
		logger: logger,
	}, nil
}

// Close closes the Valkey client connection.
func (s *Store) Close() {
	s.client.Close()
	s.logger.Info("Valkey storage connection closed")
}

// SetLogger sets a custom logger for the store.
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetInstrumentation enables storage operation metrics. Entry counts are not
// reported because counting keys would need a full SCAN.
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	if inst == nil {
		s.metrics = nil
		return
	}
	s.metrics = inst.Metrics()
}

// record reports one round trip; pass a pointer so deferred calls see the final error
func (s *Store) record(ctx context.Context, operation string, start time.Time, err *error) {
	result := "success"
	switch {
	case errors.Is(*err, storage.ErrNotFound):
		result = "not_found"
	case *err != nil:
		result = "error"
	}
	s.metrics.RecordStorageOperation(ctx, operation, result,
		float64(time.Since(start).Microseconds())/1000.0)
}

// ============================================================
// Key helpers
// ============================================================

func (s *Store) rateLimitKey(key string) string {
	return s.prefix + "rl:" + key
}

func (s *Store) cacheKey(key string) string {
	return s.prefix + "cache:" + key
}

// scanDelete deletes every key matching pattern and returns how many were deleted.
func (s *Store) scanDelete(ctx context.Context, pattern string) (int, error) {
	removed := 0
	var cursor uint64
	for {
		result, err := s.client.Do(ctx,
			s.client.B().Scan().Cursor(cursor).Match(pattern).Count(scanBatchSize).Build(),
		).AsScanEntry()
		if err != nil {
			return removed, fmt.Errorf("failed to scan keys: %w", err)
		}

		if len(result.Elements) > 0 {
			n, err := s.client.Do(ctx, s.client.B().Del().Key(result.Elements...).Build()).AsInt64()
			if err != nil {
				return removed, fmt.Errorf("failed to delete keys: %w", err)
			}
			removed += int(n)
		}

		cursor = result.Cursor
		if cursor == 0 {
			return removed, nil
		}
	}
}

// globEscaper escapes characters that are special in SCAN MATCH patterns
var globEscaper = strings.NewReplacer(
	`\`, `\\`,
	`*`, `\*`,
	`?`, `\?`,
	`[`, `\[`,
	`]`, `\]`,
)

func escapeGlob(s string) string {
	return globEscaper.Replace(s)
}

// ttlUntil returns the remaining lifetime for a key expiring at expiresAt.
// Returns 0 if the key has already expired.
func ttlUntil(now, expiresAt time.Time) time.Duration {
	ttl := expiresAt.Sub(now)
	if ttl <= 0 {
		return 0
	}
	return ttl
}

func isNilError(err error) bool {
	return valkeygo.IsValkeyNil(err)
}


package history

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mbd888/fraudswarm/internal/metrics"
)

const merchantKeyPrefix = "fraudswarm:merchant:"

// Cache is the subset of the Redis client the merchant cache needs.
// *redis.Client, *redis.ClusterClient and redis.UniversalClient satisfy it.
type Cache interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// cachedMerchant also records misses so unknown merchants are not
// re-queried on every transaction.
type cachedMerchant struct {
	Merchant *Merchant `json:"merchant,omitempty"`
	Missing  bool      `json:"missing,omitempty"`
}

// CachedStore is a Store whose merchant lookups are served read-through
// from Redis. Cache failures degrade to the underlying store.
type CachedStore struct {
	Store
	cache  Cache
	ttl    time.Duration
	logger *slog.Logger
}

// NewCachedStore wraps store with a merchant reputation cache.
func NewCachedStore(store Store, cache Cache, ttl time.Duration, logger *slog.Logger) *CachedStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedStore{Store: store, cache: cache, ttl: ttl, logger: logger}
}

// Merchant implements Store.
func (s *CachedStore) Merchant(ctx context.Context, name string) (*Merchant, error) {
	key := merchantKeyPrefix + name

	raw, err := s.cache.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var entry cachedMerchant
		if jsonErr := json.Unmarshal(raw, &entry); jsonErr == nil {
			metrics.MerchantCacheTotal.WithLabelValues("hit").Inc()
			if entry.Missing || entry.Merchant == nil {
				return nil, ErrNotFound
			}
			m := *entry.Merchant
			return &m, nil
		}
		metrics.MerchantCacheTotal.WithLabelValues("error").Inc()
		s.logger.Warn("discarding corrupt merchant cache entry", "merchant", name)
	case errors.Is(err, redis.Nil):
		metrics.MerchantCacheTotal.WithLabelValues("miss").Inc()
	default:
		metrics.MerchantCacheTotal.WithLabelValues("error").Inc()
		s.logger.Warn("merchant cache read failed", "merchant", name, "error", err)
	}

	m, err := s.Store.Merchant(ctx, name)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	entry := cachedMerchant{Merchant: m, Missing: m == nil}
	if payload, mErr := json.Marshal(entry); mErr == nil {
		if setErr := s.cache.Set(ctx, key, payload, s.ttl).Err(); setErr != nil {
			s.logger.Warn("merchant cache write failed", "merchant", name, "error", setErr)
		}
	}
	return m, err
}

package history

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCache struct {
	mu     sync.Mutex
	data   map[string]string
	ttls   map[string]time.Duration
	getErr error
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: make(map[string]string), ttls: make(map[string]time.Duration)}
}

func (f *fakeCache) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return redis.NewStringResult("", f.getErr)
	}
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeCache) Set(_ context.Context, key string, value interface{}, ttl time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch v := value.(type) {
	case []byte:
		f.data[key] = string(v)
	case string:
		f.data[key] = v
	}
	f.ttls[key] = ttl
	return redis.NewStatusResult("OK", nil)
}

// countingStore counts merchant lookups that reach the backing store.
type countingStore struct {
	*MemoryStore
	mu      sync.Mutex
	lookups int
}

func (c *countingStore) Merchant(ctx context.Context, name string) (*Merchant, error) {
	c.mu.Lock()
	c.lookups++
	c.mu.Unlock()
	return c.MemoryStore.Merchant(ctx, name)
}

func newCountingStore() *countingStore {
	mem := NewMemoryStore()
	mem.AddMerchant(Merchant{Name: "Amazon", Category: "retail", FraudRate: 0.02, TotalTransactions: 900}, nil)
	return &countingStore{MemoryStore: mem}
}

func TestCachedStore_ReadThrough(t *testing.T) {
	backing := newCountingStore()
	cache := newFakeCache()
	s := NewCachedStore(backing, cache, time.Minute, nil)

	first, err := s.Merchant(context.Background(), "Amazon")
	require.NoError(t, err)
	second, err := s.Merchant(context.Background(), "Amazon")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 0.02, second.FraudRate)
	assert.Equal(t, 1, backing.lookups)
	assert.Equal(t, time.Minute, cache.ttls[merchantKeyPrefix+"Amazon"])
}

func TestCachedStore_CachesMisses(t *testing.T) {
	backing := newCountingStore()
	s := NewCachedStore(backing, newFakeCache(), time.Minute, nil)

	_, err := s.Merchant(context.Background(), "Unknown Shop")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Merchant(context.Background(), "Unknown Shop")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, 1, backing.lookups)
}

func TestCachedStore_DegradesOnCacheError(t *testing.T) {
	backing := newCountingStore()
	cache := newFakeCache()
	cache.getErr = errors.New("connection refused")
	s := NewCachedStore(backing, cache, time.Minute, nil)

	m, err := s.Merchant(context.Background(), "Amazon")
	require.NoError(t, err)
	assert.Equal(t, "Amazon", m.Name)

	_, _ = s.Merchant(context.Background(), "Amazon")
	assert.Equal(t, 2, backing.lookups)
}

func TestCachedStore_CorruptEntryFallsBack(t *testing.T) {
	backing := newCountingStore()
	cache := newFakeCache()
	cache.data[merchantKeyPrefix+"Amazon"] = "{not json"
	s := NewCachedStore(backing, cache, time.Minute, nil)

	m, err := s.Merchant(context.Background(), "Amazon")
	require.NoError(t, err)
	assert.Equal(t, "Amazon", m.Name)
	assert.Equal(t, 1, backing.lookups)
}

func TestCachedStore_DelegatesOtherQueries(t *testing.T) {
	backing := newCountingStore()
	backing.AddTransaction(Record{UserID: "u1", Amount: 10, Timestamp: asOf.Add(-time.Minute)})
	s := NewCachedStore(backing, newFakeCache(), time.Minute, nil)

	got, err := s.RecentTransactions(context.Background(), "u1", asOf, time.Hour, 10)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

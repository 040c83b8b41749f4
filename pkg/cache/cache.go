// Package cache is a small namespaced key/value store with TTLs, backed by
// redis in production and by memory in tests and single-node setups.
package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned when a key does not exist or has expired.
var ErrMiss = errors.New("cache: key not found")

type Store interface {
	Set(ctx context.Context, namespace, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, namespace, key string) ([]byte, error)
	// GetDel returns the value and removes the key atomically.
	GetDel(ctx context.Context, namespace, key string) ([]byte, error)
	Delete(ctx context.Context, namespace, key string) error
}

func fullKey(namespace, key string) string {
	return namespace + ":" + key
}

// ============================================================================
// REDIS
// ============================================================================

type RedisStore struct {
	client redis.UniversalClient // works with both single and cluster
}

type RedisOptions struct {
	Addrs      []string
	Password   string
	DB         int
	UseCluster bool
}

func NewRedisStore(opts RedisOptions) *RedisStore {
	var rdb redis.UniversalClient

	if opts.UseCluster && len(opts.Addrs) > 1 {
		rdb = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:    opts.Addrs,
			Password: opts.Password,
		})
	} else {
		rdb = redis.NewClient(&redis.Options{
			Addr:     opts.Addrs[0],
			Password: opts.Password,
			DB:       opts.DB,
		})
	}

	return &RedisStore{client: rdb}
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Set(ctx context.Context, namespace, key string, value []byte, ttl time.Duration) error {
	return s.client.Set(ctx, fullKey(namespace, key), value, ttl).Err()
}

func (s *RedisStore) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	b, err := s.client.Get(ctx, fullKey(namespace, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	return b, err
}

func (s *RedisStore) GetDel(ctx context.Context, namespace, key string) ([]byte, error) {
	b, err := s.client.GetDel(ctx, fullKey(namespace, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	return b, err
}

func (s *RedisStore) Delete(ctx context.Context, namespace, key string) error {
	return s.client.Del(ctx, fullKey(namespace, key)).Err()
}

// ============================================================================
// MEMORY
// ============================================================================

type memoryEntry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

type MemoryStore struct {
	mu    sync.Mutex
	items map[string]memoryEntry
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[string]memoryEntry),
		now:   time.Now,
	}
}

func (s *MemoryStore) Set(_ context.Context, namespace, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.items[fullKey(namespace, key)] = e
	return nil
}

func (s *MemoryStore) Get(_ context.Context, namespace, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(fullKey(namespace, key))
	if !ok {
		return nil, ErrMiss
	}
	return append([]byte(nil), e.value...), nil
}

func (s *MemoryStore) GetDel(_ context.Context, namespace, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := fullKey(namespace, key)
	e, ok := s.lookup(k)
	if !ok {
		return nil, ErrMiss
	}
	delete(s.items, k)
	return e.value, nil
}

func (s *MemoryStore) Delete(_ context.Context, namespace, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, fullKey(namespace, key))
	return nil
}

// lookup must be called with mu held.
func (s *MemoryStore) lookup(k string) (memoryEntry, bool) {
	e, ok := s.items[k]
	if !ok {
		return memoryEntry{}, false
	}
	if !e.expiresAt.IsZero() && !s.now().Before(e.expiresAt) {
		delete(s.items, k)
		return memoryEntry{}, false
	}
	return e, true
}

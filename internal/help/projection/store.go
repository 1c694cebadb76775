package projection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store keeps cached reads and per-scope generation counters. Bumping a
// scope's generation makes every key built from the old generation
// unreachable, which is how invalidation works without key scans.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Generation(ctx context.Context, scope string) (int64, error)
	Bump(ctx context.Context, scope string) error
}

// RedisStore is the Store used in production.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func genKey(scope string) string {
	return fmt.Sprintf("help:gen:%s", scope)
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.rdb.Set(ctx, key, value, ttl).Err()
}

func (s *RedisStore) Generation(ctx context.Context, scope string) (int64, error) {
	n, err := s.rdb.Get(ctx, genKey(scope)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

func (s *RedisStore) Bump(ctx context.Context, scope string) error {
	return s.rdb.Incr(ctx, genKey(scope)).Err()
}

// MemoryStore is an in-process Store for single instance deployments and
// tests.
type MemoryStore struct {
	mu   sync.Mutex
	now  func() time.Time
	vals map[string]memEntry
	gens map[string]int64
}

const memoryPurgeAt = 4096

type memEntry struct {
	val     []byte
	expires time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:  time.Now,
		vals: make(map[string]memEntry),
		gens: make(map[string]int64),
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.vals[key]
	if !ok {
		return nil, false, nil
	}
	if !e.expires.IsZero() && !s.now().Before(e.expires) {
		delete(s.vals, key)
		return nil, false, nil
	}
	return e.val, true, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if len(s.vals) >= memoryPurgeAt {
		for k, e := range s.vals {
			if !e.expires.IsZero() && !now.Before(e.expires) {
				delete(s.vals, k)
			}
		}
	}
	e := memEntry{val: value}
	if ttl > 0 {
		e.expires = now.Add(ttl)
	}
	s.vals[key] = e
	return nil
}

func (s *MemoryStore) Generation(_ context.Context, scope string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gens[scope], nil
}

func (s *MemoryStore) Bump(_ context.Context, scope string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gens[scope]++
	return nil
}

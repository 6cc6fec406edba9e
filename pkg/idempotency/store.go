// Package idempotency remembers which events a service has already handled
// so redelivered messages are skipped.
package idempotency

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store records processed keys for a limited time.
type Store interface {
	Seen(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key string) error
}

type RedisStore struct {
	rdb    redis.UniversalClient
	ttl    time.Duration
	prefix string
}

func NewRedisStore(rdb redis.UniversalClient, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl, prefix: "processed:"}
}

func (s *RedisStore) Seen(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Exists(ctx, s.prefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("dedup lookup %s: %w", key, err)
	}
	return n > 0, nil
}

func (s *RedisStore) Mark(ctx context.Context, key string) error {
	if err := s.rdb.Set(ctx, s.prefix+key, time.Now().UTC().Format(time.RFC3339), s.ttl).Err(); err != nil {
		return fmt.Errorf("dedup mark %s: %w", key, err)
	}
	return nil
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu   sync.Mutex
	ttl  time.Duration
	now  func() time.Time
	seen map[string]time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{ttl: ttl, now: time.Now, seen: make(map[string]time.Time)}
}

func (s *MemoryStore) Seen(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.seen[key]
	if !ok {
		return false, nil
	}
	if s.ttl > 0 && !s.now().Before(exp) {
		delete(s.seen, key)
		return false, nil
	}
	return true, nil
}

func (s *MemoryStore) Mark(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen[key] = s.now().Add(s.ttl)
	return nil
}

package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// StateStore shares the open flag of each breaker between processes.
type StateStore interface {
	MarkOpen(ctx context.Context, name string, ttl time.Duration) error
	IsOpen(ctx context.Context, name string) (bool, error)
	Clear(ctx context.Context, name string) error
}

// MemoryStateStore keeps open flags in process. Used for tests and single-instance runs.
type MemoryStateStore struct {
	mu      sync.Mutex
	openTil map[string]time.Time
	now     func() time.Time
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{openTil: make(map[string]time.Time), now: time.Now}
}

func (s *MemoryStateStore) MarkOpen(_ context.Context, name string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.openTil[name] = s.now().Add(ttl)
	return nil
}

func (s *MemoryStateStore) IsOpen(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	until, ok := s.openTil[name]
	if !ok {
		return false, nil
	}
	if !s.now().Before(until) {
		delete(s.openTil, name)
		return false, nil
	}
	return true, nil
}

func (s *MemoryStateStore) Clear(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.openTil, name)
	return nil
}

// RedisStateStore stores open flags as keys with a TTL, so every worker sees them.
type RedisStateStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStateStore(client *redis.Client) *RedisStateStore {
	if client == nil {
		panic("redis client cannot be nil")
	}
	return &RedisStateStore{client: client, prefix: "circuit-breaker"}
}

func (s *RedisStateStore) key(name string) string {
	return fmt.Sprintf("%s:%s:open", s.prefix, name)
}

func (s *RedisStateStore) MarkOpen(ctx context.Context, name string, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.key(name), time.Now().Add(ttl).Unix(), ttl).Err(); err != nil {
		return fmt.Errorf("circuitbreaker: mark %s open: %w", name, err)
	}
	return nil
}

func (s *RedisStateStore) IsOpen(ctx context.Context, name string) (bool, error) {
	_, err := s.client.Get(ctx, s.key(name)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("circuitbreaker: read %s state: %w", name, err)
	}
	return true, nil
}

func (s *RedisStateStore) Clear(ctx context.Context, name string) error {
	if err := s.client.Del(ctx, s.key(name)).Err(); err != nil {
		return fmt.Errorf("circuitbreaker: clear %s: %w", name, err)
	}
	return nil
}

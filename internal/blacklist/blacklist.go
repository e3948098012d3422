// Package blacklist stores hard-declined cards in Redis.
package blacklist

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yourorg/purchase-gateway/internal/adapter"
)

const DefaultTTL = 365 * 24 * time.Hour

// RedisBlacklist implements adapter.CardBlacklistService.
type RedisBlacklist struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisBlacklist(client *redis.Client, ttl time.Duration) *RedisBlacklist {
	if client == nil {
		panic("redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisBlacklist{client: client, ttl: ttl}
}

func cardKey(c adapter.CardFingerprint) string {
	return fmt.Sprintf("card-blacklist:%s:%s:%02d:%04d", c.First6, c.Last4, c.ExpMonth, c.ExpYear)
}

func (b *RedisBlacklist) Check(ctx context.Context, card adapter.CardFingerprint) (bool, error) {
	n, err := b.client.Exists(ctx, cardKey(card)).Result()
	if err != nil {
		return false, fmt.Errorf("blacklist: check: %w", err)
	}
	return n > 0, nil
}

func (b *RedisBlacklist) Add(ctx context.Context, card adapter.CardFingerprint) error {
	if err := b.client.Set(ctx, cardKey(card), time.Now().UTC().Format(time.RFC3339), b.ttl).Err(); err != nil {
		return fmt.Errorf("blacklist: add: %w", err)
	}
	return nil
}

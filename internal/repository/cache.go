package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"vowsuite/internal/model"
)

// RedisBalanceCache fronts credit_accounts for read traffic. Postgres stays
// authoritative: entries carry no TTL and get rewritten after every committed
// mutation, and a cold or flushed cache just falls back to the database.
type RedisBalanceCache struct {
	rdb *redis.Client
}

func NewRedisBalanceCache(rdb *redis.Client) *RedisBalanceCache {
	return &RedisBalanceCache{rdb: rdb}
}

func balanceKey(adminID string) string {
	return fmt.Sprintf("balance:%s", adminID)
}

func (c *RedisBalanceCache) Get(ctx context.Context, adminID string) (*model.Balance, error) {
	data, err := c.rdb.Get(ctx, balanceKey(adminID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("cache get: %w", err)
	}
	var bal model.Balance
	if err := json.Unmarshal(data, &bal); err != nil {
		return nil, ErrCacheMiss
	}
	return &bal, nil
}

func (c *RedisBalanceCache) Set(ctx context.Context, adminID string, bal model.Balance) error {
	data, err := json.Marshal(bal)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, balanceKey(adminID), data, 0).Err()
}

func (c *RedisBalanceCache) Invalidate(ctx context.Context, adminID string) error {
	return c.rdb.Del(ctx, balanceKey(adminID)).Err()
}

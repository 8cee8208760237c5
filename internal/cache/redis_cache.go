package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"kasirinaja/dinein/internal/domain"
)

// NewRedisClient builds the client shared by the settlement cache and the
// realtime bridge.
func NewRedisClient(addr string, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

type RedisSettlementCache struct {
	client *redis.Client
	prefix string
}

func NewRedisSettlementCache(client *redis.Client) *RedisSettlementCache {
	return &RedisSettlementCache{client: client, prefix: "dinein:settlement:"}
}

func (c *RedisSettlementCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisSettlementCache) Get(ctx context.Context, invoiceID string) (*domain.SettlementStatus, bool, error) {
	val, err := c.client.Get(ctx, c.prefix+invoiceID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var status domain.SettlementStatus
	if err := json.Unmarshal([]byte(val), &status); err != nil {
		return nil, false, err
	}
	return &status, true, nil
}

func (c *RedisSettlementCache) Set(ctx context.Context, invoiceID string, value *domain.SettlementStatus, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.prefix+invoiceID, payload, ttl).Err()
}

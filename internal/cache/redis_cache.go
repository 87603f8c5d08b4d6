package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const sentKeyPrefix = "msg:"

type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

func (c *RedisCache) StoreSent(ctx context.Context, messageID, gatewayID string, sentAt time.Time) error {
	b, err := json.Marshal(SentEntry{
		GatewayID: gatewayID,
		SentAt:    sentAt.UTC(),
	})
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, sentKeyPrefix+messageID, b, c.ttl).Err()
}

func (c *RedisCache) LookupSent(ctx context.Context, messageID string) (SentEntry, bool, error) {
	raw, err := c.rdb.Get(ctx, sentKeyPrefix+messageID).Bytes()
	if errors.Is(err, redis.Nil) {
		return SentEntry{}, false, nil
	}
	if err != nil {
		return SentEntry{}, false, err
	}

	var e SentEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return SentEntry{}, false, err
	}
	return e, true, nil
}

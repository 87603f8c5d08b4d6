package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// LocalCache is the in-process MessageCache used when Redis is disabled.
type LocalCache struct {
	c *gocache.Cache
}

func NewLocalCache(ttl time.Duration) *LocalCache {
	return &LocalCache{c: gocache.New(ttl, ttl*2)}
}

func (c *LocalCache) StoreSent(ctx context.Context, messageID, gatewayID string, sentAt time.Time) error {
	c.c.SetDefault(sentKeyPrefix+messageID, SentEntry{GatewayID: gatewayID, SentAt: sentAt.UTC()})
	return nil
}

func (c *LocalCache) LookupSent(ctx context.Context, messageID string) (SentEntry, bool, error) {
	v, ok := c.c.Get(sentKeyPrefix + messageID)
	if !ok {
		return SentEntry{}, false, nil
	}
	return v.(SentEntry), true, nil
}

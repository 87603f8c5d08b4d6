package cache

import (
	"context"
	"time"
)

// MessageCache records successful deliveries for fast lookup by message id.
type MessageCache interface {
	StoreSent(ctx context.Context, messageID, gatewayID string, sentAt time.Time) error
	LookupSent(ctx context.Context, messageID string) (SentEntry, bool, error)
}

type SentEntry struct {
	GatewayID string    `json:"gatewayId"`
	SentAt    time.Time `json:"sentAt"`
}

// Locker serializes work per key. The returned unlock func is safe to call
// more than once.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

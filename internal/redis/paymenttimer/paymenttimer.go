// Package paymenttimer schedules prompt payment-deadline triggers as
// Redis TTL keys. The key expiry event wakes the payment watcher; the
// periodic sweep remains the durable fallback if Redis loses the key.
package paymenttimer

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyPrefix is shared with the payment watcher, which strips it from
// expired-key events to recover the auction ID.
const KeyPrefix = "pay_t:"

type RedisTimer struct {
	rdc *redis.Client
}

func New(rdc *redis.Client) *RedisTimer {
	return &RedisTimer{rdc: rdc}
}

func (t *RedisTimer) Schedule(ctx context.Context, auctionID string, dueAt time.Time) error {
	ttl := time.Until(dueAt)
	if ttl <= 0 {
		ttl = time.Second
	}
	return t.rdc.Set(ctx, KeyPrefix+auctionID, "1", ttl).Err()
}

func (t *RedisTimer) Cancel(ctx context.Context, auctionID string) error {
	return t.rdc.Del(ctx, KeyPrefix+auctionID).Err()
}

// Package bidlimiter keeps per-(auction, user) last-bid timestamps in
// Redis so the bid rate limit holds across service instances. Entries are
// overwritten on each accepted bid and expire on their own; nothing ever
// deletes them explicitly.
package bidlimiter

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "bidlim:"

type RedisLimiter struct {
	rdc    *redis.Client
	window time.Duration
}

func New(rdc *redis.Client, window time.Duration) *RedisLimiter {
	if window <= 0 {
		window = 2 * time.Second
	}
	return &RedisLimiter{rdc: rdc, window: window}
}

func (l *RedisLimiter) LastBidAt(ctx context.Context, auctionID, userID string) (time.Time, bool, error) {
	val, err := l.rdc.Get(ctx, key(auctionID, userID)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	nanos, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, false, err
	}
	return time.Unix(0, nanos), true, nil
}

// Record stores the accepted bid's timestamp. The key only needs to
// outlive the rate window: once it expires the user is allowed again.
func (l *RedisLimiter) Record(ctx context.Context, auctionID, userID string, at time.Time) error {
	return l.rdc.Set(ctx, key(auctionID, userID),
		strconv.FormatInt(at.UnixNano(), 10), l.window).Err()
}

func key(auctionID, userID string) string {
	return keyPrefix + auctionID + ":" + userID
}

// Package redis_client connects the shared keyspace used by the bid rate
// limiter and the payment-deadline timer.
package redis_client

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	maxPoolSize = 512
	pingTimeout = 5 * time.Second
)

// NewRedisClient dials Redis and verifies the connection before handing
// the client out. Limiter and timer traffic is small and bursty, so the
// pool scales with the CPU count up to a hard cap.
func NewRedisClient(host string, port int) (*redis.Client, error) {
	pool := runtime.NumCPU() * 8
	if pool > maxPoolSize {
		pool = maxPoolSize
	}

	rdc := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		PoolSize: pool,
	})

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := rdc.Ping(ctx).Err(); err != nil {
		zap.L().Error("redis_connect", zap.Error(err))
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return rdc, nil
}

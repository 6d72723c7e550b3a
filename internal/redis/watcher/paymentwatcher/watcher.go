package paymentwatcher

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"townmarket/internal/marketplace"
	"townmarket/internal/redis/paymenttimer"
	"townmarket/internal/services/settlement"
)

// Run listens to key-expiry events and re-offers overdue auctions.
// Run must be started once at service boot.
func Run(ctx context.Context, rdb *redis.Client, svc settlement.ISettlementService) {
	_ = rdb.ConfigSet(ctx, "notify-keyspace-events", "Ex").Err()
	ps := rdb.PSubscribe(ctx, "__keyevent@*__:expired")
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-ps.Channel():
			if !strings.HasPrefix(m.Payload, paymenttimer.KeyPrefix) {
				continue
			}
			id := strings.TrimPrefix(m.Payload, paymenttimer.KeyPrefix)
			_, err := svc.ExpireWinner(ctx, id, time.Now().UTC())
			switch {
			case err == nil:
			case errors.Is(err, marketplace.ErrNotOverdue),
				errors.Is(err, marketplace.ErrAlreadyPaid),
				errors.Is(err, marketplace.ErrAuctionNotFound):
				// lost the race against MarkPaid or the sweep
			default:
				zap.L().Error("paymentwatcher.expire", zap.String("auction", id), zap.Error(err))
			}
		}
	}
}

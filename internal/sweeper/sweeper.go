// Package sweeper is the durable enforcement of payment deadlines: it
// periodically scans pending_payment auctions whose deadline lapsed and
// re-offers each one. The Redis expiry watcher usually gets there first;
// the sweep catches anything the watcher missed.
package sweeper

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"townmarket/internal/database/auctionstore"
	"townmarket/internal/marketplace"
	"townmarket/internal/services/settlement"
)

const batchLimit = 100

// Run starts the sweep loop. Each candidate is independent across
// auctions, so a batch is processed by a bounded pool of workers.
func Run(ctx context.Context, db *sql.DB, svc settlement.ISettlementService, interval time.Duration, workers int) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if workers <= 0 {
		workers = 4
	}
	tk := time.NewTicker(interval)
	go func() {
		defer tk.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tk.C:
				sweepOnce(ctx, db, svc, workers)
			}
		}
	}()
}

func sweepOnce(ctx context.Context, db *sql.DB, svc settlement.ISettlementService, workers int) {
	now := time.Now().UTC()
	ids, err := auctionstore.ListOverdue(ctx, db, now, batchLimit)
	if err != nil {
		zap.L().Error("sweeper.list_overdue", zap.Error(err))
		return
	}
	if len(ids) == 0 {
		return
	}

	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	for _, id := range ids {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go func(auctionID string) {
			defer wg.Done()
			defer func() { <-sem }()
			expireOne(ctx, svc, auctionID, now)
		}(id)
	}
	wg.Wait()
}

func expireOne(ctx context.Context, svc settlement.ISettlementService, auctionID string, now time.Time) {
	res, err := svc.ExpireWinner(ctx, auctionID, now)
	switch {
	case err == nil:
		if res.Failed {
			zap.L().Warn("sweeper.auction_failed", zap.String("auction", auctionID))
		} else {
			zap.L().Info("sweeper.reoffered",
				zap.String("auction", auctionID),
				zap.String("new_winner", res.WinnerUserID),
			)
		}
	case errors.Is(err, marketplace.ErrNotOverdue),
		errors.Is(err, marketplace.ErrAlreadyPaid):
		// another instance or the watcher already handled it
	default:
		zap.L().Error("sweeper.expire", zap.String("auction", auctionID), zap.Error(err))
	}
}

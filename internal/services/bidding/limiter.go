package bidding

import (
	"context"
	"time"

	"townmarket/internal/database/bidledger"
	"townmarket/internal/database/db_client"
)

// LedgerLimiter derives the last bid time from the bid ledger itself.
// Suitable for single-node deployments; multi-instance setups should use
// the Redis-backed limiter so all instances share the rate-limit state.
type LedgerLimiter struct {
	db db_client.Querier
}

var _ Limiter = (*LedgerLimiter)(nil)

func NewLedgerLimiter(db db_client.Querier) *LedgerLimiter {
	return &LedgerLimiter{db: db}
}

func (l *LedgerLimiter) LastBidAt(ctx context.Context, auctionID, userID string) (time.Time, bool, error) {
	return bidledger.LastBidTime(ctx, l.db, auctionID, userID)
}

// Record is a no-op: the accepted bid's ledger row is the record.
func (l *LedgerLimiter) Record(ctx context.Context, auctionID, userID string, at time.Time) error {
	return nil
}

// Package bidledger is the append-only store of bids. It never validates
// amounts (that is the bid acceptor's job) and never deletes rows; the
// current leader is always derived by query, not cached.
package bidledger

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"townmarket/internal/database/db_client"
	"townmarket/internal/marketplace"
)

const bidColumns = `id, auction_id, user_id, amount_cents, created_at`

// Record appends a bid. Pure append: fails only on persistence failure.
func Record(ctx context.Context, q db_client.Querier, auctionID, userID string, amountCents int64, now time.Time) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx,
		`INSERT INTO bids (auction_id, user_id, amount_cents, created_at)
		      VALUES ($1, $2, $3, $4)
		   RETURNING id`,
		auctionID, userID, amountCents, now).Scan(&id)
	if err != nil {
		return 0, marketplace.Storagef("bidledger.record", err)
	}
	return id, nil
}

// Highest returns the current leading bid, ranked by
// (amount_cents DESC, created_at DESC) so a tie goes to the newest bid.
func Highest(ctx context.Context, q db_client.Querier, auctionID string) (marketplace.Bid, bool, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+bidColumns+`
		   FROM bids
		  WHERE auction_id = $1
		  ORDER BY amount_cents DESC, created_at DESC
		  LIMIT 1`, auctionID)
	return scanBid(row, "bidledger.highest")
}

// NextHighestExcluding returns the highest bid placed by anyone other
// than excludedUserID. Every bid of the excluded user is skipped, so a
// defaulter cannot win again through an earlier lower bid.
func NextHighestExcluding(ctx context.Context, q db_client.Querier, auctionID, excludedUserID string) (marketplace.Bid, bool, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+bidColumns+`
		   FROM bids
		  WHERE auction_id = $1 AND user_id <> $2
		  ORDER BY amount_cents DESC, created_at DESC
		  LIMIT 1`, auctionID, excludedUserID)
	return scanBid(row, "bidledger.next_highest")
}

// LastBidTime returns when the user last bid on this auction.
func LastBidTime(ctx context.Context, q db_client.Querier, auctionID, userID string) (time.Time, bool, error) {
	var at time.Time
	err := q.QueryRowContext(ctx,
		`SELECT created_at
		   FROM bids
		  WHERE auction_id = $1 AND user_id = $2
		  ORDER BY created_at DESC
		  LIMIT 1`, auctionID, userID).Scan(&at)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, marketplace.Storagef("bidledger.last_bid_time", err)
	}
	return at, true, nil
}

func Count(ctx context.Context, q db_client.Querier, auctionID string) (int, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT count(*) FROM bids WHERE auction_id = $1`, auctionID).Scan(&n)
	if err != nil {
		return 0, marketplace.Storagef("bidledger.count", err)
	}
	return n, nil
}

// History lists the most recent bids first, for the auction detail view.
func History(ctx context.Context, q db_client.Querier, auctionID string, limit int) ([]marketplace.Bid, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := q.QueryContext(ctx,
		`SELECT `+bidColumns+`
		   FROM bids
		  WHERE auction_id = $1
		  ORDER BY created_at DESC
		  LIMIT $2`, auctionID, limit)
	if err != nil {
		return nil, marketplace.Storagef("bidledger.history", err)
	}
	defer rows.Close()

	out := make([]marketplace.Bid, 0, limit)
	for rows.Next() {
		var b marketplace.Bid
		if err := rows.Scan(&b.ID, &b.AuctionID, &b.UserID, &b.AmountCents, &b.CreatedAt); err != nil {
			return nil, marketplace.Storagef("bidledger.history", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, marketplace.Storagef("bidledger.history", err)
	}
	return out, nil
}

func scanBid(row *sql.Row, op string) (marketplace.Bid, bool, error) {
	var b marketplace.Bid
	err := row.Scan(&b.ID, &b.AuctionID, &b.UserID, &b.AmountCents, &b.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return marketplace.Bid{}, false, nil
	}
	if err != nil {
		return marketplace.Bid{}, false, marketplace.Storagef(op, err)
	}
	return b, true, nil
}

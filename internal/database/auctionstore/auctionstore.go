// Package auctionstore holds the mutable auction record. Status writes are
// funneled through marketplace.Transition so an illegal transition can
// never reach the table, no matter which call site attempts it.
package auctionstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"townmarket/internal/database/db_client"
	"townmarket/internal/marketplace"
)

const auctionColumns = `id, listing_id, start_at, end_at, start_bid_cents,
	min_increment_cents, reserve_cents, buy_now_cents, status,
	winning_bid_id, winner_user_id, payment_due_at, payment_status`

// StateUpdate is the full mutable shape of an auction row. Settlement
// always writes all of it, so a partial update can never leave the
// winner/deadline fields inconsistent with the status.
type StateUpdate struct {
	Status        marketplace.Status
	WinningBidID  *int64
	WinnerUserID  *string
	PaymentDueAt  *time.Time
	PaymentStatus marketplace.PaymentStatus
}

func Get(ctx context.Context, q db_client.Querier, auctionID string) (marketplace.Auction, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+auctionColumns+` FROM auctions WHERE id = $1`, auctionID)
	return scanAuction(row, "auctionstore.get")
}

// GetByListing resolves the auction attached to a listing. A listing that
// exists but never opted into bidding is ErrNotAnAuction, not a 404.
func GetByListing(ctx context.Context, q db_client.Querier, listingID string) (marketplace.Auction, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+auctionColumns+` FROM auctions WHERE listing_id = $1`, listingID)
	a, err := scanAuction(row, "auctionstore.get_by_listing")
	if !errors.Is(err, marketplace.ErrAuctionNotFound) {
		return a, err
	}

	var exists bool
	if err := q.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM listings WHERE id = $1)`, listingID).Scan(&exists); err != nil {
		return marketplace.Auction{}, marketplace.Storagef("auctionstore.get_by_listing", err)
	}
	if exists {
		return marketplace.Auction{}, marketplace.ErrNotAnAuction
	}
	return marketplace.Auction{}, marketplace.ErrAuctionNotFound
}

// GetForUpdate locks the auction row for the duration of the surrounding
// transaction. Close, ExpireWinner and MarkPaid serialize on this lock.
func GetForUpdate(ctx context.Context, tx db_client.Querier, auctionID string) (marketplace.Auction, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+auctionColumns+` FROM auctions WHERE id = $1 FOR UPDATE`, auctionID)
	return scanAuction(row, "auctionstore.get_for_update")
}

// UpdateState applies a full state update after checking the transition
// against the row the caller read under lock.
func UpdateState(ctx context.Context, q db_client.Querier, current marketplace.Auction, upd StateUpdate) error {
	if err := marketplace.Transition(current.Status, upd.Status); err != nil {
		return err
	}
	res, err := q.ExecContext(ctx,
		`UPDATE auctions
		    SET status = $2,
		        winning_bid_id = $3,
		        winner_user_id = $4,
		        payment_due_at = $5,
		        payment_status = $6
		  WHERE id = $1`,
		current.ID, upd.Status, upd.WinningBidID, upd.WinnerUserID,
		upd.PaymentDueAt, upd.PaymentStatus)
	if err != nil {
		return marketplace.Storagef("auctionstore.update_state", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return marketplace.Storagef("auctionstore.update_state", err)
	}
	if n == 0 {
		return marketplace.ErrConcurrentModification
	}
	return nil
}

// Create opens a new auction in active state alongside its listing.
func Create(ctx context.Context, q db_client.Querier, a marketplace.Auction) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO auctions (id, listing_id, start_at, end_at,
		        start_bid_cents, min_increment_cents, reserve_cents,
		        buy_now_cents, status, payment_status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ID, a.ListingID, a.StartAt, a.EndAt, a.StartBidCents,
		a.MinIncrementCents, a.ReserveCents, a.BuyNowCents,
		marketplace.StatusActive, marketplace.PaymentNone)
	if err != nil {
		return marketplace.Storagef("auctionstore.create", err)
	}
	return nil
}

// ListOverdue returns pending_payment auctions whose payment deadline has
// lapsed; the sweep feeds these to ExpireWinner.
func ListOverdue(ctx context.Context, q db_client.Querier, now time.Time, limit int) ([]string, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id FROM auctions
		  WHERE status = $1 AND payment_due_at <= $2
		  ORDER BY payment_due_at
		  LIMIT $3`,
		marketplace.StatusPendingPayment, now, limit)
	if err != nil {
		return nil, marketplace.Storagef("auctionstore.list_overdue", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, marketplace.Storagef("auctionstore.list_overdue", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, marketplace.Storagef("auctionstore.list_overdue", err)
	}
	return ids, nil
}

// List returns auctions for the browse view, newest deadline first.
func List(ctx context.Context, q db_client.Querier, status marketplace.Status, limit, offset int) ([]marketplace.Auction, error) {
	if limit == 0 {
		limit = 10
	}
	var (
		rows *sql.Rows
		err  error
	)
	base := `SELECT ` + auctionColumns + ` FROM auctions`
	if status != "" {
		rows, err = q.QueryContext(ctx,
			base+` WHERE status = $1 ORDER BY end_at DESC LIMIT $2 OFFSET $3`,
			status, limit, offset)
	} else {
		rows, err = q.QueryContext(ctx,
			base+` ORDER BY end_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	}
	if err != nil {
		return nil, marketplace.Storagef("auctionstore.list", err)
	}
	defer rows.Close()

	list := make([]marketplace.Auction, 0, limit)
	for rows.Next() {
		a, err := scanAuctionRow(rows)
		if err != nil {
			return nil, marketplace.Storagef("auctionstore.list", err)
		}
		list = append(list, a)
	}
	return list, rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanAuction(row *sql.Row, op string) (marketplace.Auction, error) {
	a, err := scanAuctionRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return marketplace.Auction{}, marketplace.ErrAuctionNotFound
	}
	if err != nil {
		return marketplace.Auction{}, marketplace.Storagef(op, err)
	}
	return a, nil
}

func scanAuctionRow(row scannable) (marketplace.Auction, error) {
	var (
		a       marketplace.Auction
		reserve sql.NullInt64
		buyNow  sql.NullInt64
		winBid  sql.NullInt64
		winner  sql.NullString
		dueAt   sql.NullTime
	)
	err := row.Scan(&a.ID, &a.ListingID, &a.StartAt, &a.EndAt,
		&a.StartBidCents, &a.MinIncrementCents, &reserve, &buyNow,
		&a.Status, &winBid, &winner, &dueAt, &a.PaymentStatus)
	if err != nil {
		return marketplace.Auction{}, err
	}
	if reserve.Valid {
		a.ReserveCents = &reserve.Int64
	}
	if buyNow.Valid {
		a.BuyNowCents = &buyNow.Int64
	}
	if winBid.Valid {
		a.WinningBidID = &winBid.Int64
	}
	if winner.Valid {
		a.WinnerUserID = &winner.String
	}
	if dueAt.Valid {
		a.PaymentDueAt = &dueAt.Time
	}
	return a, nil
}

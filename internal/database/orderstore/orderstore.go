// Package orderstore persists the monetary obligations the settlement
// coordinator creates. Each change of obligor gets a fresh order row; the
// replaced obligor's order is cancelled, never reused.
package orderstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"townmarket/internal/database/db_client"
	"townmarket/internal/marketplace"
)

const orderColumns = `id, auction_id, listing_id, buyer_user_id,
	subtotal_cents, service_fee_cents, total_cents, status, created_at`

// Create inserts a pending_payment order for the given obligor. The
// service fee and total are computed here so every order carries them.
func Create(ctx context.Context, q db_client.Querier, auctionID, listingID, buyerUserID string, subtotalCents int64, now time.Time) (marketplace.Order, error) {
	fee, total := marketplace.OrderTotals(subtotalCents)
	o := marketplace.Order{
		ID:              uuid.NewString(),
		AuctionID:       auctionID,
		ListingID:       listingID,
		BuyerUserID:     buyerUserID,
		SubtotalCents:   subtotalCents,
		ServiceFeeCents: fee,
		TotalCents:      total,
		Status:          marketplace.OrderPendingPayment,
		CreatedAt:       now,
	}
	_, err := q.ExecContext(ctx,
		`INSERT INTO orders (id, auction_id, listing_id, buyer_user_id,
		        subtotal_cents, service_fee_cents, total_cents, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		o.ID, o.AuctionID, o.ListingID, o.BuyerUserID,
		o.SubtotalCents, o.ServiceFeeCents, o.TotalCents, o.Status, o.CreatedAt)
	if err != nil {
		return marketplace.Order{}, marketplace.Storagef("orderstore.create", err)
	}
	return o, nil
}

func Get(ctx context.Context, q db_client.Querier, orderID string) (marketplace.Order, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID)
	return scanOrder(row, "orderstore.get")
}

// GetForUpdate locks the order row inside the caller's transaction.
func GetForUpdate(ctx context.Context, tx db_client.Querier, orderID string) (marketplace.Order, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, orderID)
	return scanOrder(row, "orderstore.get_for_update")
}

func MarkPaid(ctx context.Context, q db_client.Querier, orderID string) error {
	return setStatus(ctx, q, orderID, marketplace.OrderPaid, "orderstore.mark_paid")
}

// Cancel retires the order of a replaced obligor.
func Cancel(ctx context.Context, q db_client.Querier, orderID string) error {
	return setStatus(ctx, q, orderID, marketplace.OrderCancelled, "orderstore.cancel")
}

// CancelOpenForAuction retires every still-pending order on the auction,
// keeping a single live order per (auction, obligor). Zero rows is fine:
// the defaulted order may already have been cancelled.
func CancelOpenForAuction(ctx context.Context, q db_client.Querier, auctionID string) error {
	_, err := q.ExecContext(ctx,
		`UPDATE orders SET status = $2 WHERE auction_id = $1 AND status = $3`,
		auctionID, marketplace.OrderCancelled, marketplace.OrderPendingPayment)
	if err != nil {
		return marketplace.Storagef("orderstore.cancel_open", err)
	}
	return nil
}

func setStatus(ctx context.Context, q db_client.Querier, orderID string, st marketplace.OrderStatus, op string) error {
	res, err := q.ExecContext(ctx,
		`UPDATE orders SET status = $2 WHERE id = $1`, orderID, st)
	if err != nil {
		return marketplace.Storagef(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return marketplace.Storagef(op, err)
	}
	if n == 0 {
		return marketplace.ErrOrderNotFound
	}
	return nil
}

func scanOrder(row *sql.Row, op string) (marketplace.Order, error) {
	var o marketplace.Order
	err := row.Scan(&o.ID, &o.AuctionID, &o.ListingID, &o.BuyerUserID,
		&o.SubtotalCents, &o.ServiceFeeCents, &o.TotalCents, &o.Status, &o.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return marketplace.Order{}, marketplace.ErrOrderNotFound
	}
	if err != nil {
		return marketplace.Order{}, marketplace.Storagef(op, err)
	}
	return o, nil
}

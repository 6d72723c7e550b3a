// Package inventory is the listing-side collaborator: terminal settlement
// outcomes mark the underlying item sold or release it for re-listing.
package inventory

import (
	"context"
	"database/sql"
	"errors"

	"townmarket/internal/database/db_client"
	"townmarket/internal/marketplace"
)

// MarkItemSold decrements stock and flags the listing sold. Runs inside
// the caller's settlement transaction.
func MarkItemSold(ctx context.Context, q db_client.Querier, listingID string) error {
	_, err := q.ExecContext(ctx,
		`UPDATE listings
		    SET sold = TRUE,
		        quantity = GREATEST(quantity - 1, 0)
		  WHERE id = $1`, listingID)
	if err != nil {
		return marketplace.Storagef("inventory.mark_sold", err)
	}
	return nil
}

// MarkItemUnsold releases the item after a failed settlement. The listing
// must be re-listed manually; nothing here re-opens the auction.
func MarkItemUnsold(ctx context.Context, q db_client.Querier, listingID string) error {
	_, err := q.ExecContext(ctx,
		`UPDATE listings SET sold = FALSE WHERE id = $1`, listingID)
	if err != nil {
		return marketplace.Storagef("inventory.mark_unsold", err)
	}
	return nil
}

// Owner returns the listing owner, for the close-permission check.
func Owner(ctx context.Context, q db_client.Querier, listingID string) (string, error) {
	var owner string
	err := q.QueryRowContext(ctx,
		`SELECT owner_id FROM listings WHERE id = $1`, listingID).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return "", marketplace.ErrAuctionNotFound
	}
	if err != nil {
		return "", marketplace.Storagef("inventory.owner", err)
	}
	return owner, nil
}

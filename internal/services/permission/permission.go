// Package permission gates marketplace actions on the user's trust tier.
package permission

import (
	"context"
	"database/sql"
	"errors"

	"townmarket/internal/database/db_client"
	"townmarket/internal/marketplace"
)

// Trust tiers. New accounts start as visitors and are promoted through
// community standing; tier data itself is managed outside this service.
const (
	TierVisitor = 0
	TierMember  = 1
	TierTrusted = 2
	TierAdmin   = 3
)

type Gate interface {
	CanBid(ctx context.Context, userID string) (bool, error)
	CanHostAuction(ctx context.Context, userID string) (bool, error)
	// CanCloseAuction is true for the listing owner and for admins.
	CanCloseAuction(ctx context.Context, userID, listingOwnerID string) (bool, error)
}

// TrustTierGate reads users.trust_tier from the shared store.
type TrustTierGate struct {
	db db_client.Querier
}

var _ Gate = (*TrustTierGate)(nil)

func NewTrustTierGate(db db_client.Querier) *TrustTierGate {
	return &TrustTierGate{db: db}
}

func (g *TrustTierGate) CanBid(ctx context.Context, userID string) (bool, error) {
	tier, err := g.tier(ctx, userID)
	if err != nil {
		return false, err
	}
	return tier >= TierMember, nil
}

func (g *TrustTierGate) CanHostAuction(ctx context.Context, userID string) (bool, error) {
	tier, err := g.tier(ctx, userID)
	if err != nil {
		return false, err
	}
	return tier >= TierTrusted, nil
}

func (g *TrustTierGate) CanCloseAuction(ctx context.Context, userID, listingOwnerID string) (bool, error) {
	if userID == listingOwnerID {
		return true, nil
	}
	tier, err := g.tier(ctx, userID)
	if err != nil {
		return false, err
	}
	return tier >= TierAdmin, nil
}

func (g *TrustTierGate) tier(ctx context.Context, userID string) (int, error) {
	var tier int
	err := g.db.QueryRowContext(ctx,
		`SELECT trust_tier FROM users WHERE id = $1`, userID).Scan(&tier)
	if errors.Is(err, sql.ErrNoRows) {
		return TierVisitor, nil
	}
	if err != nil {
		return 0, marketplace.Storagef("permission.tier", err)
	}
	return tier, nil
}

// Package bidding admits bids against the auction state store and the bid
// ledger. It never mutates auction status: the leader is derived from the
// ledger until the settlement coordinator closes the auction.
package bidding

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"townmarket/internal/database/auctionstore"
	"townmarket/internal/database/bidledger"
	"townmarket/internal/marketplace"
	"townmarket/internal/services/permission"
)

// Limiter is the shared last-bid-at store behind the per-auction bid rate
// limit. Record is only called for accepted bids.
type Limiter interface {
	LastBidAt(ctx context.Context, auctionID, userID string) (time.Time, bool, error)
	Record(ctx context.Context, auctionID, userID string, at time.Time) error
}

// Receipt is returned to the bidder so the client can render the new
// leader immediately.
type Receipt struct {
	BidID           int64 `json:"bid_id"`
	HighestCents    int64 `json:"highest_cents"`
	BidCount        int   `json:"bid_count"`
	MinNextBidCents int64 `json:"min_next_bid_cents"`
}

// View is the derived read model of a listing's auction. The highest bid
// is computed from the ledger on every read, never cached.
type View struct {
	AuctionID       string             `json:"auction_id"`
	ListingID       string             `json:"listing_id"`
	Status          marketplace.Status `json:"status"`
	EndAt           time.Time          `json:"end_at"`
	HighestBidCents int64              `json:"highest_bid_cents"`
	BidCount        int                `json:"bid_count"`
	MinNextBidCents int64              `json:"min_next_bid_cents"`
	ReserveCents    *int64             `json:"reserve_cents,omitempty"`
	BuyNowCents     *int64             `json:"buy_now_cents,omitempty"`
	PaymentDueAt    *time.Time         `json:"payment_due_at,omitempty"`
	History         []HistoryEntry     `json:"history,omitempty"`
}

type HistoryEntry struct {
	UserID      string    `json:"user_id"`
	AmountCents int64     `json:"amount_cents"`
	CreatedAt   time.Time `json:"created_at"`
}

// HostParams opens a new auction for a listing.
type HostParams struct {
	ListingID         string
	StartAt           time.Time
	EndAt             time.Time
	StartBidCents     int64
	MinIncrementCents int64
	ReserveCents      *int64
	BuyNowCents       *int64
}

type IBiddingService interface {
	PlaceBid(ctx context.Context, listingID, userID string, amountCents int64, now time.Time) (Receipt, error)
	AuctionView(ctx context.Context, listingID string) (View, error)
	HostAuction(ctx context.Context, userID string, p HostParams, now time.Time) (string, error)
	ListAuctions(ctx context.Context, status marketplace.Status, limit, offset int) ([]marketplace.Auction, error)
	GetAuction(ctx context.Context, auctionID string) (marketplace.Auction, error)
}

type biddingService struct {
	db         *sql.DB
	gate       permission.Gate
	limiter    Limiter
	rateWindow time.Duration
	opTimeout  time.Duration
}

var _ IBiddingService = (*biddingService)(nil)

func NewBiddingService(db *sql.DB, gate permission.Gate, limiter Limiter, rateWindow time.Duration) IBiddingService {
	if rateWindow <= 0 {
		rateWindow = 2 * time.Second
	}
	return &biddingService{
		db:         db,
		gate:       gate,
		limiter:    limiter,
		rateWindow: rateWindow,
		opTimeout:  5 * time.Second,
	}
}

// PlaceBid validates and appends a bid. The auction row lock taken inside
// the transaction serializes bids per auction, which keeps the minimum
// next bid check race-free; ties are broken by created_at.
func (svc *biddingService) PlaceBid(ctx context.Context, listingID, userID string, amountCents int64, now time.Time) (Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, svc.opTimeout)
	defer cancel()

	ok, err := svc.gate.CanBid(ctx, userID)
	if err != nil {
		return Receipt{}, err
	}
	if !ok {
		return Receipt{}, marketplace.ErrPermissionDenied
	}

	// Resolve the listing to its auction outside the transaction; the
	// authoritative re-read happens under the row lock below.
	resolved, err := auctionstore.GetByListing(ctx, svc.db, listingID)
	if err != nil {
		return Receipt{}, err
	}

	tx, err := svc.db.BeginTx(ctx, nil)
	if err != nil {
		return Receipt{}, marketplace.Storagef("bidding.place_bid", err)
	}
	defer tx.Rollback()

	a, err := auctionstore.GetForUpdate(ctx, tx, resolved.ID)
	if err != nil {
		return Receipt{}, err
	}

	// The deadline is authoritative even when a close call has not yet
	// flipped the stored status.
	if a.Status != marketplace.StatusActive || now.After(a.EndAt) {
		return Receipt{}, marketplace.ErrAuctionEnded
	}

	last, found, err := svc.limiter.LastBidAt(ctx, a.ID, userID)
	if err != nil {
		return Receipt{}, err
	}
	if found && now.Sub(last) < svc.rateWindow {
		return Receipt{}, marketplace.ErrRateLimited
	}

	highest, hasBid, err := bidledger.Highest(ctx, tx, a.ID)
	if err != nil {
		return Receipt{}, err
	}
	minBid := a.StartBidCents
	if hasBid {
		minBid = highest.AmountCents + a.MinIncrementCents
	}
	if amountCents < minBid {
		return Receipt{}, &marketplace.BidTooLowError{MinCents: minBid}
	}

	bidID, err := bidledger.Record(ctx, tx, a.ID, userID, amountCents, now)
	if err != nil {
		return Receipt{}, err
	}
	count, err := bidledger.Count(ctx, tx, a.ID)
	if err != nil {
		return Receipt{}, err
	}

	if err := tx.Commit(); err != nil {
		return Receipt{}, marketplace.Storagef("bidding.place_bid", err)
	}

	// Best effort: a lost rate-limit record only means one extra bid may
	// slip through the window.
	if err := svc.limiter.Record(ctx, a.ID, userID, now); err != nil {
		zap.L().Warn("bid_ratelimit_record", zap.String("auction", a.ID), zap.Error(err))
	}

	return Receipt{
		BidID:           bidID,
		HighestCents:    amountCents,
		BidCount:        count,
		MinNextBidCents: amountCents + a.MinIncrementCents,
	}, nil
}

func (svc *biddingService) AuctionView(ctx context.Context, listingID string) (View, error) {
	a, err := auctionstore.GetByListing(ctx, svc.db, listingID)
	if err != nil {
		return View{}, err
	}

	v := View{
		AuctionID:       a.ID,
		ListingID:       a.ListingID,
		Status:          a.Status,
		EndAt:           a.EndAt,
		MinNextBidCents: a.StartBidCents,
		ReserveCents:    a.ReserveCents,
		BuyNowCents:     a.BuyNowCents,
		PaymentDueAt:    a.PaymentDueAt,
	}

	highest, hasBid, err := bidledger.Highest(ctx, svc.db, a.ID)
	if err != nil {
		return View{}, err
	}
	if hasBid {
		v.HighestBidCents = highest.AmountCents
		v.MinNextBidCents = highest.AmountCents + a.MinIncrementCents
	}

	v.BidCount, err = bidledger.Count(ctx, svc.db, a.ID)
	if err != nil {
		return View{}, err
	}

	history, err := bidledger.History(ctx, svc.db, a.ID, 20)
	if err != nil {
		return View{}, err
	}
	for _, b := range history {
		v.History = append(v.History, HistoryEntry{
			UserID:      b.UserID,
			AmountCents: b.AmountCents,
			CreatedAt:   b.CreatedAt,
		})
	}
	return v, nil
}

func (svc *biddingService) HostAuction(ctx context.Context, userID string, p HostParams, now time.Time) (string, error) {
	ok, err := svc.gate.CanHostAuction(ctx, userID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", marketplace.ErrPermissionDenied
	}
	if !p.EndAt.After(now) {
		return "", marketplace.ErrAuctionEnded
	}
	startAt := p.StartAt
	if startAt.IsZero() {
		startAt = now
	}

	a := marketplace.Auction{
		ID:                uuid.NewString(),
		ListingID:         p.ListingID,
		StartAt:           startAt,
		EndAt:             p.EndAt,
		StartBidCents:     p.StartBidCents,
		MinIncrementCents: p.MinIncrementCents,
		ReserveCents:      p.ReserveCents,
		BuyNowCents:       p.BuyNowCents,
		Status:            marketplace.StatusActive,
		PaymentStatus:     marketplace.PaymentNone,
	}
	if err := auctionstore.Create(ctx, svc.db, a); err != nil {
		return "", err
	}
	return a.ID, nil
}

func (svc *biddingService) ListAuctions(ctx context.Context, status marketplace.Status, limit, offset int) ([]marketplace.Auction, error) {
	return auctionstore.List(ctx, svc.db, status, limit, offset)
}

func (svc *biddingService) GetAuction(ctx context.Context, auctionID string) (marketplace.Auction, error) {
	return auctionstore.Get(ctx, svc.db, auctionID)
}

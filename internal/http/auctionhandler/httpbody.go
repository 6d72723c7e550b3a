package auctionhandler

import (
	"time"

	"townmarket/internal/marketplace"
)

type PlaceBidBody struct {
	BidderID    string `json:"bidder_id"    binding:"required"      example:"user123"`
	AmountCents int64  `json:"amount_cents" binding:"required,gt=0" example:"1500"`
} // @name PlaceBidRequest

type CloseAuctionBody struct {
	CallerID string `json:"caller_id" binding:"required" example:"seller123"`
} // @name CloseAuctionRequest

type HostAuctionBody struct {
	HostID            string    `json:"host_id"             binding:"required" example:"seller123"`
	ListingID         string    `json:"listing_id"          binding:"required" example:"lst123"`
	EndsAt            time.Time `json:"ends_at"             binding:"required" example:"2025-07-27T16:05:05Z"`
	StartBidCents     int64     `json:"start_bid_cents"     binding:"gte=0"    example:"100"`
	MinIncrementCents int64     `json:"min_increment_cents" binding:"gte=0"    example:"50"`
	ReserveCents      *int64    `json:"reserve_cents,omitempty"`
	BuyNowCents       *int64    `json:"buy_now_cents,omitempty"`
} // @name HostAuctionRequest

type ErrorResponse struct {
	Error string `json:"error"`
	// MinBidCents accompanies a rejected bid so the client can retry
	// with a corrected amount immediately.
	MinBidCents *int64 `json:"min_bid_cents,omitempty"`
} // @name ErrorResponse

type ListAuctionsQuery struct {
	Status string `form:"status"  binding:"omitempty,oneof=active pending_payment paid ended failed"`
	Limit  int    `form:"limit,default=10"  binding:"gte=0,lte=100"`
	Offset int    `form:"offset,default=0"  binding:"gte=0"`
} // @name ListAuctionsQuery

type AuctionDTO struct {
	ID                string     `json:"id"`
	ListingID         string     `json:"listing_id"`
	StartAt           time.Time  `json:"start_at"`
	EndAt             time.Time  `json:"end_at"`
	StartBidCents     int64      `json:"start_bid_cents"`
	MinIncrementCents int64      `json:"min_increment_cents"`
	ReserveCents      *int64     `json:"reserve_cents,omitempty"`
	BuyNowCents       *int64     `json:"buy_now_cents,omitempty"`
	Status            string     `json:"status" example:"active"`
	WinnerUserID      *string    `json:"winner_user_id,omitempty"`
	PaymentDueAt      *time.Time `json:"payment_due_at,omitempty"`
	PaymentStatus     string     `json:"payment_status" example:"none"`
} // @name Auction

func toAuctionDTO(a marketplace.Auction) AuctionDTO {
	return AuctionDTO{
		ID:                a.ID,
		ListingID:         a.ListingID,
		StartAt:           a.StartAt,
		EndAt:             a.EndAt,
		StartBidCents:     a.StartBidCents,
		MinIncrementCents: a.MinIncrementCents,
		ReserveCents:      a.ReserveCents,
		BuyNowCents:       a.BuyNowCents,
		Status:            string(a.Status),
		WinnerUserID:      a.WinnerUserID,
		PaymentDueAt:      a.PaymentDueAt,
		PaymentStatus:     string(a.PaymentStatus),
	}
}

type CloseResponse struct {
	WinnerUserID string `json:"winner_user_id,omitempty"`
	OrderID      string `json:"order_id,omitempty"`
	TotalCents   int64  `json:"total_cents,omitempty"`
	Ended        bool   `json:"ended"`
} // @name CloseResponse

type ExpireResponse struct {
	WinnerUserID string `json:"winner_user_id,omitempty"`
	OrderID      string `json:"order_id,omitempty"`
	TotalCents   int64  `json:"total_cents,omitempty"`
	Failed       bool   `json:"failed"`
} // @name ExpireResponse

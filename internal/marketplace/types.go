package marketplace

import "time"

// Status is the auction lifecycle state. paid, ended and failed are
// terminal: no transition leaves them.
type Status string

const (
	StatusActive         Status = "active"
	StatusPendingPayment Status = "pending_payment"
	StatusPaid           Status = "paid"
	StatusEnded          Status = "ended"
	StatusFailed         Status = "failed"
)

func (s Status) Terminal() bool {
	return s == StatusPaid || s == StatusEnded || s == StatusFailed
}

// PaymentStatus tracks the current obligor's payment obligation.
type PaymentStatus string

const (
	PaymentNone     PaymentStatus = "none"
	PaymentRequired PaymentStatus = "required"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
)

// OrderStatus is the monetary obligation's state. cancelled retires the
// order of a replaced obligor so that only one live order exists per
// (auction, obligor).
type OrderStatus string

const (
	OrderPendingPayment OrderStatus = "pending_payment"
	OrderPaid           OrderStatus = "paid"
	OrderCancelled      OrderStatus = "cancelled"
)

// Transition reports whether moving an auction from one status to another
// is legal. Every status write goes through here; there is no other place
// that mutates auction status.
func Transition(from, to Status) error {
	switch from {
	case StatusActive:
		if to == StatusPendingPayment || to == StatusEnded {
			return nil
		}
	case StatusPendingPayment:
		// pending_payment -> pending_payment is the re-offer: same shape,
		// new obligor, new deadline.
		if to == StatusPendingPayment || to == StatusPaid || to == StatusFailed {
			return nil
		}
	}
	return ErrInvalidTransition
}

type Auction struct {
	ID                string
	ListingID         string
	StartAt           time.Time
	EndAt             time.Time
	StartBidCents     int64
	MinIncrementCents int64
	ReserveCents      *int64
	BuyNowCents       *int64
	Status            Status
	WinningBidID      *int64
	WinnerUserID      *string
	PaymentDueAt      *time.Time
	PaymentStatus     PaymentStatus
}

// Bid rows are append-only; they are never edited or deleted. The current
// leader is whichever bid ranks first by (amount_cents DESC, created_at DESC).
type Bid struct {
	ID          int64
	AuctionID   string
	UserID      string
	AmountCents int64
	CreatedAt   time.Time
}

type Order struct {
	ID              string
	AuctionID       string
	ListingID       string
	BuyerUserID     string
	SubtotalCents   int64
	ServiceFeeCents int64
	TotalCents      int64
	Status          OrderStatus
	CreatedAt       time.Time
}

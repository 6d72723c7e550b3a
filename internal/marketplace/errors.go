package marketplace

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrAuctionNotFound   = errors.New("auction not found")
	ErrNotAnAuction      = errors.New("listing is not bid-enabled")
	ErrAuctionEnded      = errors.New("auction has ended")
	ErrAuctionNotEnded   = errors.New("auction has not ended yet")
	ErrAlreadyClosed     = errors.New("auction already closed")
	ErrRateLimited       = errors.New("bidding too fast, wait a moment")
	ErrBidTooLow         = errors.New("bid below minimum")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrNotOverdue        = errors.New("payment deadline has not lapsed")
	ErrAlreadyPaid       = errors.New("order already paid")
	ErrOrderNotFound     = errors.New("order not found")
	ErrOrderSuperseded   = errors.New("order superseded by re-offer")
	ErrInvalidTransition = errors.New("illegal auction status transition")

	// ErrConcurrentModification means the caller lost a race for the
	// auction row and should retry the whole operation.
	ErrConcurrentModification = errors.New("concurrent modification, retry")
)

// StorageError wraps a persistence failure. It is the only error class
// besides ErrConcurrentModification that is safe to retry with backoff.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *StorageError) Unwrap() error { return e.Err }

func Storagef(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

// BidTooLowError carries the minimum acceptable amount so the client can
// retry with a corrected bid immediately.
type BidTooLowError struct {
	MinCents int64
}

func (e *BidTooLowError) Error() string {
	return fmt.Sprintf("bid below minimum, need at least %d cents", e.MinCents)
}

func (e *BidTooLowError) Is(target error) bool { return target == ErrBidTooLow }

// NotEndedError reports how long the bidding window still has to run.
type NotEndedError struct {
	Remaining time.Duration
}

func (e *NotEndedError) Error() string {
	return fmt.Sprintf("auction has not ended yet, %s remaining", e.Remaining.Round(time.Second))
}

func (e *NotEndedError) Is(target error) bool { return target == ErrAuctionNotEnded }

// Package settlement closes ended auctions into monetary obligations and
// re-offers the item down the bid stack when an obligor fails to pay.
// Close, ExpireWinner and MarkPaid each run as one transaction holding the
// auction row lock, so two racing calls can never both observe the same
// pre-transition state.
package settlement

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"townmarket/internal/database/auctionstore"
	"townmarket/internal/database/bidledger"
	"townmarket/internal/database/orderstore"
	"townmarket/internal/marketplace"
	"townmarket/internal/services/inventory"
	"townmarket/internal/services/permission"
)

// DeadlineTimer schedules a prompt ExpireWinner trigger for a payment
// deadline. Best effort only: the periodic sweep is the durable fallback,
// so timer failures are logged, never surfaced.
type DeadlineTimer interface {
	Schedule(ctx context.Context, auctionID string, dueAt time.Time) error
	Cancel(ctx context.Context, auctionID string) error
}

// CloseResult reports the settlement outcome of Close. WinnerUserID is
// empty when the auction ended without bids.
type CloseResult struct {
	WinnerUserID string
	OrderID      string
	TotalCents   int64
}

// ExpireResult reports a re-offer. Failed is set when no eligible bidder
// remained and the auction reached its terminal failed state.
type ExpireResult struct {
	WinnerUserID string
	OrderID      string
	TotalCents   int64
	Failed       bool
}

type ISettlementService interface {
	Close(ctx context.Context, auctionID, callerID string, now time.Time) (CloseResult, error)
	ExpireWinner(ctx context.Context, auctionID string, now time.Time) (ExpireResult, error)
	MarkPaid(ctx context.Context, orderID string, now time.Time) error
}

type settlementService struct {
	db            *sql.DB
	gate          permission.Gate
	timer         DeadlineTimer
	paymentWindow time.Duration
	opTimeout     time.Duration
}

var _ ISettlementService = (*settlementService)(nil)

func NewSettlementService(db *sql.DB, gate permission.Gate, timer DeadlineTimer, paymentWindow time.Duration) ISettlementService {
	if paymentWindow <= 0 {
		paymentWindow = 30 * time.Minute
	}
	return &settlementService{
		db:            db,
		gate:          gate,
		timer:         timer,
		paymentWindow: paymentWindow,
		opTimeout:     5 * time.Second,
	}
}

// Close converts an ended auction into an order for the highest bidder.
// Not idempotent: the second call gets ErrAlreadyClosed and must not be
// retried blindly.
func (svc *settlementService) Close(ctx context.Context, auctionID, callerID string, now time.Time) (CloseResult, error) {
	ctx, cancel := context.WithTimeout(ctx, svc.opTimeout)
	defer cancel()

	tx, err := svc.db.BeginTx(ctx, nil)
	if err != nil {
		return CloseResult{}, marketplace.Storagef("settlement.close", err)
	}
	defer tx.Rollback()

	a, err := auctionstore.GetForUpdate(ctx, tx, auctionID)
	if err != nil {
		return CloseResult{}, err
	}

	owner, err := inventory.Owner(ctx, tx, a.ListingID)
	if err != nil {
		return CloseResult{}, err
	}
	ok, err := svc.gate.CanCloseAuction(ctx, callerID, owner)
	if err != nil {
		return CloseResult{}, err
	}
	if !ok {
		return CloseResult{}, marketplace.ErrPermissionDenied
	}

	if a.Status != marketplace.StatusActive {
		return CloseResult{}, marketplace.ErrAlreadyClosed
	}
	if now.Before(a.EndAt) {
		return CloseResult{}, &marketplace.NotEndedError{Remaining: a.EndAt.Sub(now)}
	}

	highest, hasBid, err := bidledger.Highest(ctx, tx, a.ID)
	if err != nil {
		return CloseResult{}, err
	}

	if !hasBid {
		upd := auctionstore.StateUpdate{
			Status:        marketplace.StatusEnded,
			PaymentStatus: marketplace.PaymentNone,
		}
		if err := auctionstore.UpdateState(ctx, tx, a, upd); err != nil {
			return CloseResult{}, err
		}
		if err := tx.Commit(); err != nil {
			return CloseResult{}, marketplace.Storagef("settlement.close", err)
		}
		zap.L().Info("auction_ended_no_bids", zap.String("auction", a.ID))
		return CloseResult{}, nil
	}

	order, err := orderstore.Create(ctx, tx, a.ID, a.ListingID, highest.UserID, highest.AmountCents, now)
	if err != nil {
		return CloseResult{}, err
	}

	dueAt := now.Add(svc.paymentWindow)
	upd := auctionstore.StateUpdate{
		Status:        marketplace.StatusPendingPayment,
		WinningBidID:  &highest.ID,
		WinnerUserID:  &highest.UserID,
		PaymentDueAt:  &dueAt,
		PaymentStatus: marketplace.PaymentRequired,
	}
	if err := auctionstore.UpdateState(ctx, tx, a, upd); err != nil {
		return CloseResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return CloseResult{}, marketplace.Storagef("settlement.close", err)
	}

	svc.schedule(ctx, a.ID, dueAt)
	zap.L().Info("auction_closed",
		zap.String("auction", a.ID),
		zap.String("winner", highest.UserID),
		zap.Int64("subtotal_cents", highest.AmountCents),
	)
	return CloseResult{
		WinnerUserID: highest.UserID,
		OrderID:      order.ID,
		TotalCents:   order.TotalCents,
	}, nil
}

// ExpireWinner enforces a lapsed payment deadline: the defaulter's order
// is cancelled and the item is re-offered to the highest bid from any
// other user, at that bid's amount, with a fresh payment window. Every bid
// of the defaulter is disqualified, not just the winning one.
func (svc *settlementService) ExpireWinner(ctx context.Context, auctionID string, now time.Time) (ExpireResult, error) {
	ctx, cancel := context.WithTimeout(ctx, svc.opTimeout)
	defer cancel()

	tx, err := svc.db.BeginTx(ctx, nil)
	if err != nil {
		return ExpireResult{}, marketplace.Storagef("settlement.expire_winner", err)
	}
	defer tx.Rollback()

	a, err := auctionstore.GetForUpdate(ctx, tx, auctionID)
	if err != nil {
		return ExpireResult{}, err
	}

	if a.PaymentStatus == marketplace.PaymentPaid || a.Status == marketplace.StatusPaid {
		return ExpireResult{}, marketplace.ErrAlreadyPaid
	}
	if a.Status != marketplace.StatusPendingPayment || a.PaymentDueAt == nil || a.WinnerUserID == nil {
		return ExpireResult{}, marketplace.ErrNotOverdue
	}
	if now.Before(*a.PaymentDueAt) {
		return ExpireResult{}, marketplace.ErrNotOverdue
	}

	defaulter := *a.WinnerUserID
	if err := orderstore.CancelOpenForAuction(ctx, tx, a.ID); err != nil {
		return ExpireResult{}, err
	}

	next, found, err := bidledger.NextHighestExcluding(ctx, tx, a.ID, defaulter)
	if err != nil {
		return ExpireResult{}, err
	}

	if !found {
		upd := auctionstore.StateUpdate{
			Status:        marketplace.StatusFailed,
			PaymentStatus: marketplace.PaymentFailed,
		}
		if err := auctionstore.UpdateState(ctx, tx, a, upd); err != nil {
			return ExpireResult{}, err
		}
		if err := inventory.MarkItemUnsold(ctx, tx, a.ListingID); err != nil {
			return ExpireResult{}, err
		}
		if err := tx.Commit(); err != nil {
			return ExpireResult{}, marketplace.Storagef("settlement.expire_winner", err)
		}
		svc.cancelTimer(ctx, a.ID)
		zap.L().Warn("auction_failed_no_fallback",
			zap.String("auction", a.ID),
			zap.String("defaulter", defaulter),
		)
		return ExpireResult{Failed: true}, nil
	}

	order, err := orderstore.Create(ctx, tx, a.ID, a.ListingID, next.UserID, next.AmountCents, now)
	if err != nil {
		return ExpireResult{}, err
	}

	dueAt := now.Add(svc.paymentWindow)
	upd := auctionstore.StateUpdate{
		Status:        marketplace.StatusPendingPayment,
		WinningBidID:  &next.ID,
		WinnerUserID:  &next.UserID,
		PaymentDueAt:  &dueAt,
		PaymentStatus: marketplace.PaymentRequired,
	}
	if err := auctionstore.UpdateState(ctx, tx, a, upd); err != nil {
		return ExpireResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return ExpireResult{}, marketplace.Storagef("settlement.expire_winner", err)
	}

	svc.schedule(ctx, a.ID, dueAt)
	zap.L().Info("auction_reoffered",
		zap.String("auction", a.ID),
		zap.String("defaulter", defaulter),
		zap.String("new_winner", next.UserID),
		zap.Int64("subtotal_cents", next.AmountCents),
	)
	return ExpireResult{
		WinnerUserID: next.UserID,
		OrderID:      order.ID,
		TotalCents:   order.TotalCents,
	}, nil
}

// MarkPaid records the gateway's payment success. Idempotent for an
// already-paid order; a payment arriving after the obligor was replaced
// is rejected so it can be refunded out-of-band.
func (svc *settlementService) MarkPaid(ctx context.Context, orderID string, now time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, svc.opTimeout)
	defer cancel()

	tx, err := svc.db.BeginTx(ctx, nil)
	if err != nil {
		return marketplace.Storagef("settlement.mark_paid", err)
	}
	defer tx.Rollback()

	// Resolve the auction first, then lock it; the order is re-read under
	// that lock so a racing ExpireWinner cannot slip between the reads.
	o, err := orderstore.Get(ctx, tx, orderID)
	if err != nil {
		return err
	}
	a, err := auctionstore.GetForUpdate(ctx, tx, o.AuctionID)
	if err != nil {
		return err
	}
	o, err = orderstore.GetForUpdate(ctx, tx, orderID)
	if err != nil {
		return err
	}

	if o.Status == marketplace.OrderPaid {
		return nil
	}
	if o.Status == marketplace.OrderCancelled {
		return marketplace.ErrOrderSuperseded
	}
	if a.Status != marketplace.StatusPendingPayment {
		return marketplace.ErrAlreadyClosed
	}
	if a.WinnerUserID == nil || *a.WinnerUserID != o.BuyerUserID {
		return marketplace.ErrOrderSuperseded
	}

	if err := orderstore.MarkPaid(ctx, tx, orderID); err != nil {
		return err
	}
	upd := auctionstore.StateUpdate{
		Status:        marketplace.StatusPaid,
		WinningBidID:  a.WinningBidID,
		WinnerUserID:  a.WinnerUserID,
		PaymentStatus: marketplace.PaymentPaid,
	}
	if err := auctionstore.UpdateState(ctx, tx, a, upd); err != nil {
		return err
	}
	if err := inventory.MarkItemSold(ctx, tx, a.ListingID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return marketplace.Storagef("settlement.mark_paid", err)
	}

	svc.cancelTimer(ctx, a.ID)
	zap.L().Info("auction_paid",
		zap.String("auction", a.ID),
		zap.String("order", orderID),
		zap.String("buyer", o.BuyerUserID),
	)
	return nil
}

func (svc *settlementService) schedule(ctx context.Context, auctionID string, dueAt time.Time) {
	if svc.timer == nil {
		return
	}
	if err := svc.timer.Schedule(ctx, auctionID, dueAt); err != nil {
		zap.L().Warn("deadline_timer_schedule", zap.String("auction", auctionID), zap.Error(err))
	}
}

func (svc *settlementService) cancelTimer(ctx context.Context, auctionID string) {
	if svc.timer == nil {
		return
	}
	if err := svc.timer.Cancel(ctx, auctionID); err != nil {
		zap.L().Warn("deadline_timer_cancel", zap.String("auction", auctionID), zap.Error(err))
	}
}

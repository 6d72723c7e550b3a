package bidding

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"townmarket/internal/marketplace"
)

var (
	auctionCols = []string{
		"id", "listing_id", "start_at", "end_at", "start_bid_cents",
		"min_increment_cents", "reserve_cents", "buy_now_cents", "status",
		"winning_bid_id", "winner_user_id", "payment_due_at", "payment_status",
	}
	bidCols = []string{"id", "auction_id", "user_id", "amount_cents", "created_at"}
)

var testNow = time.Date(2025, 7, 27, 17, 0, 0, 0, time.UTC)

type stubGate struct {
	allow bool
}

func (g stubGate) CanBid(ctx context.Context, userID string) (bool, error)         { return g.allow, nil }
func (g stubGate) CanHostAuction(ctx context.Context, userID string) (bool, error) { return g.allow, nil }
func (g stubGate) CanCloseAuction(ctx context.Context, userID, ownerID string) (bool, error) {
	return g.allow, nil
}

type fakeLimiter struct {
	last     map[string]time.Time
	recorded []string
}

func newFakeLimiter() *fakeLimiter {
	return &fakeLimiter{last: map[string]time.Time{}}
}

func (f *fakeLimiter) LastBidAt(ctx context.Context, auctionID, userID string) (time.Time, bool, error) {
	t, ok := f.last[auctionID+"/"+userID]
	return t, ok, nil
}

func (f *fakeLimiter) Record(ctx context.Context, auctionID, userID string, at time.Time) error {
	f.recorded = append(f.recorded, auctionID+"/"+userID)
	return nil
}

func activeRow(endAt time.Time) *sqlmock.Rows {
	return sqlmock.NewRows(auctionCols).AddRow(
		"a1", "lst1", endAt.Add(-24*time.Hour), endAt, int64(100),
		int64(50), nil, nil, "active",
		nil, nil, nil, "none",
	)
}

func expectResolveListing(mock sqlmock.Sqlmock, rows *sqlmock.Rows) {
	mock.ExpectQuery(regexp.QuoteMeta("FROM auctions WHERE listing_id = $1")).
		WithArgs("lst1").
		WillReturnRows(rows)
}

func expectAuctionLock(mock sqlmock.Sqlmock, rows *sqlmock.Rows) {
	mock.ExpectQuery(regexp.QuoteMeta("FROM auctions WHERE id = $1 FOR UPDATE")).
		WithArgs("a1").
		WillReturnRows(rows)
}

func TestPlaceBidFirstBidMustMeetStartBid(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	limiter := newFakeLimiter()
	svc := NewBiddingService(db, stubGate{allow: true}, limiter, 0)
	endAt := testNow.Add(time.Hour)

	expectResolveListing(mock, activeRow(endAt))
	mock.ExpectBegin()
	expectAuctionLock(mock, activeRow(endAt))
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY amount_cents DESC, created_at DESC")).
		WithArgs("a1").
		WillReturnRows(sqlmock.NewRows(bidCols))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO bids")).
		WithArgs("a1", "u1", int64(100), testNow).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT count(*) FROM bids")).
		WithArgs("a1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectCommit()

	r, err := svc.PlaceBid(context.Background(), "lst1", "u1", 100, testNow)
	require.NoError(t, err)
	assert.Equal(t, int64(1), r.BidID)
	assert.Equal(t, int64(100), r.HighestCents)
	assert.Equal(t, 1, r.BidCount)
	assert.Equal(t, int64(150), r.MinNextBidCents)
	assert.Equal(t, []string{"a1/u1"}, limiter.recorded, "accepted bid feeds the rate limit")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPlaceBidBelowMinimumReportsMinimum(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := NewBiddingService(db, stubGate{allow: true}, newFakeLimiter(), 0)
	endAt := testNow.Add(time.Hour)

	expectResolveListing(mock, activeRow(endAt))
	mock.ExpectBegin()
	expectAuctionLock(mock, activeRow(endAt))
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY amount_cents DESC, created_at DESC")).
		WithArgs("a1").
		WillReturnRows(sqlmock.NewRows(bidCols).
			AddRow(int64(3), "a1", "u2", int64(150), testNow.Add(-time.Minute)))
	mock.ExpectRollback()

	// highest 150 + increment 50: matching the leader is not enough
	_, err = svc.PlaceBid(context.Background(), "lst1", "u1", 150, testNow)
	assert.ErrorIs(t, err, marketplace.ErrBidTooLow)

	var tooLow *marketplace.BidTooLowError
	require.True(t, errors.As(err, &tooLow))
	assert.Equal(t, int64(200), tooLow.MinCents)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPlaceBidRejectedAfterDeadlineEvenWhileStatusActive(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := NewBiddingService(db, stubGate{allow: true}, newFakeLimiter(), 0)
	endAt := testNow.Add(-time.Second)

	expectResolveListing(mock, activeRow(endAt))
	mock.ExpectBegin()
	expectAuctionLock(mock, activeRow(endAt))
	mock.ExpectRollback()

	_, err = svc.PlaceBid(context.Background(), "lst1", "u1", 500, testNow)
	assert.ErrorIs(t, err, marketplace.ErrAuctionEnded)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPlaceBidRejectedOnClosedAuction(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := NewBiddingService(db, stubGate{allow: true}, newFakeLimiter(), 0)
	pending := sqlmock.NewRows(auctionCols).AddRow(
		"a1", "lst1", testNow.Add(-24*time.Hour), testNow.Add(time.Hour), int64(100),
		int64(50), nil, nil, "pending_payment",
		int64(3), "u2", testNow.Add(30*time.Minute), "required",
	)

	expectResolveListing(mock, activeRow(testNow.Add(time.Hour)))
	mock.ExpectBegin()
	expectAuctionLock(mock, pending)
	mock.ExpectRollback()

	_, err = svc.PlaceBid(context.Background(), "lst1", "u1", 500, testNow)
	assert.ErrorIs(t, err, marketplace.ErrAuctionEnded)
}

func TestPlaceBidRateLimited(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	limiter := newFakeLimiter()
	limiter.last["a1/u1"] = testNow.Add(-time.Second)
	svc := NewBiddingService(db, stubGate{allow: true}, limiter, 2*time.Second)
	endAt := testNow.Add(time.Hour)

	expectResolveListing(mock, activeRow(endAt))
	mock.ExpectBegin()
	expectAuctionLock(mock, activeRow(endAt))
	mock.ExpectRollback()

	_, err = svc.PlaceBid(context.Background(), "lst1", "u1", 500, testNow)
	assert.ErrorIs(t, err, marketplace.ErrRateLimited)
	assert.Empty(t, limiter.recorded, "rejected bids never feed the rate limit")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPlaceBidOutsideRateWindowAccepted(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	limiter := newFakeLimiter()
	limiter.last["a1/u1"] = testNow.Add(-3 * time.Second)
	svc := NewBiddingService(db, stubGate{allow: true}, limiter, 2*time.Second)
	endAt := testNow.Add(time.Hour)

	expectResolveListing(mock, activeRow(endAt))
	mock.ExpectBegin()
	expectAuctionLock(mock, activeRow(endAt))
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY amount_cents DESC, created_at DESC")).
		WithArgs("a1").
		WillReturnRows(sqlmock.NewRows(bidCols))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO bids")).
		WithArgs("a1", "u1", int64(200), testNow).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(4)))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT count(*) FROM bids")).
		WithArgs("a1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectCommit()

	_, err = svc.PlaceBid(context.Background(), "lst1", "u1", 200, testNow)
	assert.NoError(t, err)
}

func TestPlaceBidPermissionDenied(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := NewBiddingService(db, stubGate{allow: false}, newFakeLimiter(), 0)

	_, err = svc.PlaceBid(context.Background(), "lst1", "visitor", 100, testNow)
	assert.ErrorIs(t, err, marketplace.ErrPermissionDenied)
}

func TestPlaceBidListingWithoutAuction(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := NewBiddingService(db, stubGate{allow: true}, newFakeLimiter(), 0)

	expectResolveListing(mock, sqlmock.NewRows(auctionCols))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS(SELECT 1 FROM listings")).
		WithArgs("lst1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	_, err = svc.PlaceBid(context.Background(), "lst1", "u1", 100, testNow)
	assert.ErrorIs(t, err, marketplace.ErrNotAnAuction)
}

func TestAuctionViewDerivesLeaderFromLedger(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := NewBiddingService(db, stubGate{allow: true}, newFakeLimiter(), 0)
	endAt := testNow.Add(time.Hour)

	expectResolveListing(mock, activeRow(endAt))
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY amount_cents DESC, created_at DESC")).
		WithArgs("a1").
		WillReturnRows(sqlmock.NewRows(bidCols).
			AddRow(int64(2), "a1", "u2", int64(150), testNow.Add(-time.Minute)))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT count(*) FROM bids")).
		WithArgs("a1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY created_at DESC")).
		WithArgs("a1", 20).
		WillReturnRows(sqlmock.NewRows(bidCols).
			AddRow(int64(2), "a1", "u2", int64(150), testNow.Add(-time.Minute)).
			AddRow(int64(1), "a1", "u1", int64(100), testNow.Add(-2*time.Minute)))

	v, err := svc.AuctionView(context.Background(), "lst1")
	require.NoError(t, err)
	assert.Equal(t, int64(150), v.HighestBidCents)
	assert.Equal(t, int64(200), v.MinNextBidCents)
	assert.Equal(t, 2, v.BidCount)
	require.Len(t, v.History, 2)
	assert.Equal(t, "u2", v.History[0].UserID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHostAuctionCreatesActiveAuction(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := NewBiddingService(db, stubGate{allow: true}, newFakeLimiter(), 0)
	endAt := testNow.Add(48 * time.Hour)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO auctions")).
		WithArgs(sqlmock.AnyArg(), "lst1", testNow, endAt,
			int64(100), int64(50), nil, nil, "active", "none").
		WillReturnResult(sqlmock.NewResult(0, 1))

	id, err := svc.HostAuction(context.Background(), "seller1", HostParams{
		ListingID:         "lst1",
		EndAt:             endAt,
		StartBidCents:     100,
		MinIncrementCents: 50,
	}, testNow)
	require.NoError(t, err)

	_, err = uuid.Parse(id)
	assert.NoError(t, err, "auction IDs are uuids")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHostAuctionRejectsPastDeadline(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := NewBiddingService(db, stubGate{allow: true}, newFakeLimiter(), 0)

	_, err = svc.HostAuction(context.Background(), "seller1", HostParams{
		ListingID: "lst1",
		EndAt:     testNow.Add(-time.Minute),
	}, testNow)
	assert.ErrorIs(t, err, marketplace.ErrAuctionEnded)
}

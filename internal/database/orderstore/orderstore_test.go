package orderstore

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"townmarket/internal/marketplace"
)

func TestCreateComputesFeeAndTotal(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Date(2025, 7, 27, 16, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO orders")).
		WithArgs(sqlmock.AnyArg(), "a1", "lst1", "u2",
			int64(1299), int64(65), int64(1364), "pending_payment", now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	o, err := Create(context.Background(), db, "a1", "lst1", "u2", 1299, now)
	require.NoError(t, err)
	assert.Equal(t, int64(65), o.ServiceFeeCents)
	assert.Equal(t, int64(1364), o.TotalCents)
	assert.Equal(t, marketplace.OrderPendingPayment, o.Status)

	_, err = uuid.Parse(o.ID)
	assert.NoError(t, err, "order IDs are uuids")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM orders WHERE id = $1")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err = Get(context.Background(), db, "missing")
	assert.ErrorIs(t, err, marketplace.ErrOrderNotFound)
}

func TestMarkPaidUnknownOrder(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE orders SET status = $2")).
		WithArgs("missing", "paid").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = MarkPaid(context.Background(), db, "missing")
	assert.ErrorIs(t, err, marketplace.ErrOrderNotFound)
}

func TestCancelOpenForAuctionCancelsOnlyPending(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("WHERE auction_id = $1 AND status = $3")).
		WithArgs("a1", "cancelled", "pending_payment").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = CancelOpenForAuction(context.Background(), db, "a1")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

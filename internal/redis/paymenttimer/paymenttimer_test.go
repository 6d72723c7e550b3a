package paymenttimer

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduleLapsedDeadlineFiresAlmostImmediately(t *testing.T) {
	rdc, mock := redismock.NewClientMock()
	timer := New(rdc)

	// a deadline already in the past still gets a key, with the minimum TTL
	mock.ExpectSet("pay_t:a1", "1", time.Second).SetVal("OK")

	err := timer.Schedule(context.Background(), "a1", time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelDeletesKey(t *testing.T) {
	rdc, mock := redismock.NewClientMock()
	timer := New(rdc)

	mock.ExpectDel("pay_t:a1").SetVal(1)

	err := timer.Cancel(context.Background(), "a1")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

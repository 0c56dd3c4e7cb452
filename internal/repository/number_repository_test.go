package repository

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/newstore-ledger/internal/model"
)

func TestEnsureSlotsInsertsIgnoringExisting(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec(q("INSERT IGNORE INTO numbers (draw_id, n, status) VALUES (?, ?, 'available'),(?, ?, 'available')")).
		WithArgs(int64(4), 1, int64(4), 2).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.EnsureSlots(context.Background(), 4, []int{1, 2}))
	// nothing to insert, no statement
	require.NoError(t, s.EnsureSlots(context.Background(), 4, nil))
}

func TestLockSlotsOrdersRowLocks(t *testing.T) {
	s, mock := newMock(t)
	rows := sqlmock.NewRows([]string{"draw_id", "n", "status", "reservation_id", "payment_id"}).
		AddRow(int64(4), 3, "reserved", "res-1", nil).
		AddRow(int64(4), 9, "sold", nil, "pay-1").
		AddRow(int64(4), 12, "available", nil, nil)
	mock.ExpectQuery(q("WHERE draw_id = ? AND n IN (?,?,?) ORDER BY n FOR UPDATE")).
		WithArgs(int64(4), 12, 3, 9).
		WillReturnRows(rows)

	slots, err := s.LockSlots(context.Background(), 4, []int{12, 3, 9})
	require.NoError(t, err)
	require.Len(t, slots, 3)

	assert.Equal(t, model.SlotReserved, slots[0].Status)
	require.NotNil(t, slots[0].ReservationID)
	assert.Equal(t, "res-1", *slots[0].ReservationID)
	assert.Nil(t, slots[0].PaymentID)

	assert.Equal(t, model.SlotSold, slots[1].Status)
	require.NotNil(t, slots[1].PaymentID)
	assert.Equal(t, "pay-1", *slots[1].PaymentID)

	assert.True(t, slots[2].Free())
	assert.Equal(t, 12, slots[2].Number)
}

func TestSellSlotsNeverResells(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec(q("UPDATE numbers SET status = 'sold', payment_id = ?, reservation_id = NULL")).
		WithArgs("pay-2", int64(4), 5, 6).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(q("AND status <> 'sold'")).
		WithArgs("pay-3", int64(4), 7).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.SellSlots(context.Background(), 4, []int{5, 6}, "pay-2"))
	require.NoError(t, s.SellSlots(context.Background(), 4, []int{7}, "pay-3"))
	require.NoError(t, s.SellSlots(context.Background(), 4, nil, "pay-4"))
}

func TestReleaseSlotsKeepsSoldRows(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec(q("WHERE reservation_id IN (?,?) AND status = 'reserved'")).
		WithArgs("res-1", "res-2").
		WillReturnResult(sqlmock.NewResult(0, 3))

	require.NoError(t, s.ReleaseSlots(context.Background(), []string{"res-1", "res-2"}))
}

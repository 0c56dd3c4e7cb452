package repository

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApprovedNumbersFirstPaymentWins(t *testing.T) {
	s, mock := newMock(t)
	rows := sqlmock.NewRows([]string{"id", "numbers"}).
		AddRow("pay-1", []byte(`[3,5]`)).
		AddRow("pay-2", []byte(`[5,8]`)).
		AddRow("pay-3", nil)
	mock.ExpectQuery(q("SELECT id, numbers FROM payments WHERE draw_id = ? AND status = 'approved'")).
		WithArgs(int64(4)).
		WillReturnRows(rows)

	taken, err := s.ApprovedNumbers(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, map[int]string{3: "pay-1", 5: "pay-1", 8: "pay-2"}, taken)
}

func TestApprovedNumbersRejectsCorruptJSON(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(q("FROM payments WHERE draw_id = ?")).
		WithArgs(int64(4)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "numbers"}).AddRow("pay-1", []byte(`[3,`)))

	_, err := s.ApprovedNumbers(context.Background(), 4)
	assert.ErrorContains(t, err, "decode numbers")
}

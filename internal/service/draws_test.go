package service

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/newstore-ledger/internal/model"
	"github.com/iliyamo/newstore-ledger/internal/queue"
)

func TestOpenDraw(t *testing.T) {
	h := newHarness(t)
	d := h.openDraw(t, 0)
	assert.Equal(t, model.DefaultTotalNumbers, d.TotalNumbers)
	assert.Equal(t, []int64{d.ID}, h.opened)
	assert.Equal(t, 1, h.pub.Count(queue.KeyDrawOpened))

	for _, n := range []int{0, 99} {
		assert.Equal(t, model.SlotAvailable, h.slot(t, d.ID, n).Status)
	}

	_, err := h.draws.Open(h.ctx, OpenInput{})
	assert.ErrorIs(t, err, ErrConflict, "one open draw at a time")
	_, err = h.draws.Open(h.ctx, OpenInput{TotalNumbers: -5})
	assert.ErrorIs(t, err, ErrInvalidInput)

	cur, err := h.draws.Current(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, d.ID, cur.ID)
}

func TestConcurrentOpensLeaveOneDraw(t *testing.T) {
	h := newHarness(t)
	var opened, conflicts int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.draws.Open(h.ctx, OpenInput{TotalNumbers: 10})
			switch {
			case err == nil:
				atomic.AddInt32(&opened, 1)
			case assert.ErrorIs(t, err, ErrConflict):
				atomic.AddInt32(&conflicts, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), opened)
	assert.Equal(t, int32(9), conflicts)
	assert.Equal(t, 1, h.pub.Count(queue.KeyDrawOpened))
}

func TestCloseAndRecordWinner(t *testing.T) {
	h := newHarness(t)
	d := h.openDraw(t, 10)
	h.sell(t, 42, d.ID, 7)

	_, err := h.draws.RecordWinner(h.ctx, d.ID, 7)
	assert.ErrorIs(t, err, ErrConflict, "draw still open")

	closed, err := h.draws.Close(h.ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DrawClosed, closed.Status)
	_, err = h.draws.Close(h.ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, h.pub.Count(queue.KeyDrawClosed))

	_, err = h.draws.Current(h.ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = h.draws.RecordWinner(h.ctx, d.ID, 3)
	assert.ErrorIs(t, err, ErrConflict, "unsold number")
	_, err = h.draws.RecordWinner(h.ctx, d.ID, 10)
	assert.ErrorIs(t, err, ErrInvalidInput)

	won, err := h.draws.RecordWinner(h.ctx, d.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, 7, *won.WinnerNumber)
	assert.Equal(t, int64(42), *won.WinnerUserID)
	assert.NotNil(t, won.RealizedAt)
}

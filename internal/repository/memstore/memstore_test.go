package memstore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/newstore-ledger/internal/model"
	"github.com/iliyamo/newstore-ledger/internal/repository"
)

func TestNamedLockRefusedInsideTx(t *testing.T) {
	s := New()
	ctx := context.Background()
	ran := false
	err := s.WithTx(ctx, func(ctx context.Context) error {
		return s.WithNamedLock(ctx, "draw_complete:1", time.Second, func(context.Context) error {
			ran = true
			return nil
		})
	})
	assert.ErrorIs(t, err, repository.ErrLockInTx)
	assert.False(t, ran)
}

func TestNamedLockTimesOutWhileHeld(t *testing.T) {
	s := New()
	ctx := context.Background()
	held := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = s.WithNamedLock(ctx, "draw_complete:1", time.Second, func(context.Context) error {
			close(held)
			<-done
			return nil
		})
	}()
	<-held

	err := s.WithNamedLock(ctx, "draw_complete:1", 20*time.Millisecond, func(context.Context) error { return nil })
	assert.ErrorIs(t, err, repository.ErrLockTimeout)

	// other names are independent
	require.NoError(t, s.WithNamedLock(ctx, "draw_complete:2", 20*time.Millisecond, func(context.Context) error { return nil }))

	close(done)
	require.Eventually(t, func() bool {
		return s.WithNamedLock(ctx, "draw_complete:1", 10*time.Millisecond, func(context.Context) error { return nil }) == nil
	}, time.Second, 5*time.Millisecond)
}

func TestNamedLockSerialises(t *testing.T) {
	s := New()
	ctx := context.Background()
	var inside, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.WithNamedLock(ctx, "draw_open", time.Second, func(context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				if n > atomic.LoadInt32(&peak) {
					atomic.StoreInt32(&peak, n)
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), peak)
}

func TestNamedLockReleasedOnError(t *testing.T) {
	s := New()
	ctx := context.Background()
	boom := errors.New("boom")
	err := s.WithNamedLock(ctx, "draw_open", time.Second, func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, s.WithNamedLock(ctx, "draw_open", 10*time.Millisecond, func(context.Context) error { return nil }))
}

func TestInsertDrawAllowsOneOpen(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	first := &model.Draw{Status: model.DrawOpen, TotalNumbers: 100, OpenedAt: now}
	require.NoError(t, s.InsertDraw(ctx, first))
	err := s.InsertDraw(ctx, &model.Draw{Status: model.DrawOpen, TotalNumbers: 100, OpenedAt: now})
	assert.ErrorIs(t, err, repository.ErrConflict)

	closed := &model.Draw{Status: model.DrawClosed, TotalNumbers: 100, OpenedAt: now}
	require.NoError(t, s.InsertDraw(ctx, closed))
	assert.NotEqual(t, first.ID, closed.ID)
}

func TestWithTxRollsBack(t *testing.T) {
	s := New()
	ctx := context.Background()
	boom := errors.New("boom")
	err := s.WithTx(ctx, func(ctx context.Context) error {
		require.NoError(t, s.InsertDraw(ctx, &model.Draw{Status: model.DrawOpen, TotalNumbers: 10}))
		return boom
	})
	assert.ErrorIs(t, err, boom)
	_, err = s.CurrentDraw(ctx)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

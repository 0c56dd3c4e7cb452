package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoopRunsOnKick(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	boom := errors.New("boom")
	l := NewLoop("test", time.Hour, func(context.Context) error {
		calls.Add(1)
		return boom
	})
	go l.Run(ctx)

	l.Kick()
	require.Eventually(t, func() bool { return l.Runs() >= 1 }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, l.LastErr(), boom)
}

func TestLoopKickDoesNotBlock(t *testing.T) {
	l := NewLoop("idle", time.Hour, func(context.Context) error { return nil })
	// nobody runs the loop; extra kicks must be dropped
	for i := 0; i < 10; i++ {
		l.Kick()
	}
	assert.Equal(t, int64(0), l.Runs())
}

func TestTasksRecordErrors(t *testing.T) {
	tasks := NewTasks(context.Background())
	tasks.Go("ok", func(context.Context) error { return nil })
	tasks.Go("bad", func(context.Context) error { return errors.New("bad") })

	err := tasks.Wait()
	require.Error(t, err)
	assert.Len(t, tasks.Errors(), 1)
}

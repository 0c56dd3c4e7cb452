package worker

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Tasks runs fire-and-forget jobs detached from the request that started
// them.  Failures are logged and kept for inspection; Wait blocks until all
// jobs finished, which the server uses on shutdown.
type Tasks struct {
	ctx context.Context
	g   errgroup.Group

	mu   sync.Mutex
	errs []error
}

// NewTasks binds jobs to ctx, normally the server's lifetime context.
func NewTasks(ctx context.Context) *Tasks { return &Tasks{ctx: ctx} }

// Go starts fn in the background.
func (t *Tasks) Go(name string, fn func(ctx context.Context) error) {
	t.g.Go(func() error {
		err := fn(t.ctx)
		if err != nil {
			slog.Error("background task failed", "task", name, "err", err)
			t.mu.Lock()
			t.errs = append(t.errs, err)
			t.mu.Unlock()
		}
		return err
	})
}

// Wait blocks until every started job returned.  It returns the first
// failure, if any.
func (t *Tasks) Wait() error { return t.g.Wait() }

// Errors returns every failure recorded so far.
func (t *Tasks) Errors() []error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]error(nil), t.errs...)
}

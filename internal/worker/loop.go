// Package worker runs the service's background jobs: periodic loops that
// can also be kicked on demand, and one-off tasks tracked until shutdown.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Loop calls fn every interval and whenever Kick is called.  Runs never
// overlap; kicks arriving while a run is in progress coalesce into one
// follow-up run.
type Loop struct {
	name     string
	interval time.Duration
	fn       func(ctx context.Context) error
	kick     chan struct{}

	runs    atomic.Int64
	mu      sync.Mutex
	lastErr error
}

// NewLoop builds a loop; it does nothing until Run is called.
func NewLoop(name string, interval time.Duration, fn func(ctx context.Context) error) *Loop {
	return &Loop{name: name, interval: interval, fn: fn, kick: make(chan struct{}, 1)}
}

// Kick requests a run without waiting for it.
func (l *Loop) Kick() {
	select {
	case l.kick <- struct{}{}:
	default:
	}
}

// Run blocks until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	t := time.NewTicker(l.interval)
	defer t.Stop()
	slog.Info("worker started", "worker", l.name, "interval", l.interval)
	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped", "worker", l.name)
			return
		case <-t.C:
		case <-l.kick:
		}
		l.once(ctx)
	}
}

func (l *Loop) once(ctx context.Context) {
	err := l.fn(ctx)
	l.runs.Add(1)
	l.mu.Lock()
	l.lastErr = err
	l.mu.Unlock()
	if err != nil && ctx.Err() == nil {
		slog.Error("worker run failed", "worker", l.name, "err", err)
	}
}

// Runs reports how many runs completed.
func (l *Loop) Runs() int64 { return l.runs.Load() }

// LastErr returns the error of the latest run.
func (l *Loop) LastErr() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastErr
}

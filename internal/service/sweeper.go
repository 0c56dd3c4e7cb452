package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/iliyamo/newstore-ledger/internal/clock"
)

// SweeperConfig bounds one reconciliation pass.
type SweeperConfig struct {
	MinInterval time.Duration
	Batch       int
	Lookback    time.Duration
}

// Sweeper re-syncs payments that never got a usable webhook.
type Sweeper struct {
	store      Store
	settlement *Settlement
	clock      clock.Clock
	cfg        SweeperConfig

	group   singleflight.Group
	mu      sync.Mutex
	lastRun time.Time
}

func NewSweeper(store Store, settlement *Settlement, clk clock.Clock, cfg SweeperConfig) *Sweeper {
	if cfg.Batch <= 0 {
		cfg.Batch = 50
	}
	return &Sweeper{store: store, settlement: settlement, clock: clk, cfg: cfg}
}

// SweepResult counts what a pass did.
type SweepResult struct {
	Throttled bool
	Checked   int
	Settled   int
	Failed    int
}

// Sweep syncs a batch of open payments.  Unless forced it does nothing
// when the previous pass started less than MinInterval ago.  Concurrent
// callers share one in-flight pass.
func (s *Sweeper) Sweep(ctx context.Context, force bool) (*SweepResult, error) {
	if !force {
		s.mu.Lock()
		recent := !s.lastRun.IsZero() && s.clock.Now().Sub(s.lastRun) < s.cfg.MinInterval
		s.mu.Unlock()
		if recent {
			return &SweepResult{Throttled: true}, nil
		}
	}
	v, err, _ := s.group.Do("sweep", func() (any, error) {
		return s.run(ctx)
	})
	if err != nil {
		return nil, err
	}
	res := *v.(*SweepResult)
	return &res, nil
}

func (s *Sweeper) run(ctx context.Context) (*SweepResult, error) {
	ctx, span := tracer.Start(ctx, "sweeper.Sweep")
	defer span.End()

	now := s.clock.Now()
	s.mu.Lock()
	s.lastRun = now
	s.mu.Unlock()

	pending, err := s.store.UnsettledPayments(ctx, now.Add(-s.cfg.Lookback), s.cfg.Batch)
	if err != nil {
		return nil, err
	}
	res := &SweepResult{}
	for _, p := range pending {
		if ctx.Err() != nil {
			break
		}
		res.Checked++
		ar, err := s.settlement.Sync(ctx, p.ID, TriggerSweep)
		if err != nil {
			res.Failed++
			slog.Warn("sweep: payment sync failed", "paymentId", p.ID, "err", err)
			continue
		}
		if ar.Settled {
			res.Settled++
		}
	}
	span.SetAttributes(
		attribute.Int("sweep.checked", res.Checked),
		attribute.Int("sweep.settled", res.Settled),
		attribute.Int("sweep.failed", res.Failed),
	)
	if res.Checked > 0 {
		slog.Info("sweep finished", "checked", res.Checked, "settled", res.Settled, "failed", res.Failed)
	}
	return res, nil
}

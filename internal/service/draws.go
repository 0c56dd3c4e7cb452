package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/iliyamo/newstore-ledger/internal/clock"
	"github.com/iliyamo/newstore-ledger/internal/model"
	"github.com/iliyamo/newstore-ledger/internal/queue"
)

const maxTotalNumbers = 10000

// Draws covers the admin lifecycle of a draw.
type Draws struct {
	store  Store
	clock  clock.Clock
	pub    queue.Publisher
	onOpen func(drawID int64)
}

// NewDraws builds the draw service.  onOpen, when set, is called after a
// draw was opened; the server uses it to start autopay in the background.
func NewDraws(store Store, clk clock.Clock, pub queue.Publisher, onOpen func(drawID int64)) *Draws {
	if pub == nil {
		pub = queue.Nop{}
	}
	return &Draws{store: store, clock: clk, pub: pub, onOpen: onOpen}
}

// Current returns the open draw.
func (s *Draws) Current(ctx context.Context) (*model.Draw, error) {
	return resolveDraw(ctx, s.store, 0)
}

// OpenInput describes a new draw.  TotalNumbers 0 means the default.
type OpenInput struct {
	ProductID    *int64
	TotalNumbers int
}

// Open creates a draw with all of its slots.  Only one draw may be open at
// a time.
func (s *Draws) Open(ctx context.Context, in OpenInput) (*model.Draw, error) {
	total := in.TotalNumbers
	if total == 0 {
		total = model.DefaultTotalNumbers
	}
	if total < 1 || total > maxTotalNumbers {
		return nil, fmt.Errorf("total_numbers must be within 1..%d: %w", maxTotalNumbers, ErrInvalidInput)
	}

	d := &model.Draw{ProductID: in.ProductID, Status: model.DrawOpen, TotalNumbers: total, OpenedAt: s.clock.Now()}
	// concurrent opens queue on draw_open; the unique open marker on draws
	// backs it up
	err := s.store.WithNamedLock(ctx, "draw_open", drawLockWait, func(ctx context.Context) error {
		return s.store.WithTx(ctx, func(ctx context.Context) error {
			return s.insertOpen(ctx, d)
		})
	})
	if err != nil {
		return nil, err
	}
	slog.Info("draw opened", "drawId", d.ID, "totalNumbers", d.TotalNumbers)
	publish(ctx, s.pub, queue.KeyDrawOpened, queue.DrawOpened{DrawID: d.ID, TotalNumbers: d.TotalNumbers, OpenedAt: d.OpenedAt})
	if s.onOpen != nil {
		s.onOpen(d.ID)
	}
	return d, nil
}

func (s *Draws) insertOpen(ctx context.Context, d *model.Draw) error {
	if cur, err := s.store.CurrentDraw(ctx); err == nil {
		return fmt.Errorf("draw %d is still open: %w", cur.ID, ErrConflict)
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	if err := s.store.InsertDraw(ctx, d); err != nil {
		return err
	}
	all := make([]int, d.TotalNumbers)
	for i := range all {
		all[i] = i
	}
	return s.store.EnsureSlots(ctx, d.ID, all)
}

// Close closes a draw by hand.  Closing a closed draw returns it unchanged.
func (s *Draws) Close(ctx context.Context, drawID int64) (*model.Draw, error) {
	now := s.clock.Now()
	closed, err := s.store.CloseDrawIfOpen(ctx, drawID, now)
	if err != nil {
		return nil, err
	}
	d, err := s.store.GetDraw(ctx, drawID)
	if err != nil {
		return nil, fmt.Errorf("draw %d: %w", drawID, err)
	}
	if closed {
		slog.Info("draw closed by admin", "drawId", drawID)
		publish(ctx, s.pub, queue.KeyDrawClosed, queue.DrawClosed{DrawID: drawID, ClosedAt: now})
	}
	return d, nil
}

// RecordWinner stores the winning number of a closed draw and the user who
// bought it.
func (s *Draws) RecordWinner(ctx context.Context, drawID int64, number int) (*model.Draw, error) {
	var out *model.Draw
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		d, err := s.store.LockDraw(ctx, drawID)
		if err != nil {
			return fmt.Errorf("draw %d: %w", drawID, err)
		}
		if d.IsOpen() {
			return fmt.Errorf("draw %d is still open: %w", drawID, ErrConflict)
		}
		if !d.InRange(number) {
			return fmt.Errorf("number %d out of range: %w", number, ErrInvalidInput)
		}
		slots, err := s.store.LockSlots(ctx, drawID, []int{number})
		if err != nil {
			return err
		}
		if len(slots) == 0 || slots[0].Status != model.SlotSold || slots[0].PaymentID == nil {
			return fmt.Errorf("number %d was not sold: %w", number, ErrConflict)
		}
		p, err := s.store.GetPayment(ctx, *slots[0].PaymentID)
		if err != nil {
			return fmt.Errorf("selling payment of number %d: %w", number, err)
		}
		now := s.clock.Now()
		if err := s.store.SetDrawWinner(ctx, drawID, number, p.UserID, now); err != nil {
			return err
		}
		d.WinnerNumber, d.WinnerUserID, d.RealizedAt = &number, &p.UserID, &now
		out = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	slog.Info("draw winner recorded", "drawId", drawID, "number", number, "userId", *out.WinnerUserID)
	return out, nil
}

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/newstore-ledger/internal/clock"
	"github.com/iliyamo/newstore-ledger/internal/model"
)

const janitorBatch = 500

// Reservations places and manages time-boxed holds on numbers.
type Reservations struct {
	store Store
	clock clock.Clock
	ttl   time.Duration
	kick  func()
}

// NewReservations builds the reservation manager.  kick, when not nil, is
// called after each successful reservation to nudge the expiry janitor.
func NewReservations(store Store, clk clock.Clock, ttl time.Duration, kick func()) *Reservations {
	if ttl <= 0 {
		ttl = model.DefaultReservationTTL
	}
	return &Reservations{store: store, clock: clk, ttl: ttl, kick: kick}
}

// ReserveInput is a hold request.  DrawID 0 means the current open draw.
type ReserveInput struct {
	UserID  int64
	DrawID  int64
	Numbers []int
}

// Reserve holds every requested number or none.  When any number is taken
// the returned error is a *ConflictError listing all of them.
func (s *Reservations) Reserve(ctx context.Context, in ReserveInput) (*model.Reservation, error) {
	res, err := s.reserve(ctx, in, false)
	if err == nil && s.kick != nil {
		s.kick()
	}
	return res, err
}

// reservePartial holds whatever subset of the numbers is available.
func (s *Reservations) reservePartial(ctx context.Context, in ReserveInput) (*model.Reservation, error) {
	return s.reserve(ctx, in, true)
}

func (s *Reservations) reserve(ctx context.Context, in ReserveInput, partial bool) (*model.Reservation, error) {
	d, err := resolveDraw(ctx, s.store, in.DrawID)
	if err != nil {
		return nil, err
	}
	numbers := normalizeNumbers(d, in.Numbers)
	if len(numbers) == 0 {
		return nil, fmt.Errorf("no valid numbers in range 0..%d: %w", d.TotalNumbers-1, ErrInvalidInput)
	}
	if !d.IsOpen() {
		return nil, fmt.Errorf("draw %d is closed: %w", d.ID, ErrConflict)
	}

	var out *model.Reservation
	err = s.store.WithTx(ctx, func(ctx context.Context) error {
		now := s.clock.Now()
		free, conflicts, err := claim(ctx, s.store, now, d.ID, numbers)
		if err != nil {
			return err
		}
		if len(conflicts) > 0 && !partial {
			return newConflict(conflicts)
		}
		if len(free) == 0 {
			return ErrNoneAvailable
		}
		r := &model.Reservation{
			ID:        uuid.NewString(),
			UserID:    in.UserID,
			DrawID:    d.ID,
			Numbers:   free,
			Status:    model.ReservationActive,
			CreatedAt: now,
			ExpiresAt: now.Add(s.ttl),
		}
		if err := s.store.InsertReservation(ctx, r); err != nil {
			return err
		}
		if err := s.store.ReserveSlots(ctx, d.ID, free, r.ID); err != nil {
			return err
		}
		out = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	slog.Info("reservation created", "reservationId", out.ID, "userId", out.UserID, "drawId", out.DrawID, "numbers", out.Numbers)
	return out, nil
}

// Get returns the caller's reservation.  A hold past its TTL is reported
// as expired even before the janitor persisted that.
func (s *Reservations) Get(ctx context.Context, userID int64, id string) (*model.Reservation, error) {
	r, err := s.store.GetReservation(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reservation %s: %w", id, err)
	}
	if r.UserID != userID {
		return nil, ErrForbidden
	}
	if r.Stale(s.clock.Now()) {
		r.Status = model.ReservationExpired
	}
	return r, nil
}

// Cancel releases the caller's active reservation.  Cancelling an expired
// or cancelled one is a no-op; a paid one is a conflict.
func (s *Reservations) Cancel(ctx context.Context, userID int64, id string) (*model.Reservation, error) {
	var out *model.Reservation
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		r, err := s.store.LockReservation(ctx, id)
		if err != nil {
			return fmt.Errorf("reservation %s: %w", id, err)
		}
		if r.UserID != userID {
			return ErrForbidden
		}
		switch r.Status {
		case model.ReservationPaid:
			return fmt.Errorf("reservation %s is paid: %w", id, ErrConflict)
		case model.ReservationExpired, model.ReservationCancelled:
			out = r
			return nil
		case model.ReservationActive:
		}
		if err := s.release(ctx, r, model.ReservationCancelled); err != nil {
			return err
		}
		out = r
		return nil
	})
	return out, err
}

// cancel releases a reservation on behalf of the system.
func (s *Reservations) cancel(ctx context.Context, id string) error {
	return s.store.WithTx(ctx, func(ctx context.Context) error {
		r, err := s.store.LockReservation(ctx, id)
		if err != nil {
			return err
		}
		if r.Status != model.ReservationActive {
			return nil
		}
		return s.release(ctx, r, model.ReservationCancelled)
	})
}

func (s *Reservations) release(ctx context.Context, r *model.Reservation, status model.ReservationStatus) error {
	if err := s.store.SetReservationStatus(ctx, []string{r.ID}, status); err != nil {
		return err
	}
	if err := s.store.ReleaseSlots(ctx, []string{r.ID}); err != nil {
		return err
	}
	r.Status = status
	return nil
}

// SweepExpired expires one batch of stale reservations and frees their
// slots.  It returns how many were expired.
func (s *Reservations) SweepExpired(ctx context.Context) (int, error) {
	n := 0
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		stale, err := s.store.StaleReservations(ctx, s.clock.Now(), janitorBatch)
		if err != nil {
			return err
		}
		ids := make([]string, len(stale))
		for i, r := range stale {
			ids[i] = r.ID
		}
		if err := s.store.SetReservationStatus(ctx, ids, model.ReservationExpired); err != nil {
			return err
		}
		n = len(ids)
		return s.store.ReleaseSlots(ctx, ids)
	})
	if err == nil && n > 0 {
		slog.Info("expired reservations swept", "count", n)
	}
	return n, err
}

// Board is the public per-number view of a draw.
type Board struct {
	Draw    model.Draw
	Numbers []model.SlotStatus // indexed by number
}

// Board reports every number of the draw as available, reserved or sold,
// applying the taken rule: approved payments and sold rows are sold,
// reserved rows count only while their reservation blocks.
func (s *Reservations) Board(ctx context.Context, drawID int64) (*Board, error) {
	d, err := resolveDraw(ctx, s.store, drawID)
	if err != nil {
		return nil, err
	}
	slots, err := s.store.ListSlots(ctx, d.ID)
	if err != nil {
		return nil, err
	}
	taken, err := s.store.ApprovedNumbers(ctx, d.ID)
	if err != nil {
		return nil, err
	}
	var ownerIDs []string
	for _, sl := range slots {
		if sl.Status == model.SlotReserved && sl.ReservationID != nil {
			ownerIDs = append(ownerIDs, *sl.ReservationID)
		}
	}
	owners, err := s.store.ReservationsByID(ctx, ownerIDs)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	blocking := map[string]bool{}
	for _, r := range owners {
		blocking[r.ID] = r.Blocking(now)
	}

	b := &Board{Draw: *d, Numbers: make([]model.SlotStatus, d.TotalNumbers)}
	for i := range b.Numbers {
		b.Numbers[i] = model.SlotAvailable
	}
	for _, sl := range slots {
		if !d.InRange(sl.Number) {
			continue
		}
		switch sl.Status {
		case model.SlotSold:
			b.Numbers[sl.Number] = model.SlotSold
		case model.SlotReserved:
			if sl.ReservationID != nil && blocking[*sl.ReservationID] {
				b.Numbers[sl.Number] = model.SlotReserved
			}
		case model.SlotAvailable:
		}
	}
	for n := range taken {
		if d.InRange(n) {
			b.Numbers[n] = model.SlotSold
		}
	}
	return b, nil
}

// isNoneAvailable reports a partial reservation that got nothing.
func isNoneAvailable(err error) bool { return errors.Is(err, ErrNoneAvailable) }

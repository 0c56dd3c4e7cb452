// Package service holds the ticket ledger's business rules: reservations,
// settlement of provider payments and vouchers, autopay and reconciliation.
// Every state change runs in a Store transaction; external calls are made
// outside of them.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/iliyamo/newstore-ledger/internal/model"
	"github.com/iliyamo/newstore-ledger/internal/queue"
)

var tracer = otel.Tracer("github.com/iliyamo/newstore-ledger/internal/service")

const drawLockWait = 10 * time.Second

// resolveDraw loads drawID, or the current open draw when drawID is 0.
func resolveDraw(ctx context.Context, st DrawStore, drawID int64) (*model.Draw, error) {
	var (
		d   *model.Draw
		err error
	)
	if drawID == 0 {
		d, err = st.CurrentDraw(ctx)
	} else {
		d, err = st.GetDraw(ctx, drawID)
	}
	if errors.Is(err, ErrNotFound) {
		if drawID == 0 {
			return nil, fmt.Errorf("no open draw: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("draw %d: %w", drawID, ErrNotFound)
	}
	return d, err
}

// normalizeNumbers deduplicates, drops numbers outside the draw and sorts.
func normalizeNumbers(d *model.Draw, in []int) []int {
	seen := make(map[int]bool, len(in))
	out := make([]int, 0, len(in))
	for _, n := range in {
		if !d.InRange(n) || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

// claim locks the slots of numbers and decides which of them can be taken
// now.  Stale reservations owning any of the slots are expired first and
// reserved slots without a live owner are freed.  It must run inside a
// transaction.
func claim(ctx context.Context, st Store, now time.Time, drawID int64, numbers []int) (free, conflicts []int, err error) {
	if err := st.EnsureSlots(ctx, drawID, numbers); err != nil {
		return nil, nil, err
	}
	slots, err := st.LockSlots(ctx, drawID, numbers)
	if err != nil {
		return nil, nil, err
	}

	var (
		ownerIDs []string
		orphans  []int
		seen     = map[string]bool{}
	)
	for _, sl := range slots {
		if sl.Status != model.SlotReserved {
			continue
		}
		if sl.ReservationID == nil {
			orphans = append(orphans, sl.Number)
			continue
		}
		if !seen[*sl.ReservationID] {
			seen[*sl.ReservationID] = true
			ownerIDs = append(ownerIDs, *sl.ReservationID)
		}
	}

	if len(ownerIDs) > 0 {
		owners, err := st.LockReservations(ctx, ownerIDs)
		if err != nil {
			return nil, nil, err
		}
		live := map[string]bool{}
		var expired []string
		for _, r := range owners {
			switch {
			case r.Stale(now):
				expired = append(expired, r.ID)
			case r.Blocking(now):
				live[r.ID] = true
			}
		}
		// reservations that are gone, paid, cancelled or just expired all
		// release their remaining reserved slots
		var release []string
		for _, id := range ownerIDs {
			if !live[id] {
				release = append(release, id)
			}
		}
		if err := st.SetReservationStatus(ctx, expired, model.ReservationExpired); err != nil {
			return nil, nil, err
		}
		if err := st.ReleaseSlots(ctx, release); err != nil {
			return nil, nil, err
		}
		if len(expired) > 0 {
			slog.Info("reservations expired", "drawId", drawID, "count", len(expired))
		}
	}
	if err := st.FreeSlots(ctx, drawID, orphans); err != nil {
		return nil, nil, err
	}

	taken, err := st.ApprovedNumbers(ctx, drawID)
	if err != nil {
		return nil, nil, err
	}
	slots, err = st.LockSlots(ctx, drawID, numbers)
	if err != nil {
		return nil, nil, err
	}
	byNumber := make(map[int]model.Slot, len(slots))
	for _, sl := range slots {
		byNumber[sl.Number] = sl
	}
	for _, n := range numbers {
		sl, ok := byNumber[n]
		_, approved := taken[n]
		if approved || (ok && !sl.Free()) {
			conflicts = append(conflicts, n)
			continue
		}
		free = append(free, n)
	}
	return free, conflicts, nil
}

// withDrawLock runs fn, which opens its own transaction, while holding
// the draw_complete:<id> lock.  Every transaction that sells numbers of the
// draw goes through it, so the lock is always taken before any row lock and
// released after commit.
func withDrawLock(ctx context.Context, st Tx, drawID int64, fn func(ctx context.Context) error) error {
	return st.WithNamedLock(ctx, fmt.Sprintf("draw_complete:%d", drawID), drawLockWait, fn)
}

// completeDraw closes the draw when every slot is sold and reports whether
// this call closed it.  The caller holds the draw lock, so no other sale of
// the draw can commit between the count and the close.
func completeDraw(ctx context.Context, st Store, now time.Time, drawID int64) (bool, error) {
	d, err := st.GetDraw(ctx, drawID)
	if err != nil {
		return false, err
	}
	if !d.IsOpen() {
		return false, nil
	}
	sold, err := st.CountSold(ctx, drawID)
	if err != nil {
		return false, err
	}
	if sold < d.TotalNumbers {
		return false, nil
	}
	return st.CloseDrawIfOpen(ctx, drawID, now)
}

func publish(ctx context.Context, pub queue.Publisher, key string, v any) {
	if pub == nil {
		return
	}
	if err := pub.Publish(context.WithoutCancel(ctx), key, v); err != nil {
		slog.Warn("event publish failed", "key", key, "err", err)
	}
}

package service

import (
	"context"
	"fmt"
	"log/slog" // structured logging
	"time"

	"go.opentelemetry.io/otel/attribute" // span attributes
	"go.opentelemetry.io/otel/codes"     // span status

	"github.com/iliyamo/newstore-ledger/internal/clock"
	"github.com/iliyamo/newstore-ledger/internal/gateway"
	"github.com/iliyamo/newstore-ledger/internal/model"
	"github.com/iliyamo/newstore-ledger/internal/queue"
)

// Trigger names what asked for a payment to be reconciled.
type Trigger string

const (
	TriggerWebhook Trigger = "webhook"
	TriggerPoll    Trigger = "poll"
	TriggerSweep   Trigger = "sweep"
	TriggerReplay  Trigger = "replay"
	TriggerCharge  Trigger = "charge"
)

// Settlement turns provider approvals into sold numbers exactly once.
type Settlement struct {
	store   Store
	gw      gateway.Gateway
	clock   clock.Clock
	pub     queue.Publisher
	timeout time.Duration
}

// NewSettlement builds the settlement engine.  timeout bounds each
// provider call.
func NewSettlement(store Store, gw gateway.Gateway, clk clock.Clock, pub queue.Publisher, timeout time.Duration) *Settlement {
	if pub == nil {
		pub = queue.Nop{}
	}
	return &Settlement{store: store, gw: gw, clock: clk, pub: pub, timeout: timeout}
}

// ApplyResult describes what one Apply call did.
type ApplyResult struct {
	Payment model.Payment
	// Settled is true only for the call that sold the numbers.
	Settled bool
	// Oversold lists numbers another payment had already bought.
	Oversold []int
	// Displaced lists other users' reservations that lost numbers to
	// this payment and were cancelled.
	Displaced  []string
	DrawClosed bool
}

// Sync asks the provider for the payment's status and applies it.
func (s *Settlement) Sync(ctx context.Context, paymentID string, trigger Trigger) (*ApplyResult, error) {
	ctx, span := tracer.Start(ctx, "settlement.Sync")
	defer span.End()
	span.SetAttributes(attribute.String("payment.id", paymentID), attribute.String("trigger", string(trigger)))

	local, err := s.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("payment %s: %w", paymentID, err)
	}
	if local.Method == model.MethodVoucher {
		return &ApplyResult{Payment: *local}, nil
	}

	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	remote, err := s.gw.GetPayment(cctx, paymentID)
	cancel()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "provider lookup failed")
		slog.Warn("payment sync failed", "paymentId", paymentID, "trigger", trigger, "err", err)
		return nil, err
	}
	return s.Apply(ctx, paymentID, remote.Status, remote.StatusDetail)
}

// Apply records a provider status and, for an approved payment that was not
// settled yet, sells its numbers, marks its reservation paid and closes
// the draw when it sold out.  Repeated calls are no-ops.
func (s *Settlement) Apply(ctx context.Context, paymentID string, status model.PaymentStatus, detail string) (*ApplyResult, error) {
	ctx, span := tracer.Start(ctx, "settlement.Apply")
	defer span.End()
	span.SetAttributes(attribute.String("payment.id", paymentID), attribute.String("payment.status", string(status)))

	cur, err := s.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("payment %s: %w", paymentID, err)
	}

	var res ApplyResult
	apply := func(ctx context.Context) error {
		return s.store.WithTx(ctx, func(ctx context.Context) error {
			res = ApplyResult{}
			p, err := s.store.LockPayment(ctx, paymentID)
			if err != nil {
				return fmt.Errorf("payment %s: %w", paymentID, err)
			}
			if p.Status != status || p.StatusDetail != detail {
				if err := s.store.SetPaymentStatus(ctx, p.ID, status, detail); err != nil {
					return err
				}
				p.Status, p.StatusDetail = status, detail
			}
			res.Payment = *p
			if p.Settled() || status.Phase() != model.PhaseApproved {
				return nil
			}
			return s.settle(ctx, p, &res)
		})
	}
	// selling needs the draw lock; it is taken before any row lock
	if cur.DrawID != nil && !cur.Settled() && status.Phase() == model.PhaseApproved {
		err = withDrawLock(ctx, s.store, *cur.DrawID, apply)
	} else {
		err = apply(ctx)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	p := res.Payment
	if len(res.Oversold) > 0 {
		slog.Error("payment oversold, manual refund needed", "paymentId", p.ID, "userId", p.UserID, "numbers", res.Oversold)
		publish(ctx, s.pub, queue.KeyPaymentOversold, queue.PaymentOversold{
			PaymentID: p.ID, UserID: p.UserID, DrawID: drawOf(p), Numbers: res.Oversold, At: s.clock.Now(),
		})
	}
	if len(res.Displaced) > 0 {
		slog.Warn("reservations displaced by a late approval", "paymentId", p.ID, "reservations", res.Displaced)
	}
	if res.Settled {
		slog.Info("payment settled", "paymentId", p.ID, "userId", p.UserID, "drawId", drawOf(p), "numbers", p.Numbers)
		publish(ctx, s.pub, queue.KeyPaymentSettled, settledEvent(p))
	}
	if res.DrawClosed {
		slog.Info("draw sold out and closed", "drawId", drawOf(p))
		publish(ctx, s.pub, queue.KeyDrawClosed, queue.DrawClosed{DrawID: drawOf(p), ClosedAt: s.clock.Now(), SoldOut: true})
	}
	return &res, nil
}

func (s *Settlement) settle(ctx context.Context, p *model.Payment, res *ApplyResult) error {
	now := s.clock.Now()
	if p.DrawID != nil && len(p.Numbers) > 0 {
		drawID := *p.DrawID
		if err := s.store.EnsureSlots(ctx, drawID, p.Numbers); err != nil {
			return err
		}
		slots, err := s.store.LockSlots(ctx, drawID, p.Numbers)
		if err != nil {
			return err
		}
		var (
			sell      []int
			displaced []string
			seen      = map[string]bool{}
		)
		for _, sl := range slots {
			switch sl.Status {
			case model.SlotSold:
				if sl.PaymentID == nil || *sl.PaymentID != p.ID {
					res.Oversold = append(res.Oversold, sl.Number)
				}
			case model.SlotReserved:
				// held by someone else since this payment's hold lapsed
				if id := sl.ReservationID; id != nil && !ownedBy(p, *id) && !seen[*id] {
					seen[*id] = true
					displaced = append(displaced, *id)
				}
				sell = append(sell, sl.Number)
			case model.SlotAvailable:
				sell = append(sell, sl.Number)
			}
		}
		if err := s.store.SellSlots(ctx, drawID, sell, p.ID); err != nil {
			return err
		}
		if err := s.displace(ctx, now, displaced, res); err != nil {
			return err
		}
	}
	if p.ReservationID != nil {
		if err := s.store.SetReservationStatus(ctx, []string{*p.ReservationID}, model.ReservationPaid); err != nil {
			return err
		}
	}
	if err := s.store.MarkPaymentSettled(ctx, p.ID, now, now); err != nil {
		return err
	}
	if p.PaidAt == nil {
		p.PaidAt = &now
	}
	p.SettledAt = &now
	res.Payment = *p
	res.Settled = true

	if p.DrawID != nil {
		closed, err := completeDraw(ctx, s.store, now, *p.DrawID)
		if err != nil {
			return err
		}
		res.DrawClosed = closed
	}
	return nil
}

func ownedBy(p *model.Payment, reservationID string) bool {
	return p.ReservationID != nil && *p.ReservationID == reservationID
}

// displace ends reservations whose numbers were just sold to another
// payment and returns the rest of their slots to the pool.  Holds past
// their TTL become expired, live ones cancelled.
func (s *Settlement) displace(ctx context.Context, now time.Time, ids []string, res *ApplyResult) error {
	if len(ids) == 0 {
		return nil
	}
	rs, err := s.store.LockReservations(ctx, ids)
	if err != nil {
		return err
	}
	var cancelled, expired []string
	for _, r := range rs {
		switch {
		case r.Stale(now):
			expired = append(expired, r.ID)
		case r.Blocking(now):
			cancelled = append(cancelled, r.ID)
		}
	}
	if err := s.store.SetReservationStatus(ctx, expired, model.ReservationExpired); err != nil {
		return err
	}
	if err := s.store.SetReservationStatus(ctx, cancelled, model.ReservationCancelled); err != nil {
		return err
	}
	if err := s.store.ReleaseSlots(ctx, ids); err != nil {
		return err
	}
	res.Displaced = append(res.Displaced, cancelled...)
	return nil
}

// Get returns a payment the caller owns.
func (s *Settlement) Get(ctx context.Context, userID int64, id string) (*model.Payment, error) {
	p, err := s.store.GetPayment(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("payment %s: %w", id, err)
	}
	if p.UserID != userID {
		return nil, ErrForbidden
	}
	return p, nil
}

// Poll is the client-side status check: it syncs with the provider when
// the payment is still open and returns the resulting row.  Provider
// failures reach the caller as gateway.ErrProvider so it can retry.
func (s *Settlement) Poll(ctx context.Context, userID int64, id string) (*model.Payment, error) {
	p, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if p.Settled() || p.Status.Phase() == model.PhaseFailed {
		return p, nil
	}
	res, err := s.Sync(ctx, id, TriggerPoll)
	if err != nil {
		return nil, err
	}
	return &res.Payment, nil
}

func drawOf(p model.Payment) int64 {
	if p.DrawID == nil {
		return 0
	}
	return *p.DrawID
}

func settledEvent(p model.Payment) queue.PaymentSettled {
	ev := queue.PaymentSettled{
		PaymentID:   p.ID,
		UserID:      p.UserID,
		DrawID:      drawOf(p),
		Numbers:     p.Numbers,
		AmountCents: p.AmountCents,
		Method:      string(p.Method),
	}
	if p.SettledAt != nil {
		ev.SettledAt = *p.SettledAt
	}
	return ev
}

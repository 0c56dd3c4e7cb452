package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/iliyamo/newstore-ledger/internal/clock"
	"github.com/iliyamo/newstore-ledger/internal/gateway"
	"github.com/iliyamo/newstore-ledger/internal/model"
)

// CheckoutConfig holds the provider-facing knobs of checkout.
type CheckoutConfig struct {
	NotificationURL string
	// PixMinExpiry is the shortest QR validity handed to the provider.
	PixMinExpiry time.Duration
	Timeout      time.Duration
}

// Checkout turns a reservation into a provider payment intent.
type Checkout struct {
	store  Store
	gw     gateway.Gateway
	prices PriceSource
	clock  clock.Clock
	cfg    CheckoutConfig
}

func NewCheckout(store Store, gw gateway.Gateway, prices PriceSource, clk clock.Clock, cfg CheckoutConfig) *Checkout {
	return &Checkout{store: store, gw: gw, prices: prices, clock: clk, cfg: cfg}
}

// CreatePix creates, or returns the already pending, PIX payment of the
// caller's active reservation.
func (s *Checkout) CreatePix(ctx context.Context, who Identity, reservationID string) (*model.Payment, error) {
	r, err := s.store.GetReservation(ctx, reservationID)
	if err != nil {
		return nil, fmt.Errorf("reservation %s: %w", reservationID, err)
	}
	if r.UserID != who.UserID {
		return nil, ErrForbidden
	}
	now := s.clock.Now()
	if !r.Blocking(now) {
		return nil, fmt.Errorf("reservation %s is not active: %w", r.ID, ErrConflict)
	}
	if err := s.checkHeld(ctx, r); err != nil {
		return nil, err
	}

	existing, err := s.store.PendingPaymentFor(ctx, r.ID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	price, err := s.prices.Current(ctx)
	if err != nil {
		return nil, err
	}
	amount := int64(len(r.Numbers)) * price
	expires := r.ExpiresAt
	if floor := now.Add(s.cfg.PixMinExpiry); expires.Before(floor) {
		expires = floor
	}

	cctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	gp, err := s.gw.CreatePix(cctx, gateway.PixRequest{
		AmountCents:       amount,
		Description:       fmt.Sprintf("Draw %d numbers %v", r.DrawID, r.Numbers),
		PayerEmail:        who.Email,
		IdempotencyKey:    r.ID,
		ExternalReference: r.ID,
		NotificationURL:   s.cfg.NotificationURL,
		ExpiresAt:         expires,
	})
	cancel()
	if err != nil {
		slog.Warn("pix creation failed", "reservationId", r.ID, "err", err)
		return nil, err
	}

	drawID, resID := r.DrawID, r.ID
	p := &model.Payment{
		ID:            gp.ID,
		UserID:        who.UserID,
		DrawID:        &drawID,
		ReservationID: &resID,
		Numbers:       r.Numbers,
		AmountCents:   amount,
		Method:        model.MethodPix,
		Status:        gp.Status,
		StatusDetail:  gp.StatusDetail,
		QRCode:        gp.QRCode,
		QRCodeBase64:  gp.QRCodeBase64,
		CreatedAt:     now,
	}
	err = s.store.WithTx(ctx, func(ctx context.Context) error {
		if err := s.store.InsertPayment(ctx, p); err != nil {
			return err
		}
		return s.store.AttachPayment(ctx, r.ID, p.ID)
	})
	if errors.Is(err, ErrConflict) {
		// the provider deduplicated a concurrent checkout of the same reservation
		return s.store.GetPayment(ctx, p.ID)
	}
	if err != nil {
		return nil, err
	}
	slog.Info("pix payment created", "paymentId", p.ID, "reservationId", r.ID, "amountCents", amount)
	return p, nil
}

// checkHeld fails with a *ConflictError when a late settlement took any of
// the reservation's numbers.
func (s *Checkout) checkHeld(ctx context.Context, r *model.Reservation) error {
	return s.store.WithTx(ctx, func(ctx context.Context) error {
		slots, err := s.store.LockSlots(ctx, r.DrawID, r.Numbers)
		if err != nil {
			return err
		}
		held := make(map[int]bool, len(slots))
		for _, sl := range slots {
			if sl.Status == model.SlotReserved && sl.ReservationID != nil && *sl.ReservationID == r.ID {
				held[sl.Number] = true
			}
		}
		var lost []int
		for _, n := range r.Numbers {
			if !held[n] {
				lost = append(lost, n)
			}
		}
		if len(lost) > 0 {
			return newConflict(lost)
		}
		return nil
	})
}

package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid" // voucher payment ids

	"github.com/iliyamo/newstore-ledger/internal/clock"
	"github.com/iliyamo/newstore-ledger/internal/model"
	"github.com/iliyamo/newstore-ledger/internal/queue"
)

// Vouchers grants and redeems pre-paid credit.
type Vouchers struct {
	store Store
	clock clock.Clock
	pub   queue.Publisher
}

func NewVouchers(store Store, clk clock.Clock, pub queue.Publisher) *Vouchers {
	if pub == nil {
		pub = queue.Nop{}
	}
	return &Vouchers{store: store, clock: clk, pub: pub}
}

// RedeemResult is the outcome of a successful redemption.
type RedeemResult struct {
	PaymentID  string
	DrawID     int64
	Numbers    []int
	Remaining  int
	DrawClosed bool
}

// Redeem buys numbers with the caller's vouchers, oldest first.  Either all
// numbers are bought and paid for or nothing changes.
func (s *Vouchers) Redeem(ctx context.Context, userID, drawID int64, numbers []int) (*RedeemResult, error) {
	d, err := resolveDraw(ctx, s.store, drawID)
	if err != nil {
		return nil, err
	}
	ns := normalizeNumbers(d, numbers)
	if len(ns) == 0 {
		return nil, fmt.Errorf("no valid numbers in range 0..%d: %w", d.TotalNumbers-1, ErrInvalidInput)
	}
	if !d.IsOpen() {
		return nil, fmt.Errorf("draw %d is closed: %w", d.ID, ErrConflict)
	}

	var (
		res     *RedeemResult
		payment *model.Payment
	)
	redeem := func(ctx context.Context) error {
		return s.store.WithTx(ctx, func(ctx context.Context) error {
			var err error
			res, payment, err = s.redeem(ctx, userID, d.ID, ns)
			return err
		})
	}
	if err := withDrawLock(ctx, s.store, d.ID, redeem); err != nil {
		return nil, err
	}

	slog.Info("vouchers redeemed", "userId", userID, "drawId", d.ID, "numbers", res.Numbers, "remaining", res.Remaining)
	publish(ctx, s.pub, queue.KeyPaymentSettled, settledEvent(*payment))
	if res.DrawClosed {
		publish(ctx, s.pub, queue.KeyDrawClosed, queue.DrawClosed{DrawID: d.ID, ClosedAt: s.clock.Now(), SoldOut: true})
	}
	return res, nil
}

// redeem runs inside the transaction: vouchers are locked first, then the
// slots.
func (s *Vouchers) redeem(ctx context.Context, userID, drawID int64, ns []int) (*RedeemResult, *model.Payment, error) {
	now := s.clock.Now()
	vs, err := s.store.LockUsableVouchers(ctx, userID, drawID)
	if err != nil {
		return nil, nil, err
	}
	balance := 0
	for _, v := range vs {
		balance += v.Remaining
	}
	if balance < len(ns) {
		return nil, nil, fmt.Errorf("voucher balance %d is lower than %d numbers: %w", balance, len(ns), ErrConflict)
	}

	free, conflicts, err := claim(ctx, s.store, now, drawID, ns)
	if err != nil {
		return nil, nil, err
	}
	if len(conflicts) > 0 {
		return nil, nil, newConflict(conflicts)
	}

	paymentID := "voucher-" + uuid.NewString()
	if err := s.store.SellSlots(ctx, drawID, free, paymentID); err != nil {
		return nil, nil, err
	}
	need := len(free)
	for _, v := range vs {
		if need == 0 {
			break
		}
		take := min(v.Remaining, need)
		if err := s.store.DebitVoucher(ctx, v.ID, v.Remaining-take); err != nil {
			return nil, nil, err
		}
		need -= take
	}

	payment := &model.Payment{
		ID:          paymentID,
		UserID:      userID,
		DrawID:      &drawID,
		Numbers:     free,
		AmountCents: 0,
		Method:      model.MethodVoucher,
		Status:      model.PaymentApproved,
		CreatedAt:   now,
		PaidAt:      &now,
		SettledAt:   &now,
	}
	if err := s.store.InsertPayment(ctx, payment); err != nil {
		return nil, nil, err
	}
	closed, err := completeDraw(ctx, s.store, now, drawID)
	if err != nil {
		return nil, nil, err
	}
	res := &RedeemResult{PaymentID: paymentID, DrawID: drawID, Numbers: free, Remaining: balance - len(free), DrawClosed: closed}
	return res, payment, nil
}

// GrantInput describes credit handed to a user.
type GrantInput struct {
	UserID    int64
	Count     int
	DrawID    *int64  // nil: valid in any draw
	PaymentID *string // purchase that paid for it, if any
}

// Grant issues a voucher.
func (s *Vouchers) Grant(ctx context.Context, in GrantInput) (*model.Voucher, error) {
	if in.UserID <= 0 || in.Count <= 0 {
		return nil, fmt.Errorf("user and a positive count are required: %w", ErrInvalidInput)
	}
	v := &model.Voucher{
		UserID:    in.UserID,
		DrawID:    in.DrawID,
		PaymentID: in.PaymentID,
		Remaining: in.Count,
		CreatedAt: s.clock.Now(),
	}
	if err := s.store.InsertVoucher(ctx, v); err != nil {
		return nil, err
	}
	slog.Info("voucher granted", "voucherId", v.ID, "userId", v.UserID, "count", v.Remaining)
	return v, nil
}

// Balance returns the caller's usable vouchers and their total credit.
func (s *Vouchers) Balance(ctx context.Context, userID int64) (int, []model.Voucher, error) {
	vs, err := s.store.UsableVouchers(ctx, userID)
	if err != nil {
		return 0, nil, err
	}
	total := 0
	for _, v := range vs {
		total += v.Remaining
	}
	return total, vs, nil
}

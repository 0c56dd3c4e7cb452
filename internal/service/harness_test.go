package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iliyamo/newstore-ledger/internal/clock"
	"github.com/iliyamo/newstore-ledger/internal/gateway/gatewaytest"
	"github.com/iliyamo/newstore-ledger/internal/model"
	"github.com/iliyamo/newstore-ledger/internal/queue/queuetest"
	"github.com/iliyamo/newstore-ledger/internal/repository/memstore"
)

const testPrice = 500

type fixedPrice int64

func (p fixedPrice) Current(context.Context) (int64, error) { return int64(p), nil }

type harness struct {
	ctx      context.Context
	store    *memstore.Store
	clock    *clock.Fake
	gw       *gatewaytest.Fake
	pub      *queuetest.Recorder
	res      *Reservations
	settle   *Settlement
	checkout *Checkout
	vouchers *Vouchers
	autopay  *Autopay
	sweeper  *Sweeper
	draws    *Draws
	opened   []int64
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		ctx:   context.Background(),
		store: memstore.New(),
		clock: clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)),
		gw:    gatewaytest.New(),
		pub:   &queuetest.Recorder{},
	}
	h.res = NewReservations(h.store, h.clock, 5*time.Minute, nil)
	h.settle = NewSettlement(h.store, h.gw, h.clock, h.pub, time.Second)
	h.checkout = NewCheckout(h.store, h.gw, fixedPrice(testPrice), h.clock, CheckoutConfig{
		NotificationURL: "https://shop.example.com/v1/payments/webhook",
		PixMinExpiry:    30 * time.Minute,
		Timeout:         time.Second,
	})
	h.vouchers = NewVouchers(h.store, h.clock, h.pub)
	h.autopay = NewAutopay(h.store, h.gw, fixedPrice(testPrice), h.res, h.settle, h.clock, h.pub, AutopayConfig{
		MaxNumbers: 10, Timeout: time.Second,
	})
	h.sweeper = NewSweeper(h.store, h.settle, h.clock, SweeperConfig{MinInterval: 30 * time.Second, Batch: 50, Lookback: 72 * time.Hour})
	h.draws = NewDraws(h.store, h.clock, h.pub, func(id int64) { h.opened = append(h.opened, id) })
	return h
}

func (h *harness) openDraw(t *testing.T, total int) *model.Draw {
	t.Helper()
	d, err := h.draws.Open(h.ctx, OpenInput{TotalNumbers: total})
	require.NoError(t, err)
	return d
}

// sell buys numbers for userID with freshly granted vouchers.
func (h *harness) sell(t *testing.T, userID, drawID int64, numbers ...int) {
	t.Helper()
	_, err := h.vouchers.Grant(h.ctx, GrantInput{UserID: userID, Count: len(numbers)})
	require.NoError(t, err)
	_, err = h.vouchers.Redeem(h.ctx, userID, drawID, numbers)
	require.NoError(t, err)
}

func (h *harness) slot(t *testing.T, drawID int64, n int) model.Slot {
	t.Helper()
	sl, ok := h.store.Slot(drawID, n)
	require.True(t, ok, "slot %d missing", n)
	return sl
}

func (h *harness) reservation(t *testing.T, id string) *model.Reservation {
	t.Helper()
	r, err := h.store.GetReservation(h.ctx, id)
	require.NoError(t, err)
	return r
}

package service

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/newstore-ledger/internal/gateway"
	"github.com/iliyamo/newstore-ledger/internal/model"
	"github.com/iliyamo/newstore-ledger/internal/queue"
)

// pix reserves numbers for userID and opens a PIX payment for them.
func (h *harness) pix(t *testing.T, userID int64, numbers ...int) (*model.Reservation, *model.Payment) {
	t.Helper()
	r, err := h.res.Reserve(h.ctx, ReserveInput{UserID: userID, Numbers: numbers})
	require.NoError(t, err)
	p, err := h.checkout.CreatePix(h.ctx, Identity{UserID: userID, Email: "buyer@example.com"}, r.ID)
	require.NoError(t, err)
	return r, p
}

func TestSyncSettlesApprovedPaymentOnce(t *testing.T) {
	h := newHarness(t)
	d := h.openDraw(t, 100)
	r, p := h.pix(t, 1, 12, 45)

	res, err := h.settle.Sync(h.ctx, p.ID, TriggerWebhook)
	require.NoError(t, err)
	assert.False(t, res.Settled, "still pending at the provider")
	assert.Equal(t, model.SlotReserved, h.slot(t, d.ID, 12).Status)

	h.gw.SetStatus(p.ID, model.PaymentApproved)
	res, err = h.settle.Sync(h.ctx, p.ID, TriggerWebhook)
	require.NoError(t, err)
	assert.True(t, res.Settled)
	require.NotNil(t, res.Payment.SettledAt)
	for _, n := range []int{12, 45} {
		sl := h.slot(t, d.ID, n)
		assert.Equal(t, model.SlotSold, sl.Status)
		assert.Equal(t, p.ID, *sl.PaymentID)
	}
	assert.Equal(t, model.ReservationPaid, h.reservation(t, r.ID).Status)

	// webhook retries and replays change nothing
	for _, trig := range []Trigger{TriggerWebhook, TriggerReplay, TriggerPoll} {
		res, err = h.settle.Sync(h.ctx, p.ID, trig)
		require.NoError(t, err)
		assert.False(t, res.Settled)
	}
	assert.Equal(t, 1, h.pub.Count(queue.KeyPaymentSettled))
}

func TestApplyRecordsFailure(t *testing.T) {
	h := newHarness(t)
	d := h.openDraw(t, 100)
	_, p := h.pix(t, 1, 3)

	res, err := h.settle.Apply(h.ctx, p.ID, model.PaymentRejected, "cc_rejected_other_reason")
	require.NoError(t, err)
	assert.False(t, res.Settled)
	assert.Equal(t, model.PaymentRejected, res.Payment.Status)
	assert.Equal(t, "cc_rejected_other_reason", res.Payment.StatusDetail)
	assert.Equal(t, model.SlotReserved, h.slot(t, d.ID, 3).Status, "the hold runs until its TTL")

	_, err = h.settle.Apply(h.ctx, "nope", model.PaymentApproved, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestApplyAfterExpiryStillSells(t *testing.T) {
	h := newHarness(t)
	d := h.openDraw(t, 100)
	_, p := h.pix(t, 1, 20)

	h.clock.Advance(20 * time.Minute)
	_, err := h.res.SweepExpired(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, model.SlotAvailable, h.slot(t, d.ID, 20).Status)

	res, err := h.settle.Apply(h.ctx, p.ID, model.PaymentApproved, "accredited")
	require.NoError(t, err)
	assert.True(t, res.Settled)
	assert.Empty(t, res.Oversold)
	assert.Equal(t, model.SlotSold, h.slot(t, d.ID, 20).Status)
}

func TestLateApprovalDisplacesNewerHold(t *testing.T) {
	h := newHarness(t)
	d := h.openDraw(t, 100)
	_, p := h.pix(t, 1, 20)

	h.clock.Advance(6 * time.Minute)
	r2, err := h.res.Reserve(h.ctx, ReserveInput{UserID: 2, Numbers: []int{20, 21}})
	require.NoError(t, err)
	assert.Equal(t, model.SlotReserved, h.slot(t, d.ID, 20).Status)

	res, err := h.settle.Apply(h.ctx, p.ID, model.PaymentApproved, "accredited")
	require.NoError(t, err)
	assert.True(t, res.Settled)
	assert.Empty(t, res.Oversold)
	assert.Equal(t, []string{r2.ID}, res.Displaced)

	sold := h.slot(t, d.ID, 20)
	assert.Equal(t, model.SlotSold, sold.Status)
	assert.Equal(t, p.ID, *sold.PaymentID)
	assert.Nil(t, sold.ReservationID)
	assert.Equal(t, model.SlotAvailable, h.slot(t, d.ID, 21).Status, "the rest of the hold is released")
	assert.Equal(t, model.ReservationCancelled, h.reservation(t, r2.ID).Status)

	_, err = h.checkout.CreatePix(h.ctx, Identity{UserID: 2}, r2.ID)
	assert.ErrorIs(t, err, ErrConflict)
	pix, _, _ := h.gw.Calls()
	assert.Equal(t, 1, pix, "no provider payment for the lost hold")
}

func TestApplyReportsOversold(t *testing.T) {
	h := newHarness(t)
	d := h.openDraw(t, 100)
	_, p := h.pix(t, 1, 10, 11)

	h.clock.Advance(10 * time.Minute)
	h.sell(t, 2, d.ID, 10)

	res, err := h.settle.Apply(h.ctx, p.ID, model.PaymentApproved, "")
	require.NoError(t, err)
	assert.True(t, res.Settled)
	assert.Equal(t, []int{10}, res.Oversold)
	sl := h.slot(t, d.ID, 10)
	assert.NotEqual(t, p.ID, *sl.PaymentID, "the first sale wins")
	assert.Equal(t, p.ID, *h.slot(t, d.ID, 11).PaymentID)
	assert.Equal(t, 1, h.pub.Count(queue.KeyPaymentOversold))
}

func TestLastSalesCloseDrawOnce(t *testing.T) {
	h := newHarness(t)
	d := h.openDraw(t, 100)

	first := make([]int, 98)
	for i := range first {
		first[i] = i
	}
	h.sell(t, 99, d.ID, first...)

	_, p1 := h.pix(t, 1, 98)
	_, p2 := h.pix(t, 2, 99)
	h.gw.SetStatus(p1.ID, model.PaymentApproved)
	h.gw.SetStatus(p2.ID, model.PaymentApproved)

	var wg sync.WaitGroup
	closed := make([]bool, 2)
	for i, id := range []string{p1.ID, p2.ID} {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			res, err := h.settle.Sync(h.ctx, id, TriggerWebhook)
			if assert.NoError(t, err) {
				closed[i] = res.DrawClosed
			}
		}(i, id)
	}
	wg.Wait()

	assert.NotEqual(t, closed[0], closed[1], "exactly one settlement closes the draw")
	got, err := h.store.GetDraw(h.ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DrawClosed, got.Status)
	assert.Equal(t, 1, h.pub.Count(queue.KeyDrawClosed))

	_, err = h.res.Reserve(h.ctx, ReserveInput{UserID: 3, DrawID: d.ID, Numbers: []int{5}})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestPollSurfacesProviderOutage(t *testing.T) {
	h := newHarness(t)
	h.openDraw(t, 100)
	_, p := h.pix(t, 1, 7)

	h.gw.GetErr = &gateway.Error{Op: "get_payment", StatusCode: 503, Err: gateway.ErrProvider}
	_, err := h.settle.Poll(h.ctx, 1, p.ID)
	assert.ErrorIs(t, err, gateway.ErrProvider)
	stored, err := h.store.GetPayment(h.ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentPending, stored.Status)

	_, err = h.settle.Poll(h.ctx, 2, p.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	h.gw.GetErr = nil
	h.gw.SetStatus(p.ID, model.PaymentApproved)
	got, err := h.settle.Poll(h.ctx, 1, p.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.SettledAt)

	_, _, gets := h.gw.Calls()
	_, err = h.settle.Poll(h.ctx, 1, p.ID)
	require.NoError(t, err)
	_, _, after := h.gw.Calls()
	assert.Equal(t, gets, after, "settled payments are not re-synced")
}

func TestSyncSkipsProviderForVoucherPayments(t *testing.T) {
	h := newHarness(t)
	d := h.openDraw(t, 100)
	_, err := h.vouchers.Grant(h.ctx, GrantInput{UserID: 1, Count: 1})
	require.NoError(t, err)
	rr, err := h.vouchers.Redeem(h.ctx, 1, d.ID, []int{4})
	require.NoError(t, err)

	res, err := h.settle.Sync(h.ctx, rr.PaymentID, TriggerReplay)
	require.NoError(t, err)
	assert.False(t, res.Settled)
	assert.Equal(t, model.MethodVoucher, res.Payment.Method)
	_, _, gets := h.gw.Calls()
	assert.Zero(t, gets)
}

package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/newstore-ledger/internal/gateway"
	"github.com/iliyamo/newstore-ledger/internal/model"
)

func TestCreatePix(t *testing.T) {
	h := newHarness(t)
	d := h.openDraw(t, 100)
	r, err := h.res.Reserve(h.ctx, ReserveInput{UserID: 1, Numbers: []int{12, 45}})
	require.NoError(t, err)
	who := Identity{UserID: 1, Email: "buyer@example.com"}

	p, err := h.checkout.CreatePix(h.ctx, who, r.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2*testPrice), p.AmountCents)
	assert.Equal(t, model.MethodPix, p.Method)
	assert.Equal(t, model.PaymentPending, p.Status)
	assert.Equal(t, []int{12, 45}, p.Numbers)
	assert.Equal(t, d.ID, *p.DrawID)
	assert.NotEmpty(t, p.QRCode)

	sent := h.gw.LastPix
	assert.Equal(t, r.ID, sent.IdempotencyKey)
	assert.Equal(t, r.ID, sent.ExternalReference)
	assert.Equal(t, "buyer@example.com", sent.PayerEmail)
	assert.Equal(t, h.clock.Now().Add(30*time.Minute), sent.ExpiresAt, "QR validity never drops below the floor")

	again, err := h.checkout.CreatePix(h.ctx, who, r.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, again.ID)
	pix, _, _ := h.gw.Calls()
	assert.Equal(t, 1, pix, "a pending payment is reused")

	stored := h.reservation(t, r.ID)
	require.NotNil(t, stored.PaymentID)
	assert.Equal(t, p.ID, *stored.PaymentID)
}

func TestCreatePixRejects(t *testing.T) {
	h := newHarness(t)
	h.openDraw(t, 100)
	r, err := h.res.Reserve(h.ctx, ReserveInput{UserID: 1, Numbers: []int{1}})
	require.NoError(t, err)

	_, err = h.checkout.CreatePix(h.ctx, Identity{UserID: 2}, r.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = h.checkout.CreatePix(h.ctx, Identity{UserID: 1}, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	h.gw.PixErr = &gateway.Error{Op: "create_pix", StatusCode: 500, Err: gateway.ErrProvider}
	_, err = h.checkout.CreatePix(h.ctx, Identity{UserID: 1}, r.ID)
	assert.ErrorIs(t, err, gateway.ErrProvider)
	_, err = h.store.PendingPaymentFor(h.ctx, r.ID)
	assert.ErrorIs(t, err, ErrNotFound, "no payment row without a provider payment")

	h.gw.PixErr = nil
	h.clock.Advance(5 * time.Minute)
	_, err = h.checkout.CreatePix(h.ctx, Identity{UserID: 1}, r.ID)
	assert.ErrorIs(t, err, ErrConflict, "expired reservation")
}

func TestCreatePixReportsLostNumbers(t *testing.T) {
	h := newHarness(t)
	d := h.openDraw(t, 100)
	r, err := h.res.Reserve(h.ctx, ReserveInput{UserID: 1, Numbers: []int{8, 9}})
	require.NoError(t, err)
	require.NoError(t, h.store.SellSlots(h.ctx, d.ID, []int{9}, "other"))

	_, err = h.checkout.CreatePix(h.ctx, Identity{UserID: 1}, r.ID)
	var ce *ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, []int{9}, ce.Numbers)
	assert.ErrorIs(t, err, ErrConflict)
	pix, _, _ := h.gw.Calls()
	assert.Zero(t, pix)
}

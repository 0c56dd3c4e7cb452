package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/newstore-ledger/internal/gateway"
	"github.com/iliyamo/newstore-ledger/internal/model"
	"github.com/iliyamo/newstore-ledger/internal/queue"
)

func (h *harness) profile(t *testing.T, userID int64, customer string, numbers ...int) {
	t.Helper()
	_, err := h.autopay.SaveProfile(h.ctx, Identity{UserID: userID, Email: "fan@example.com"}, ProfileInput{
		Active: true, CustomerID: customer, CardID: "card_" + customer, Numbers: numbers,
	})
	require.NoError(t, err)
}

func TestAutopayProfilesAreIsolated(t *testing.T) {
	h := newHarness(t)
	d := h.openDraw(t, 100)
	h.sell(t, 99, d.ID, 50)

	h.profile(t, 1, "cus_ok", 2, 1)
	h.profile(t, 2, "cus_cvv", 3)
	h.profile(t, 3, "cus_down", 4)
	h.profile(t, 4, "cus_declined", 5)
	h.profile(t, 5, "cus_late", 50)
	h.profile(t, 6, "cus_pending", 6)

	h.gw.CardErr["cus_cvv"] = gateway.ErrSecurityCodeRequired
	h.gw.CardErr["cus_down"] = &gateway.Error{Op: "charge_card", StatusCode: 502, Err: gateway.ErrProvider}
	h.gw.CardStatus["cus_declined"] = model.PaymentRejected
	h.gw.CardStatus["cus_pending"] = model.PaymentInProcess

	res, err := h.autopay.RunForDraw(h.ctx, d.ID, false)
	require.NoError(t, err)
	require.Len(t, res.Outcomes, 6)

	byUser := map[int64]ProfileOutcome{}
	for _, o := range res.Outcomes {
		byUser[o.UserID] = o
	}

	ok := byUser[1]
	assert.Equal(t, model.RunOK, ok.Status)
	assert.Equal(t, []int{1, 2}, ok.Bought)
	require.NotNil(t, ok.PaymentID)
	assert.Equal(t, model.SlotSold, h.slot(t, d.ID, 1).Status)

	assert.Equal(t, model.RunSkipped, byUser[2].Status)
	assert.Equal(t, ReasonSecurityCodeRequired, byUser[2].Reason)
	assert.Equal(t, model.RunError, byUser[3].Status)
	assert.Equal(t, ReasonProviderError, byUser[3].Reason)
	assert.Equal(t, model.RunError, byUser[4].Status)
	assert.Equal(t, ReasonDeclined, byUser[4].Reason)
	assert.Equal(t, model.RunSkipped, byUser[5].Status)
	assert.Equal(t, ReasonNoneAvailable, byUser[5].Reason)
	assert.Equal(t, model.RunError, byUser[6].Status)
	assert.Equal(t, ReasonPending, byUser[6].Reason)
	require.NotNil(t, byUser[6].PaymentID, "pending charge is kept for the sweeper")

	// failed profiles hold nothing
	for _, n := range []int{3, 4, 5, 6} {
		assert.Equal(t, model.SlotAvailable, h.slot(t, d.ID, n).Status, "number %d", n)
	}

	runs := h.store.AutopayRuns(d.ID)
	require.Len(t, runs, 6)
	for _, run := range runs {
		if run.UserID == 1 {
			assert.Equal(t, int64(2*testPrice), run.AmountCents)
		} else {
			assert.Zero(t, run.AmountCents, "user %d", run.UserID)
		}
	}
	assert.Equal(t, 1, h.pub.Count(queue.KeyAutopayCompleted))
}

func TestAutopayRunsOncePerDraw(t *testing.T) {
	h := newHarness(t)
	d := h.openDraw(t, 100)
	h.profile(t, 1, "cus_ok", 7)

	_, err := h.autopay.RunForDraw(h.ctx, d.ID, false)
	require.NoError(t, err)

	again, err := h.autopay.RunForDraw(h.ctx, d.ID, false)
	require.NoError(t, err)
	assert.True(t, again.AlreadyRan)
	assert.Empty(t, again.Outcomes)

	forced, err := h.autopay.RunForDraw(h.ctx, d.ID, true)
	require.NoError(t, err)
	require.Len(t, forced.Outcomes, 1)
	assert.Equal(t, ReasonNoneAvailable, forced.Outcomes[0].Reason, "already owns the number")
	_, card, _ := h.gw.Calls()
	assert.Equal(t, 1, card)

	_, err = h.draws.Close(h.ctx, d.ID)
	require.NoError(t, err)
	_, err = h.autopay.RunForDraw(h.ctx, d.ID, true)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestSaveProfileValidates(t *testing.T) {
	h := newHarness(t)
	who := Identity{UserID: 1, Email: "fan@example.com"}

	p, err := h.autopay.SaveProfile(h.ctx, who, ProfileInput{Numbers: []int{9, 3, 9}})
	require.NoError(t, err)
	assert.Equal(t, []int{3, 9}, p.Numbers)
	assert.False(t, p.Active)

	_, err = h.autopay.SaveProfile(h.ctx, who, ProfileInput{Numbers: []int{100}})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = h.autopay.SaveProfile(h.ctx, who, ProfileInput{Numbers: []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10}})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = h.autopay.SaveProfile(h.ctx, who, ProfileInput{Active: true, Numbers: []int{1}})
	assert.ErrorIs(t, err, ErrInvalidInput, "card required")

	require.NoError(t, h.autopay.Deactivate(h.ctx, 1))
	got, err := h.autopay.GetProfile(h.ctx, 1)
	require.NoError(t, err)
	assert.False(t, got.Active)

	_, err = h.autopay.GetProfile(h.ctx, 2)
	assert.ErrorIs(t, err, ErrNotFound)
}

package handler

import (
	"context"  // price setter signature
	"net/http" // HTTP status codes
	"strconv"  // parsing path parameters

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/newstore-ledger/internal/service"
)

// PriceSetter stores a new ticket price and drops cached copies.
type PriceSetter interface {
	Set(ctx context.Context, cents int64) error
}

// AdminHandler serves the ADMIN operations: draw lifecycle, autopay runs,
// manual reconciliation, price and voucher grants.
type AdminHandler struct {
	Draws      *service.Draws
	Autopay    *service.Autopay
	Settlement *service.Settlement
	Sweeper    *service.Sweeper
	Vouchers   *service.Vouchers
	Prices     PriceSetter
}

func NewAdminHandler(draws *service.Draws, autopay *service.Autopay, settlement *service.Settlement,
	sweeper *service.Sweeper, vouchers *service.Vouchers, prices PriceSetter) *AdminHandler {
	if draws == nil || autopay == nil || settlement == nil || sweeper == nil || vouchers == nil || prices == nil {
		panic("nil dependency passed to NewAdminHandler")
	}
	return &AdminHandler{Draws: draws, Autopay: autopay, Settlement: settlement, Sweeper: sweeper, Vouchers: vouchers, Prices: prices}
}

// OpenDraw handles POST /v1/admin/draws.  Autopay for the new draw starts
// in the background.
func (h *AdminHandler) OpenDraw(c echo.Context) error {
	var body struct {
		ProductID    *int64 `json:"product_id"`
		TotalNumbers int    `json:"total_numbers"`
	}
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	d, err := h.Draws.Open(c.Request().Context(), service.OpenInput{ProductID: body.ProductID, TotalNumbers: body.TotalNumbers})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, newDrawView(d))
}

// CloseDraw handles POST /v1/admin/draws/:id/close.
func (h *AdminHandler) CloseDraw(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid draw id")
	}
	d, err := h.Draws.Close(c.Request().Context(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, newDrawView(d))
}

// RecordWinner handles POST /v1/admin/draws/:id/winner with {"number": n}.
func (h *AdminHandler) RecordWinner(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid draw id")
	}
	var body struct {
		Number *int `json:"number"`
	}
	if err := c.Bind(&body); err != nil || body.Number == nil {
		return badRequest(c, "number is required")
	}
	d, err := h.Draws.RecordWinner(c.Request().Context(), id, *body.Number)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, newDrawView(d))
}

// RunAutopay handles POST /v1/admin/draws/:id/autopay.  ?force=true reruns
// a draw that was already processed.
func (h *AdminHandler) RunAutopay(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid draw id")
	}
	// anything but "true" keeps the once-per-draw guard
	force, _ := strconv.ParseBool(c.QueryParam("force"))
	res, err := h.Autopay.RunForDraw(c.Request().Context(), id, force)
	if err != nil {
		return respondError(c, err)
	}
	// flatten outcomes into the response shape
	outcomes := make([]echo.Map, 0, len(res.Outcomes))
	for _, o := range res.Outcomes {
		outcomes = append(outcomes, echo.Map{
			"user_id":    o.UserID,
			"tried":      o.Tried,
			"bought":     o.Bought,
			"status":     string(o.Status),
			"reason":     o.Reason,
			"payment_id": o.PaymentID,
		})
	}
	return c.JSON(http.StatusOK, echo.Map{"draw_id": res.DrawID, "already_ran": res.AlreadyRan, "outcomes": outcomes})
}

// ReplayPayment handles POST /v1/admin/payments/:id/replay, re-syncing one
// payment with the provider.
func (h *AdminHandler) ReplayPayment(c echo.Context) error {
	res, err := h.Settlement.Sync(c.Request().Context(), c.Param("id"), service.TriggerReplay)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"payment":     newPaymentView(&res.Payment),
		"settled":     res.Settled,
		"oversold":    res.Oversold,
		"displaced":   res.Displaced,
		"draw_closed": res.DrawClosed,
	})
}

// Sweep handles POST /v1/admin/payments/sweep and runs an unthrottled pass.
func (h *AdminHandler) Sweep(c echo.Context) error {
	res, err := h.Sweeper.Sweep(c.Request().Context(), true) // force skips the min interval
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"checked": res.Checked, "settled": res.Settled, "failed": res.Failed})
}

// SetPrice handles PUT /v1/admin/price with {"price_cents": 500}.
func (h *AdminHandler) SetPrice(c echo.Context) error {
	var body struct {
		PriceCents int64 `json:"price_cents"`
	}
	if err := c.Bind(&body); err != nil || body.PriceCents <= 0 {
		return badRequest(c, "price_cents must be positive")
	}
	if err := h.Prices.Set(c.Request().Context(), body.PriceCents); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"price_cents": body.PriceCents, "price": amount(body.PriceCents)})
}

// GrantVoucher handles POST /v1/admin/vouchers.
func (h *AdminHandler) GrantVoucher(c echo.Context) error {
	var body struct {
		UserID    int64   `json:"user_id"`
		Count     int     `json:"count"`
		DrawID    *int64  `json:"draw_id"`
		PaymentID *string `json:"payment_id"`
	}
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	v, err := h.Vouchers.Grant(c.Request().Context(), service.GrantInput{
		UserID: body.UserID, Count: body.Count, DrawID: body.DrawID, PaymentID: body.PaymentID,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"id": v.ID, "user_id": v.UserID, "draw_id": v.DrawID, "remaining": v.Remaining})
}

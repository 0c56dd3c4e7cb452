package handler

import (
	"net/http" // HTTP status codes

	"github.com/labstack/echo/v4" // Echo web framework

	"github.com/iliyamo/newstore-ledger/internal/model"   // view conversions
	"github.com/iliyamo/newstore-ledger/internal/service" // ledger services
)

// CustomerHandler serves the authenticated buyer endpoints: reservations,
// checkout, payment status, vouchers and the autopay profile.  JWT
// authentication runs before every method.
type CustomerHandler struct {
	Reservations *service.Reservations
	Checkout     *service.Checkout
	Settlement   *service.Settlement
	Vouchers     *service.Vouchers
	Autopay      *service.Autopay
}

func NewCustomerHandler(res *service.Reservations, checkout *service.Checkout, settlement *service.Settlement,
	vouchers *service.Vouchers, autopay *service.Autopay) *CustomerHandler {
	if res == nil || checkout == nil || settlement == nil || vouchers == nil || autopay == nil {
		panic("nil service passed to NewCustomerHandler")
	}
	return &CustomerHandler{Reservations: res, Checkout: checkout, Settlement: settlement, Vouchers: vouchers, Autopay: autopay}
}

type numbersRequest struct {
	DrawID  int64 `json:"draw_id"`
	Numbers []int `json:"numbers"`
}

// Reserve handles POST /v1/reservations.  The body is
// {"draw_id": 7, "numbers": [12, 45]}; draw_id may be omitted for the
// current draw.  On success it returns 201 with the reservation; when any
// number is taken it returns 409 listing all of them.
func (h *CustomerHandler) Reserve(c echo.Context) error {
	who, ok := identity(c)
	if !ok {
		return unauthorized(c)
	}
	// bind request body
	var body numbersRequest
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	if len(body.Numbers) == 0 {
		return badRequest(c, "numbers is required")
	}
	// range and duplicate checks happen in the service
	r, err := h.Reservations.Reserve(c.Request().Context(), service.ReserveInput{
		UserID: who.UserID, DrawID: body.DrawID, Numbers: body.Numbers,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, newReservationView(r))
}

// GetReservation handles GET /v1/reservations/:id.
func (h *CustomerHandler) GetReservation(c echo.Context) error {
	who, ok := identity(c)
	if !ok {
		return unauthorized(c)
	}
	r, err := h.Reservations.Get(c.Request().Context(), who.UserID, c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, newReservationView(r))
}

// CancelReservation handles DELETE /v1/reservations/:id.
func (h *CustomerHandler) CancelReservation(c echo.Context) error {
	who, ok := identity(c)
	if !ok {
		return unauthorized(c)
	}
	r, err := h.Reservations.Cancel(c.Request().Context(), who.UserID, c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, newReservationView(r))
}

// CheckoutReservation handles POST /v1/reservations/:id/checkout and returns the PIX
// payment with its QR code.  Repeating the call returns the same pending
// payment.
func (h *CustomerHandler) CheckoutReservation(c echo.Context) error {
	who, ok := identity(c)
	if !ok {
		return unauthorized(c)
	}
	// lost numbers come back as 409 with the list
	p, err := h.Checkout.CreatePix(c.Request().Context(), who, c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, newPaymentView(p))
}

// GetPayment handles GET /v1/payments/:id.  Open payments are synced with
// the provider first.
func (h *CustomerHandler) GetPayment(c echo.Context) error {
	who, ok := identity(c)
	if !ok {
		return unauthorized(c)
	}
	// a provider outage maps to a retryable 502
	p, err := h.Settlement.Poll(c.Request().Context(), who.UserID, c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, newPaymentView(p))
}

// RedeemVouchers handles POST /v1/vouchers/redeem.
func (h *CustomerHandler) RedeemVouchers(c echo.Context) error {
	who, ok := identity(c)
	if !ok {
		return unauthorized(c)
	}
	var body numbersRequest
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	if len(body.Numbers) == 0 {
		return badRequest(c, "numbers is required")
	}
	res, err := h.Vouchers.Redeem(c.Request().Context(), who.UserID, body.DrawID, body.Numbers)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"payment_id":  res.PaymentID,
		"draw_id":     res.DrawID,
		"numbers":     res.Numbers,
		"remaining":   res.Remaining,
		"draw_closed": res.DrawClosed,
	})
}

type voucherView struct {
	ID        int64  `json:"id"`
	DrawID    *int64 `json:"draw_id,omitempty"`
	Remaining int    `json:"remaining"`
	CreatedAt string `json:"created_at"`
}

func newVoucherView(v model.Voucher) voucherView {
	return voucherView{ID: v.ID, DrawID: v.DrawID, Remaining: v.Remaining, CreatedAt: v.CreatedAt.UTC().Format(timeLayout)}
}

// ListVouchers handles GET /v1/vouchers.
func (h *CustomerHandler) ListVouchers(c echo.Context) error {
	who, ok := identity(c)
	if !ok {
		return unauthorized(c)
	}
	total, vs, err := h.Vouchers.Balance(c.Request().Context(), who.UserID)
	if err != nil {
		return respondError(c, err)
	}
	out := make([]voucherView, 0, len(vs))
	for _, v := range vs {
		out = append(out, newVoucherView(v))
	}
	return c.JSON(http.StatusOK, echo.Map{"balance": total, "vouchers": out})
}

type autopayRequest struct {
	Active         bool   `json:"active"`
	CustomerID     string `json:"customer_id"`
	CardID         string `json:"card_id"`
	HolderName     string `json:"holder_name"`
	HolderDocument string `json:"holder_document"`
	Numbers        []int  `json:"numbers"`
}

func autopayView(p *model.AutopayProfile) echo.Map {
	numbers := p.Numbers
	if numbers == nil {
		numbers = []int{}
	}
	return echo.Map{
		"active":      p.Active,
		"customer_id": p.CustomerID,
		"card_id":     p.CardID,
		"holder_name": p.HolderName,
		"numbers":     numbers,
		"updated_at":  p.UpdatedAt.UTC().Format(timeLayout),
	}
}

// GetAutopay handles GET /v1/autopay.
func (h *CustomerHandler) GetAutopay(c echo.Context) error {
	who, ok := identity(c)
	if !ok {
		return unauthorized(c)
	}
	p, err := h.Autopay.GetProfile(c.Request().Context(), who.UserID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, autopayView(p))
}

// PutAutopay handles PUT /v1/autopay, replacing the caller's profile.
func (h *CustomerHandler) PutAutopay(c echo.Context) error {
	who, ok := identity(c)
	if !ok {
		return unauthorized(c)
	}
	var body autopayRequest
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	p, err := h.Autopay.SaveProfile(c.Request().Context(), who, service.ProfileInput{
		Active:         body.Active,
		CustomerID:     body.CustomerID,
		CardID:         body.CardID,
		HolderName:     body.HolderName,
		HolderDocument: body.HolderDocument,
		Numbers:        body.Numbers,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, autopayView(p))
}

// DeleteAutopay handles DELETE /v1/autopay.  The profile is kept but
// deactivated.
func (h *CustomerHandler) DeleteAutopay(c echo.Context) error {
	who, ok := identity(c)
	if !ok {
		return unauthorized(c)
	}
	if err := h.Autopay.Deactivate(c.Request().Context(), who.UserID); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/iliyamo/newstore-ledger/internal/gateway"
	"github.com/iliyamo/newstore-ledger/internal/middleware"
	"github.com/iliyamo/newstore-ledger/internal/model"
	"github.com/iliyamo/newstore-ledger/internal/service"
)

// respondError maps service and gateway errors to HTTP responses.  Unknown
// errors are logged and reported as a generic 500.
func respondError(c echo.Context, err error) error {
	var conflict *service.ConflictError
	switch {
	case errors.As(err, &conflict):
		return c.JSON(http.StatusConflict, echo.Map{"error": "numbers unavailable", "unavailable": conflict.Numbers})
	case errors.Is(err, service.ErrInvalidInput):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	case errors.Is(err, service.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": err.Error()})
	case errors.Is(err, service.ErrForbidden):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
	case errors.Is(err, service.ErrConflict):
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
	case errors.Is(err, gateway.ErrSecurityCodeRequired):
		return c.JSON(http.StatusBadGateway, echo.Map{"error": "card security code required", "retryable": false})
	case errors.Is(err, gateway.ErrProvider):
		slog.Warn("payment provider failure", "path", c.Path(), "err", err)
		return c.JSON(http.StatusBadGateway, echo.Map{"error": "payment provider unavailable", "retryable": true})
	}
	slog.Error("request failed", "method", c.Request().Method, "path", c.Path(), "err", err)
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": msg})
}

// identity reads the caller set by middleware.JWTAuth.
func identity(c echo.Context) (service.Identity, bool) {
	uid, ok := middleware.UserID(c)
	if !ok {
		return service.Identity{}, false
	}
	return service.Identity{UserID: uid, Email: middleware.Email(c), Role: middleware.Role(c)}, true
}

func unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
}

func pathID(c echo.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	return id, err == nil && id > 0
}

// amount renders minor units as a two-decimal major amount.
func amount(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}

const timeLayout = time.RFC3339

func timeOrNil(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(timeLayout)
	return &s
}

type drawView struct {
	ID           int64   `json:"id"`
	ProductID    *int64  `json:"product_id,omitempty"`
	Status       string  `json:"status"`
	TotalNumbers int     `json:"total_numbers"`
	OpenedAt     string  `json:"opened_at"`
	ClosedAt     *string `json:"closed_at,omitempty"`
	RealizedAt   *string `json:"realized_at,omitempty"`
	WinnerNumber *int    `json:"winner_number,omitempty"`
	WinnerUserID *int64  `json:"winner_user_id,omitempty"`
}

func newDrawView(d *model.Draw) drawView {
	return drawView{
		ID:           d.ID,
		ProductID:    d.ProductID,
		Status:       string(d.Status),
		TotalNumbers: d.TotalNumbers,
		OpenedAt:     d.OpenedAt.UTC().Format(timeLayout),
		ClosedAt:     timeOrNil(d.ClosedAt),
		RealizedAt:   timeOrNil(d.RealizedAt),
		WinnerNumber: d.WinnerNumber,
		WinnerUserID: d.WinnerUserID,
	}
}

type reservationView struct {
	ID        string  `json:"id"`
	DrawID    int64   `json:"draw_id"`
	Numbers   []int   `json:"numbers"`
	Status    string  `json:"status"`
	CreatedAt string  `json:"created_at"`
	ExpiresAt string  `json:"expires_at"`
	PaymentID *string `json:"payment_id,omitempty"`
}

func newReservationView(r *model.Reservation) reservationView {
	return reservationView{
		ID:        r.ID,
		DrawID:    r.DrawID,
		Numbers:   r.Numbers,
		Status:    string(r.Status),
		CreatedAt: r.CreatedAt.UTC().Format(timeLayout),
		ExpiresAt: r.ExpiresAt.UTC().Format(timeLayout),
		PaymentID: r.PaymentID,
	}
}

type paymentView struct {
	ID            string  `json:"id"`
	Status        string  `json:"status"`
	StatusDetail  string  `json:"status_detail,omitempty"`
	Method        string  `json:"method"`
	DrawID        *int64  `json:"draw_id,omitempty"`
	ReservationID *string `json:"reservation_id,omitempty"`
	Numbers       []int   `json:"numbers"`
	AmountCents   int64   `json:"amount_cents"`
	Amount        string  `json:"amount"`
	QRCode        string  `json:"qr_code,omitempty"`
	QRCodeBase64  string  `json:"qr_code_base64,omitempty"`
	CreatedAt     string  `json:"created_at"`
	PaidAt        *string `json:"paid_at,omitempty"`
	SettledAt     *string `json:"settled_at,omitempty"`
}

func newPaymentView(p *model.Payment) paymentView {
	return paymentView{
		ID:            p.ID,
		Status:        string(p.Status),
		StatusDetail:  p.StatusDetail,
		Method:        string(p.Method),
		DrawID:        p.DrawID,
		ReservationID: p.ReservationID,
		Numbers:       p.Numbers,
		AmountCents:   p.AmountCents,
		Amount:        amount(p.AmountCents),
		QRCode:        p.QRCode,
		QRCodeBase64:  p.QRCodeBase64,
		CreatedAt:     p.CreatedAt.UTC().Format(timeLayout),
		PaidAt:        timeOrNil(p.PaidAt),
		SettledAt:     timeOrNil(p.SettledAt),
	}
}

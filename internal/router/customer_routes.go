package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/newstore-ledger/internal/handler"
	"github.com/iliyamo/newstore-ledger/internal/middleware"
)

// RegisterCustomer registers the endpoints of an authenticated buyer under
// /v1.  Extra middleware (rate limiting, sweep kicks) runs after JWT
// verification so it can key on the user.
func RegisterCustomer(e *echo.Echo, h *handler.CustomerHandler, jwtSecret string, extra ...echo.MiddlewareFunc) {
	mw := append([]echo.MiddlewareFunc{middleware.JWTAuth(jwtSecret)}, extra...)
	g := e.Group("/v1", mw...)

	// reservations and checkout
	g.POST("/reservations", h.Reserve)
	g.GET("/reservations/:id", h.GetReservation)
	g.DELETE("/reservations/:id", h.CancelReservation)
	g.POST("/reservations/:id/checkout", h.CheckoutReservation)

	g.GET("/payments/:id", h.GetPayment) // polls the provider while open

	// vouchers
	g.POST("/vouchers/redeem", h.RedeemVouchers)
	g.GET("/vouchers", h.ListVouchers)

	// autopay profile
	g.GET("/autopay", h.GetAutopay)
	g.PUT("/autopay", h.PutAutopay)
	g.DELETE("/autopay", h.DeleteAutopay)
}

package router // router registers the HTTP routes of the API

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/newstore-ledger/internal/handler"    // HTTP handlers
	"github.com/iliyamo/newstore-ledger/internal/middleware" // JWT, roles, cache
)

// RegisterRoutes registers the unauthenticated infrastructure routes.
func RegisterRoutes(e *echo.Echo, db handler.Pinger) {
	e.GET("/healthz", handler.Health(db))
}

// RegisterPublic registers the draw reads available to guests.  cache, when
// not nil, fronts the current-draw lookup.
func RegisterPublic(e *echo.Echo, p *handler.PublicHandler, cache echo.MiddlewareFunc) {
	if cache != nil {
		e.GET("/v1/draws/current", p.CurrentDraw, cache)
	} else {
		e.GET("/v1/draws/current", p.CurrentDraw)
	}
	// the board always reads live state
	e.GET("/v1/draws/:id/numbers", p.Board)
}

// RegisterWebhook registers the provider notification endpoint.  It carries
// no JWT; authenticity is checked with the optional signature secret.
func RegisterWebhook(e *echo.Echo, w *handler.WebhookHandler) {
	e.POST("/v1/payments/webhook", w.Receive)
}

// RegisterAdmin registers ADMIN-scoped endpoints under /v1/admin.
func RegisterAdmin(e *echo.Echo, a *handler.AdminHandler, jwtSecret string) {
	g := e.Group(
		"/v1/admin",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole("ADMIN"),
	)
	// draw lifecycle
	g.POST("/draws", a.OpenDraw)
	g.POST("/draws/:id/close", a.CloseDraw)
	g.POST("/draws/:id/winner", a.RecordWinner)
	g.POST("/draws/:id/autopay", a.RunAutopay)
	// reconciliation
	g.POST("/payments/:id/replay", a.ReplayPayment)
	g.POST("/payments/sweep", a.Sweep)
	g.PUT("/price", a.SetPrice)
	g.POST("/vouchers", a.GrantVoucher)
}

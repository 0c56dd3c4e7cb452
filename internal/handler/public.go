package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/newstore-ledger/internal/model"
	"github.com/iliyamo/newstore-ledger/internal/service"
)

// PublicHandler serves the unauthenticated draw reads.
type PublicHandler struct {
	Draws        *service.Draws
	Reservations *service.Reservations
}

func NewPublicHandler(draws *service.Draws, reservations *service.Reservations) *PublicHandler {
	if draws == nil || reservations == nil {
		panic("nil service passed to NewPublicHandler")
	}
	return &PublicHandler{Draws: draws, Reservations: reservations}
}

// CurrentDraw handles GET /v1/draws/current.
func (h *PublicHandler) CurrentDraw(c echo.Context) error {
	d, err := h.Draws.Current(c.Request().Context())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, newDrawView(d))
}

// Board handles GET /v1/draws/:id/numbers.  The id "current" selects the
// open draw.  Numbers are grouped by status; every number of the draw
// appears in exactly one group.
func (h *PublicHandler) Board(c echo.Context) error {
	var drawID int64
	if c.Param("id") != "current" {
		id, ok := pathID(c, "id")
		if !ok {
			return badRequest(c, "invalid draw id")
		}
		drawID = id
	}
	b, err := h.Reservations.Board(c.Request().Context(), drawID)
	if err != nil {
		return respondError(c, err)
	}
	groups := map[model.SlotStatus][]int{
		model.SlotAvailable: {},
		model.SlotReserved:  {},
		model.SlotSold:      {},
	}
	for n, st := range b.Numbers {
		groups[st] = append(groups[st], n)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"draw":      newDrawView(&b.Draw),
		"available": groups[model.SlotAvailable],
		"reserved":  groups[model.SlotReserved],
		"sold":      groups[model.SlotSold],
	})
}

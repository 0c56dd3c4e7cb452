package model

import "time"

// DrawStatus is the lifecycle state of a draw.  A draw is created open and
// transitions to closed exactly once, either when every slot is sold or by
// an explicit admin action.
type DrawStatus string

const (
	DrawOpen   DrawStatus = "open"
	DrawClosed DrawStatus = "closed"
)

// DefaultTotalNumbers is the slot count of a draw when none is given.
const DefaultTotalNumbers = 100

// Valid reports whether s is a known draw status.
func (s DrawStatus) Valid() bool {
	switch s {
	case DrawOpen, DrawClosed:
		return true
	}
	return false
}

// Draw represents one raffle round with a fixed pool of numbered slots.
//
// Fields:
//
//	ID            – primary key identifier.
//	ProductID     – optional product the draw is linked to.
//	Status        – open or closed.
//	TotalNumbers  – number of slots; valid numbers are 0..TotalNumbers-1.
//	OpenedAt      – when the draw was opened.
//	ClosedAt      – when the draw was closed (nil while open).
//	RealizedAt    – when the winner was recorded.
//	WinnerNumber  – winning number, if recorded.
//	WinnerUserID  – owner of the winning number, if recorded.
//	AutopayRanAt  – when the autopay scheduler claimed this draw.
type Draw struct {
	ID           int64      // draws.id
	ProductID    *int64     // draws.product_id (nullable)
	Status       DrawStatus // draws.status
	TotalNumbers int        // draws.total_numbers
	OpenedAt     time.Time  // draws.opened_at
	ClosedAt     *time.Time // draws.closed_at (nullable)
	RealizedAt   *time.Time // draws.realized_at (nullable)
	WinnerNumber *int       // draws.winner_number (nullable)
	WinnerUserID *int64     // draws.winner_user_id (nullable)
	AutopayRanAt *time.Time // draws.autopay_ran_at (nullable)
}

// InRange reports whether n is a valid slot number for the draw.
func (d Draw) InRange(n int) bool {
	return n >= 0 && n < d.TotalNumbers
}

// IsOpen reports whether the draw still accepts reservations and sales.
func (d Draw) IsOpen() bool { return d.Status == DrawOpen }

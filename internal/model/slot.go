package model

// SlotStatus is the state of one numbered slot within a draw.
type SlotStatus string

const (
	SlotAvailable SlotStatus = "available"
	SlotReserved  SlotStatus = "reserved"
	SlotSold      SlotStatus = "sold"
)

// Slot links a number to a draw and tracks who currently claims it.  At most
// one claim (reservation or sale) exists per (draw, number) at any
// committed point in time.
type Slot struct {
	DrawID        int64      // numbers.draw_id
	Number        int        // numbers.n
	Status        SlotStatus // numbers.status
	ReservationID *string    // numbers.reservation_id (nullable)
	PaymentID     *string    // numbers.payment_id (nullable, set when sold)
}

// Free reports whether the slot row itself carries no claim.
func (s Slot) Free() bool {
	switch s.Status {
	case SlotAvailable:
		return true
	case SlotReserved, SlotSold:
		return false
	}
	return false
}

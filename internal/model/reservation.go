package model

import "time"

// ReservationStatus is the lifecycle state of a hold.
type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "active"
	ReservationPaid      ReservationStatus = "paid"
	ReservationExpired   ReservationStatus = "expired"
	ReservationCancelled ReservationStatus = "cancelled"
)

// DefaultReservationTTL is how long a hold blocks its numbers.
const DefaultReservationTTL = 5 * time.Minute

// Reservation records a time-boxed hold on a set of numbers in one draw for
// one user.  While active and unexpired its numbers cannot be claimed by
// anyone else.
//
// Fields:
//
//	ID        – opaque token (uuid) returned to the client.
//	UserID    – user who placed the hold.
//	DrawID    – draw in which the numbers are held.
//	Numbers   – held numbers, deduplicated and sorted.
//	Status    – active, paid, expired or cancelled.
//	CreatedAt – creation timestamp.
//	ExpiresAt – end of the hold.
//	PaymentID – provider payment created at checkout, if any.
type Reservation struct {
	ID        string            // reservations.id
	UserID    int64             // reservations.user_id
	DrawID    int64             // reservations.draw_id
	Numbers   []int             // reservations.numbers (JSON)
	Status    ReservationStatus // reservations.status
	CreatedAt time.Time         // reservations.created_at
	ExpiresAt time.Time         // reservations.expires_at
	PaymentID *string           // reservations.payment_id (nullable)
}

// Blocking reports whether the reservation still prevents others from
// claiming its numbers at the given instant.
func (r Reservation) Blocking(now time.Time) bool {
	switch r.Status {
	case ReservationActive:
		return now.Before(r.ExpiresAt)
	case ReservationPaid, ReservationExpired, ReservationCancelled:
		return false
	}
	return false
}

// Stale reports whether the reservation is still marked active but its TTL
// has elapsed, i.e. it must be transitioned to expired on next access.
func (r Reservation) Stale(now time.Time) bool {
	return r.Status == ReservationActive && !now.Before(r.ExpiresAt)
}

package model

import (
	"strings"
	"time"
)

// PaymentStatus is the provider status of a payment normalised to lower case.
type PaymentStatus string

const (
	PaymentPending     PaymentStatus = "pending"
	PaymentInProcess   PaymentStatus = "in_process"
	PaymentAuthorized  PaymentStatus = "authorized"
	PaymentInMediation PaymentStatus = "in_mediation"
	PaymentApproved    PaymentStatus = "approved"
	PaymentRejected    PaymentStatus = "rejected"
	PaymentCancelled   PaymentStatus = "cancelled"
	PaymentRefunded    PaymentStatus = "refunded"
	PaymentChargedBack PaymentStatus = "charged_back"
	PaymentExpired     PaymentStatus = "expired"
)

// NormalizePaymentStatus lower-cases and trims a provider status string.  The
// American/British spelling variants of "cancelled" are folded together and
// an empty value is treated as pending.
func NormalizePaymentStatus(raw string) PaymentStatus {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch s {
	case "":
		return PaymentPending
	case "canceled":
		return PaymentCancelled
	case "chargeback":
		return PaymentChargedBack
	}
	return PaymentStatus(s)
}

// PaymentPhase groups provider statuses into the three settlement outcomes.
type PaymentPhase int

const (
	// PhaseWaiting means the provider has not reached a final answer yet.
	PhaseWaiting PaymentPhase = iota
	// PhaseApproved means money was captured and the payment must be settled.
	PhaseApproved
	// PhaseFailed means the payment will never be approved.
	PhaseFailed
)

// Phase maps the status to its settlement phase.  Unknown statuses are
// treated as waiting so that the sweeper keeps polling them.
func (s PaymentStatus) Phase() PaymentPhase {
	switch s {
	case PaymentApproved:
		return PhaseApproved
	case PaymentRejected, PaymentCancelled, PaymentRefunded, PaymentChargedBack, PaymentExpired:
		return PhaseFailed
	case PaymentPending, PaymentInProcess, PaymentAuthorized, PaymentInMediation:
		return PhaseWaiting
	}
	return PhaseWaiting
}

// FailedStatuses lists every status in the terminal failure family.
func FailedStatuses() []PaymentStatus {
	return []PaymentStatus{PaymentRejected, PaymentCancelled, PaymentRefunded, PaymentChargedBack, PaymentExpired}
}

// PaymentMethod identifies how a payment was made.
type PaymentMethod string

const (
	MethodPix     PaymentMethod = "pix"
	MethodCard    PaymentMethod = "card"
	MethodVoucher PaymentMethod = "voucher"
)

// Payment mirrors one external provider transaction, or an internal voucher
// redemption kept for audit history.
//
// Fields:
//
//	ID            – provider payment id (primary key).
//	UserID        – paying user.
//	DrawID        – draw the numbers belong to (nil for non-ticket purchases).
//	ReservationID – reservation that was checked out, if any.
//	Numbers       – purchased numbers.
//	AmountCents   – amount in minor currency units.
//	Method        – pix, card or voucher.
//	Status        – normalised provider status.
//	StatusDetail  – provider detail string (e.g. decline reason).
//	QRCode        – PIX copy-and-paste payload.
//	QRCodeBase64  – PIX QR image, whitespace stripped.
//	CreatedAt     – creation timestamp.
//	PaidAt        – when the provider approved the payment.
//	SettledAt     – when the numbers were sold; set exactly once.
type Payment struct {
	ID            string        // payments.id
	UserID        int64         // payments.user_id
	DrawID        *int64        // payments.draw_id (nullable)
	ReservationID *string       // payments.reservation_id (nullable)
	Numbers       []int         // payments.numbers (JSON)
	AmountCents   int64         // payments.amount_cents
	Method        PaymentMethod // payments.method
	Status        PaymentStatus // payments.status
	StatusDetail  string        // payments.status_detail
	QRCode        string        // payments.qr_code
	QRCodeBase64  string        // payments.qr_code_base64
	CreatedAt     time.Time     // payments.created_at
	PaidAt        *time.Time    // payments.paid_at (nullable)
	SettledAt     *time.Time    // payments.settled_at (nullable)
}

// Settled reports whether settlement has already been applied.
func (p Payment) Settled() bool { return p.SettledAt != nil }

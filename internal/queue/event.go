// Package queue carries ledger domain events over RabbitMQ: a publisher on
// the topic exchange and an audit consumer that appends them to a log file.
package queue

import "time"

// Exchange is the topic exchange every ledger event goes to.
const Exchange = "ledger"

// Routing keys.
const (
	KeyPaymentSettled   = "payment.settled"
	KeyPaymentOversold  = "payment.oversold"
	KeyDrawOpened       = "draw.opened"
	KeyDrawClosed       = "draw.closed"
	KeyAutopayCompleted = "autopay.completed"
)

// PaymentSettled is published once per payment when its numbers were sold.
type PaymentSettled struct {
	PaymentID   string    `json:"payment_id"`
	UserID      int64     `json:"user_id"`
	DrawID      int64     `json:"draw_id"`
	Numbers     []int     `json:"numbers"`
	AmountCents int64     `json:"amount_cents"`
	Method      string    `json:"method"`
	SettledAt   time.Time `json:"settled_at"`
}

// PaymentOversold reports an approved payment whose numbers were, at least
// partly, already sold by another payment.  It needs a manual refund.
type PaymentOversold struct {
	PaymentID string    `json:"payment_id"`
	UserID    int64     `json:"user_id"`
	DrawID    int64     `json:"draw_id"`
	Numbers   []int     `json:"numbers"`
	At        time.Time `json:"at"`
}

// DrawOpened is published when an admin opens a draw.
type DrawOpened struct {
	DrawID       int64     `json:"draw_id"`
	TotalNumbers int       `json:"total_numbers"`
	OpenedAt     time.Time `json:"opened_at"`
}

// DrawClosed is published when a draw closes, by sell-out or by an admin.
type DrawClosed struct {
	DrawID   int64     `json:"draw_id"`
	ClosedAt time.Time `json:"closed_at"`
	SoldOut  bool      `json:"sold_out"`
}

// AutopayCompleted summarises one scheduler run over a draw.
type AutopayCompleted struct {
	DrawID  int64     `json:"draw_id"`
	OK      int       `json:"ok"`
	Skipped int       `json:"skipped"`
	Failed  int       `json:"failed"`
	At      time.Time `json:"at"`
}

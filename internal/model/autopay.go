package model

import "time"

// MaxFavoriteNumbers caps how many favourite numbers a profile may hold
// when no other limit is configured.
const MaxFavoriteNumbers = 10

// AutopayProfile is a user's opt-in for automatic purchase of favourite
// numbers whenever a draw opens.  Only the provider-side customer and card
// references are stored; the card security code never is.
type AutopayProfile struct {
	UserID         int64     // autopay_profiles.user_id
	Email          string    // autopay_profiles.email
	Active         bool      // autopay_profiles.active
	CustomerID     string    // autopay_profiles.customer_id
	CardID         string    // autopay_profiles.card_id
	HolderName     string    // autopay_profiles.holder_name
	HolderDocument string    // autopay_profiles.holder_document
	Numbers        []int     // autopay_numbers.n
	UpdatedAt      time.Time // autopay_profiles.updated_at
}

// Eligible reports whether the scheduler may charge this profile.
func (p AutopayProfile) Eligible() bool {
	return p.Active && p.CustomerID != "" && p.CardID != "" && len(p.Numbers) > 0
}

// RunStatus is the per-profile outcome recorded in autopay_runs.
type RunStatus string

const (
	RunOK      RunStatus = "ok"
	RunError   RunStatus = "error"
	RunSkipped RunStatus = "skipped"
)

// AutopayRun is one audit row of the scheduler: what it tried to buy for a
// profile in a draw, what it bought and how it ended.
type AutopayRun struct {
	ID          int64     // autopay_runs.id
	DrawID      int64     // autopay_runs.draw_id
	UserID      int64     // autopay_runs.user_id
	Tried       []int     // autopay_runs.tried (JSON)
	Bought      []int     // autopay_runs.bought (JSON)
	Status      RunStatus // autopay_runs.status
	Reason      string    // autopay_runs.reason
	PaymentID   *string   // autopay_runs.payment_id (nullable)
	AmountCents int64     // autopay_runs.amount_cents
	CreatedAt   time.Time // autopay_runs.created_at
}

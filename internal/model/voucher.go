package model

import "time"

// Voucher is pre-paid credit redeemable for ticket numbers without going
// through the payment provider.  Each unit of Remaining buys one number.
type Voucher struct {
	ID        int64     // vouchers.id
	UserID    int64     // vouchers.user_id
	DrawID    *int64    // vouchers.draw_id (nullable = any draw)
	PaymentID *string   // vouchers.payment_id (purchase that granted it)
	Remaining int       // vouchers.remaining
	Used      bool      // vouchers.used
	CreatedAt time.Time // vouchers.created_at
}

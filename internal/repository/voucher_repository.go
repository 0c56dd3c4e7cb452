package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/newstore-ledger/internal/model"
)

// VoucherRepo provides access to the vouchers table.  A voucher row is a
// grant of credit; redemptions debit rows oldest first.
type VoucherRepo struct {
	db *sql.DB
}

const voucherColumns = `id, user_id, draw_id, payment_id, remaining, used, created_at`

func (r *VoucherRepo) queryVouchers(ctx context.Context, query string, args ...any) ([]model.Voucher, error) {
	rows, err := conn(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Voucher
	for rows.Next() {
		var (
			v       model.Voucher
			drawID  sql.NullInt64
			payment sql.NullString
		)
		if err := rows.Scan(&v.ID, &v.UserID, &drawID, &payment, &v.Remaining, &v.Used, &v.CreatedAt); err != nil {
			return nil, err
		}
		v.DrawID = int64Ptr(drawID)
		v.PaymentID = strPtr(payment)
		v.CreatedAt = v.CreatedAt.UTC()
		out = append(out, v)
	}
	return out, rows.Err()
}

// InsertVoucher stores a grant and sets v.ID.
func (r *VoucherRepo) InsertVoucher(ctx context.Context, v *model.Voucher) error {
	var drawID sql.NullInt64
	if v.DrawID != nil {
		drawID = sql.NullInt64{Int64: *v.DrawID, Valid: true}
	}
	res, err := conn(ctx, r.db).ExecContext(ctx,
		`INSERT INTO vouchers (user_id, draw_id, payment_id, remaining, used, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		v.UserID, drawID, nullString(v.PaymentID), v.Remaining, v.Used, v.CreatedAt.UTC())
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	v.ID = id
	return nil
}

// LockUsableVouchers locks the user's vouchers with remaining credit that
// apply to drawID, oldest first.  Rows locked by a concurrent redemption
// are skipped rather than waited for.
func (r *VoucherRepo) LockUsableVouchers(ctx context.Context, userID, drawID int64) ([]model.Voucher, error) {
	return r.queryVouchers(ctx,
		`SELECT `+voucherColumns+` FROM vouchers
		 WHERE user_id = ? AND used = 0 AND remaining > 0 AND (draw_id IS NULL OR draw_id = ?)
		 ORDER BY created_at, id FOR UPDATE SKIP LOCKED`, userID, drawID)
}

// UsableVouchers lists the user's vouchers with remaining credit.
func (r *VoucherRepo) UsableVouchers(ctx context.Context, userID int64) ([]model.Voucher, error) {
	return r.queryVouchers(ctx,
		`SELECT `+voucherColumns+` FROM vouchers
		 WHERE user_id = ? AND used = 0 AND remaining > 0 ORDER BY created_at, id`, userID)
}

// DebitVoucher sets the remaining credit; a voucher at zero becomes used.
func (r *VoucherRepo) DebitVoucher(ctx context.Context, id int64, remaining int) error {
	_, err := conn(ctx, r.db).ExecContext(ctx,
		`UPDATE vouchers SET remaining = ?, used = ? WHERE id = ?`, remaining, remaining <= 0, id)
	return err
}

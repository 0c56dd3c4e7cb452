package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/newstore-ledger/internal/model"
)

// PaymentRepo provides access to the payments table.  Rows mirror provider
// transactions and are keyed by the provider id.
type PaymentRepo struct {
	db *sql.DB
}

const paymentColumns = `id, user_id, draw_id, reservation_id, numbers, amount_cents, method, status,
	status_detail, qr_code, qr_code_base64, created_at, paid_at, settled_at`

func scanPayment(row rowScanner) (*model.Payment, error) {
	var (
		p                 model.Payment
		drawID            sql.NullInt64
		resID, qr, qr64   sql.NullString
		raw               []byte
		method, status    string
		paidAt, settledAt sql.NullTime
	)
	if err := row.Scan(&p.ID, &p.UserID, &drawID, &resID, &raw, &p.AmountCents, &method, &status,
		&p.StatusDetail, &qr, &qr64, &p.CreatedAt, &paidAt, &settledAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	ns, err := decodeNumbers(raw)
	if err != nil {
		return nil, err
	}
	p.Numbers = ns
	p.DrawID = int64Ptr(drawID)
	p.ReservationID = strPtr(resID)
	p.Method = model.PaymentMethod(method)
	p.Status = model.NormalizePaymentStatus(status)
	p.QRCode = qr.String
	p.QRCodeBase64 = qr64.String
	p.CreatedAt = p.CreatedAt.UTC()
	p.PaidAt = timePtr(paidAt)
	p.SettledAt = timePtr(settledAt)
	return &p, nil
}

func (r *PaymentRepo) queryPayments(ctx context.Context, query string, args ...any) ([]model.Payment, error) {
	rows, err := conn(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// InsertPayment stores a payment row.  A duplicate provider id yields
// ErrConflict.
func (r *PaymentRepo) InsertPayment(ctx context.Context, p *model.Payment) error {
	raw, err := encodeNumbers(p.Numbers)
	if err != nil {
		return err
	}
	var drawID sql.NullInt64
	if p.DrawID != nil {
		drawID = sql.NullInt64{Int64: *p.DrawID, Valid: true}
	}
	var paidAt, settledAt sql.NullTime
	if p.PaidAt != nil {
		paidAt = sql.NullTime{Time: p.PaidAt.UTC(), Valid: true}
	}
	if p.SettledAt != nil {
		settledAt = sql.NullTime{Time: p.SettledAt.UTC(), Valid: true}
	}
	_, err = conn(ctx, r.db).ExecContext(ctx,
		`INSERT INTO payments (id, user_id, draw_id, reservation_id, numbers, amount_cents, method, status,
		   status_detail, qr_code, qr_code_base64, created_at, paid_at, settled_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.UserID, drawID, nullString(p.ReservationID), raw, p.AmountCents, string(p.Method), string(p.Status),
		p.StatusDetail, p.QRCode, p.QRCodeBase64, p.CreatedAt.UTC(), paidAt, settledAt)
	if isDuplicate(err) {
		return ErrConflict
	}
	return err
}

// GetPayment loads a payment by provider id.
func (r *PaymentRepo) GetPayment(ctx context.Context, id string) (*model.Payment, error) {
	return scanPayment(conn(ctx, r.db).QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = ?`, id))
}

// LockPayment loads a payment with an exclusive row lock.
func (r *PaymentRepo) LockPayment(ctx context.Context, id string) (*model.Payment, error) {
	return scanPayment(conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = ? FOR UPDATE`, id))
}

// SetPaymentStatus records the latest provider status.
func (r *PaymentRepo) SetPaymentStatus(ctx context.Context, id string, status model.PaymentStatus, detail string) error {
	_, err := conn(ctx, r.db).ExecContext(ctx,
		`UPDATE payments SET status = ?, status_detail = ? WHERE id = ?`, string(status), detail, id)
	return err
}

// MarkPaymentSettled sets paid_at (when unset) and settled_at.
func (r *PaymentRepo) MarkPaymentSettled(ctx context.Context, id string, paidAt, settledAt time.Time) error {
	_, err := conn(ctx, r.db).ExecContext(ctx,
		`UPDATE payments SET paid_at = COALESCE(paid_at, ?), settled_at = ? WHERE id = ? AND settled_at IS NULL`,
		paidAt.UTC(), settledAt.UTC(), id)
	return err
}

// PendingPaymentFor returns the newest non-failed, unsettled payment
// created for a reservation.
func (r *PaymentRepo) PendingPaymentFor(ctx context.Context, reservationID string) (*model.Payment, error) {
	args := []any{reservationID}
	for _, s := range model.FailedStatuses() {
		args = append(args, string(s))
	}
	return scanPayment(conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments
		 WHERE reservation_id = ? AND settled_at IS NULL AND status NOT IN (`+inClause(len(model.FailedStatuses()))+`)
		 ORDER BY created_at DESC LIMIT 1`, args...))
}

// ApprovedNumbers maps every number covered by an approved payment of the
// draw to the id of that payment.
func (r *PaymentRepo) ApprovedNumbers(ctx context.Context, drawID int64) (map[int]string, error) {
	rows, err := conn(ctx, r.db).QueryContext(ctx,
		`SELECT id, numbers FROM payments WHERE draw_id = ? AND status = 'approved'`, drawID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	taken := map[int]string{}
	for rows.Next() {
		var (
			id  string
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		ns, err := decodeNumbers(raw)
		if err != nil {
			return nil, err
		}
		// first approved payment keeps the number
		for _, n := range ns {
			if _, ok := taken[n]; !ok {
				taken[n] = id
			}
		}
	}
	return taken, rows.Err()
}

// UnsettledPayments lists provider payments that are neither settled nor
// failed, created at or after since, oldest first.
func (r *PaymentRepo) UnsettledPayments(ctx context.Context, since time.Time, limit int) ([]model.Payment, error) {
	args := []any{since.UTC()}
	for _, s := range model.FailedStatuses() {
		args = append(args, string(s))
	}
	args = append(args, limit)
	return r.queryPayments(ctx,
		`SELECT `+paymentColumns+` FROM payments
		 WHERE settled_at IS NULL AND method <> 'voucher' AND created_at >= ?
		   AND status NOT IN (`+inClause(len(model.FailedStatuses()))+`)
		 ORDER BY created_at LIMIT ?`, args...)
}

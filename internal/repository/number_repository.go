package repository

import (
	"context"      // request scoped cancellation
	"database/sql" // nullable columns

	"github.com/iliyamo/newstore-ledger/internal/model"
)

// NumberRepo manages the per-draw numbered slots (numbers table).  Rows are
// created lazily; a missing row is equivalent to an available slot.
type NumberRepo struct {
	db *sql.DB
}

func numberArgs(drawID int64, numbers []int) []any {
	args := make([]any, 0, len(numbers)+1)
	args = append(args, drawID)
	for _, n := range numbers {
		args = append(args, n)
	}
	return args
}

// EnsureSlots inserts missing slot rows as available.  Existing rows are
// left untouched.
func (r *NumberRepo) EnsureSlots(ctx context.Context, drawID int64, numbers []int) error {
	if len(numbers) == 0 {
		return nil
	}
	// one multi-row insert; duplicates are skipped by the primary key
	query := `INSERT IGNORE INTO numbers (draw_id, n, status) VALUES `
	args := make([]any, 0, len(numbers)*2)
	for i, n := range numbers {
		if i > 0 {
			query += ","
		}
		query += "(?, ?, 'available')"
		args = append(args, drawID, n)
	}
	_, err := conn(ctx, r.db).ExecContext(ctx, query, args...)
	return err
}

func (r *NumberRepo) querySlots(ctx context.Context, query string, args ...any) ([]model.Slot, error) {
	rows, err := conn(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Slot
	for rows.Next() {
		var (
			s          model.Slot
			status     string
			resID, pid sql.NullString
		)
		if err := rows.Scan(&s.DrawID, &s.Number, &status, &resID, &pid); err != nil {
			return nil, err
		}
		// map nullable columns to optional pointers
		s.Status = model.SlotStatus(status)
		s.ReservationID = strPtr(resID)
		s.PaymentID = strPtr(pid)
		out = append(out, s)
	}
	return out, rows.Err()
}

// LockSlots reads the given slots FOR UPDATE in ascending number order so
// that concurrent transactions acquire row locks in the same order.
func (r *NumberRepo) LockSlots(ctx context.Context, drawID int64, numbers []int) ([]model.Slot, error) {
	if len(numbers) == 0 {
		return nil, nil
	}
	return r.querySlots(ctx,
		`SELECT draw_id, n, status, reservation_id, payment_id FROM numbers
		 WHERE draw_id = ? AND n IN (`+inClause(len(numbers))+`) ORDER BY n FOR UPDATE`,
		numberArgs(drawID, numbers)...)
}

// ListSlots returns every materialised slot of a draw ordered by number.
func (r *NumberRepo) ListSlots(ctx context.Context, drawID int64) ([]model.Slot, error) {
	return r.querySlots(ctx,
		`SELECT draw_id, n, status, reservation_id, payment_id FROM numbers WHERE draw_id = ? ORDER BY n`, drawID)
}

// ReserveSlots marks slots reserved by reservationID.
func (r *NumberRepo) ReserveSlots(ctx context.Context, drawID int64, numbers []int, reservationID string) error {
	if len(numbers) == 0 {
		return nil
	}
	args := append([]any{reservationID}, numberArgs(drawID, numbers)...)
	_, err := conn(ctx, r.db).ExecContext(ctx,
		`UPDATE numbers SET status = 'reserved', reservation_id = ?, payment_id = NULL
		 WHERE draw_id = ? AND n IN (`+inClause(len(numbers))+`) AND status = 'available'`, args...)
	return err
}

// ReleaseSlots returns the reserved slots of the given reservations to
// available.  Sold slots are never touched.
func (r *NumberRepo) ReleaseSlots(ctx context.Context, reservationIDs []string) error {
	if len(reservationIDs) == 0 {
		return nil
	}
	args := make([]any, len(reservationIDs))
	for i, id := range reservationIDs {
		args[i] = id
	}
	_, err := conn(ctx, r.db).ExecContext(ctx,
		`UPDATE numbers SET status = 'available', reservation_id = NULL
		 WHERE reservation_id IN (`+inClause(len(args))+`) AND status = 'reserved'`, args...)
	return err
}

// FreeSlots returns reserved slots to available by number, used for rows
// whose owning reservation is gone.
func (r *NumberRepo) FreeSlots(ctx context.Context, drawID int64, numbers []int) error {
	if len(numbers) == 0 {
		return nil
	}
	_, err := conn(ctx, r.db).ExecContext(ctx,
		`UPDATE numbers SET status = 'available', reservation_id = NULL
		 WHERE draw_id = ? AND n IN (`+inClause(len(numbers))+`) AND status = 'reserved'`,
		numberArgs(drawID, numbers)...)
	return err
}

// SellSlots marks slots sold by paymentID and clears their reservation link.
func (r *NumberRepo) SellSlots(ctx context.Context, drawID int64, numbers []int, paymentID string) error {
	if len(numbers) == 0 {
		return nil
	}
	args := append([]any{paymentID}, numberArgs(drawID, numbers)...)
	_, err := conn(ctx, r.db).ExecContext(ctx,
		`UPDATE numbers SET status = 'sold', payment_id = ?, reservation_id = NULL
		 WHERE draw_id = ? AND n IN (`+inClause(len(numbers))+`) AND status <> 'sold'`, args...)
	return err
}

// CountSold counts sold slots with a locking read so that the result
// reflects every committed sale.
func (r *NumberRepo) CountSold(ctx context.Context, drawID int64) (int, error) {
	var n int
	err := conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM numbers WHERE draw_id = ? AND status = 'sold' FOR SHARE`, drawID).Scan(&n)
	return n, err
}

package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/newstore-ledger/internal/model"
)

// DrawRepo provides access to the draws table.
type DrawRepo struct {
	db *sql.DB
}

const drawColumns = `id, product_id, status, total_numbers, opened_at, closed_at, realized_at,
	winner_number, winner_user_id, autopay_ran_at`

func scanDraw(row rowScanner) (*model.Draw, error) {
	var (
		d                           model.Draw
		status                      string
		productID, winnerUser       sql.NullInt64
		winnerNumber                sql.NullInt64
		closedAt, realizedAt, ranAt sql.NullTime
	)
	if err := row.Scan(&d.ID, &productID, &status, &d.TotalNumbers, &d.OpenedAt, &closedAt, &realizedAt,
		&winnerNumber, &winnerUser, &ranAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	d.Status = model.DrawStatus(status)
	d.ProductID = int64Ptr(productID)
	d.OpenedAt = d.OpenedAt.UTC()
	d.ClosedAt = timePtr(closedAt)
	d.RealizedAt = timePtr(realizedAt)
	d.WinnerUserID = int64Ptr(winnerUser)
	d.AutopayRanAt = timePtr(ranAt)
	if winnerNumber.Valid {
		n := int(winnerNumber.Int64)
		d.WinnerNumber = &n
	}
	return &d, nil
}

// InsertDraw creates an open draw and stores the generated id in d.ID.
func (r *DrawRepo) InsertDraw(ctx context.Context, d *model.Draw) error {
	var productID sql.NullInt64
	if d.ProductID != nil {
		productID = sql.NullInt64{Int64: *d.ProductID, Valid: true}
	}
	res, err := conn(ctx, r.db).ExecContext(ctx,
		`INSERT INTO draws (product_id, status, total_numbers, opened_at) VALUES (?, ?, ?, ?)`,
		productID, string(d.Status), d.TotalNumbers, d.OpenedAt.UTC())
	if isDuplicate(err) {
		// uq_draws_open
		return fmt.Errorf("another draw is open: %w", ErrConflict)
	}
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	d.ID = id
	return nil
}

// GetDraw loads a draw by id.
func (r *DrawRepo) GetDraw(ctx context.Context, id int64) (*model.Draw, error) {
	return scanDraw(conn(ctx, r.db).QueryRowContext(ctx, `SELECT `+drawColumns+` FROM draws WHERE id = ?`, id))
}

// LockDraw loads a draw with an exclusive row lock.
func (r *DrawRepo) LockDraw(ctx context.Context, id int64) (*model.Draw, error) {
	return scanDraw(conn(ctx, r.db).QueryRowContext(ctx, `SELECT `+drawColumns+` FROM draws WHERE id = ? FOR UPDATE`, id))
}

// CurrentDraw returns the most recently opened draw that is still open.
func (r *DrawRepo) CurrentDraw(ctx context.Context) (*model.Draw, error) {
	return scanDraw(conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+drawColumns+` FROM draws WHERE status = 'open' ORDER BY id DESC LIMIT 1`))
}

// CloseDrawIfOpen closes the draw unless it is already closed.  It reports
// whether this call performed the transition.
func (r *DrawRepo) CloseDrawIfOpen(ctx context.Context, id int64, at time.Time) (bool, error) {
	res, err := conn(ctx, r.db).ExecContext(ctx,
		`UPDATE draws SET status = 'closed', closed_at = ? WHERE id = ? AND status = 'open'`, at.UTC(), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// SetDrawWinner records the winning number and owner of a closed draw.
func (r *DrawRepo) SetDrawWinner(ctx context.Context, id int64, number int, userID int64, at time.Time) error {
	res, err := conn(ctx, r.db).ExecContext(ctx,
		`UPDATE draws SET winner_number = ?, winner_user_id = ?, realized_at = ? WHERE id = ? AND status = 'closed'`,
		number, userID, at.UTC(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}
	return nil
}

// MarkAutopayRan stamps the autopay claim on a draw.
func (r *DrawRepo) MarkAutopayRan(ctx context.Context, id int64, at time.Time) error {
	_, err := conn(ctx, r.db).ExecContext(ctx, `UPDATE draws SET autopay_ran_at = ? WHERE id = ?`, at.UTC(), id)
	return err
}

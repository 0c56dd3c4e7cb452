package repository

import (
	"context"      // request scoped cancellation
	"database/sql" // nullable columns
	"errors"       // errors.Is on sql.ErrNoRows
	"time"         // expiry timestamps

	"github.com/iliyamo/newstore-ledger/internal/model"
)

// ReservationRepo provides access to the reservations table.  Numbers are
// stored as a JSON array; all timestamps are UTC.
type ReservationRepo struct {
	db *sql.DB
}

const reservationColumns = `id, user_id, draw_id, numbers, status, created_at, expires_at, payment_id`

type rowScanner interface{ Scan(...any) error }

func scanReservation(row rowScanner) (*model.Reservation, error) {
	var (
		res     model.Reservation
		raw     []byte
		status  string
		payment sql.NullString
	)
	if err := row.Scan(&res.ID, &res.UserID, &res.DrawID, &raw, &status, &res.CreatedAt, &res.ExpiresAt, &payment); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	ns, err := decodeNumbers(raw)
	if err != nil {
		return nil, err
	}
	res.Numbers = ns
	res.Status = model.ReservationStatus(status)
	res.CreatedAt = res.CreatedAt.UTC()
	res.ExpiresAt = res.ExpiresAt.UTC()
	res.PaymentID = strPtr(payment)
	return &res, nil
}

func (r *ReservationRepo) queryReservations(ctx context.Context, query string, args ...any) ([]model.Reservation, error) {
	rows, err := conn(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *res)
	}
	return out, rows.Err()
}

// InsertReservation stores a new reservation.
func (r *ReservationRepo) InsertReservation(ctx context.Context, res *model.Reservation) error {
	raw, err := encodeNumbers(res.Numbers)
	if err != nil {
		return err
	}
	_, err = conn(ctx, r.db).ExecContext(ctx,
		`INSERT INTO reservations (id, user_id, draw_id, numbers, status, created_at, expires_at, payment_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		res.ID, res.UserID, res.DrawID, raw, string(res.Status), res.CreatedAt.UTC(), res.ExpiresAt.UTC(), nullString(res.PaymentID))
	return err
}

// GetReservation loads a reservation by id.
func (r *ReservationRepo) GetReservation(ctx context.Context, id string) (*model.Reservation, error) {
	return scanReservation(conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE id = ?`, id))
}

// LockReservation loads a reservation with an exclusive row lock.
func (r *ReservationRepo) LockReservation(ctx context.Context, id string) (*model.Reservation, error) {
	return scanReservation(conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE id = ? FOR UPDATE`, id))
}

// ReservationsByID loads the given reservations without locking them.
func (r *ReservationRepo) ReservationsByID(ctx context.Context, ids []string) ([]model.Reservation, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return r.queryReservations(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE id IN (`+inClause(len(ids))+`)`, args...)
}

// LockReservations loads and locks the given reservations.  Unknown ids are
// silently absent from the result.
func (r *ReservationRepo) LockReservations(ctx context.Context, ids []string) ([]model.Reservation, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return r.queryReservations(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE id IN (`+inClause(len(ids))+`) ORDER BY id FOR UPDATE`, args...)
}

// SetReservationStatus moves a batch of reservations to status.
func (r *ReservationRepo) SetReservationStatus(ctx context.Context, ids []string, status model.ReservationStatus) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, string(status))
	for _, id := range ids {
		args = append(args, id)
	}
	_, err := conn(ctx, r.db).ExecContext(ctx,
		`UPDATE reservations SET status = ? WHERE id IN (`+inClause(len(ids))+`)`, args...)
	return err
}

// StaleReservations lists active reservations whose TTL elapsed at now,
// oldest first, locked for update and skipping rows held elsewhere.
func (r *ReservationRepo) StaleReservations(ctx context.Context, now time.Time, limit int) ([]model.Reservation, error) {
	return r.queryReservations(ctx,
		`SELECT `+reservationColumns+` FROM reservations
		 WHERE status = 'active' AND expires_at <= ?
		 ORDER BY expires_at LIMIT ? FOR UPDATE SKIP LOCKED`, now.UTC(), limit)
}

// AttachPayment links the checkout payment to a reservation.
func (r *ReservationRepo) AttachPayment(ctx context.Context, reservationID, paymentID string) error {
	_, err := conn(ctx, r.db).ExecContext(ctx,
		`UPDATE reservations SET payment_id = ? WHERE id = ?`, paymentID, reservationID)
	return err
}

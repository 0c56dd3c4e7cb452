package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/newstore-ledger/internal/model"
)

// AutopayRepo stores autopay profiles, their favourite numbers and the
// per-draw audit trail.
type AutopayRepo struct {
	db *sql.DB
}

const profileColumns = `user_id, email, active, customer_id, card_id, holder_name, holder_document, updated_at`

func scanProfile(row rowScanner) (*model.AutopayProfile, error) {
	var p model.AutopayProfile
	if err := row.Scan(&p.UserID, &p.Email, &p.Active, &p.CustomerID, &p.CardID, &p.HolderName, &p.HolderDocument, &p.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

func (r *AutopayRepo) loadFavorites(ctx context.Context, userIDs []int64) (map[int64][]int, error) {
	out := map[int64][]int{}
	if len(userIDs) == 0 {
		return out, nil
	}
	args := make([]any, len(userIDs))
	for i, id := range userIDs {
		args[i] = id
	}
	rows, err := conn(ctx, r.db).QueryContext(ctx,
		`SELECT user_id, n FROM autopay_numbers WHERE user_id IN (`+inClause(len(args))+`) ORDER BY user_id, n`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			uid int64
			n   int
		)
		if err := rows.Scan(&uid, &n); err != nil {
			return nil, err
		}
		out[uid] = append(out[uid], n)
	}
	return out, rows.Err()
}

// GetAutopayProfile loads a profile with its favourites.
func (r *AutopayRepo) GetAutopayProfile(ctx context.Context, userID int64) (*model.AutopayProfile, error) {
	p, err := scanProfile(conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM autopay_profiles WHERE user_id = ?`, userID))
	if err != nil {
		return nil, err
	}
	favs, err := r.loadFavorites(ctx, []int64{userID})
	if err != nil {
		return nil, err
	}
	p.Numbers = favs[userID]
	return p, nil
}

// UpsertAutopayProfile creates or replaces a profile and its favourites.
// Call it inside a transaction so the number set is swapped atomically.
func (r *AutopayRepo) UpsertAutopayProfile(ctx context.Context, p *model.AutopayProfile) error {
	q := conn(ctx, r.db)
	if _, err := q.ExecContext(ctx,
		`INSERT INTO autopay_profiles (`+profileColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON DUPLICATE KEY UPDATE email = VALUES(email), active = VALUES(active), customer_id = VALUES(customer_id),
		   card_id = VALUES(card_id), holder_name = VALUES(holder_name), holder_document = VALUES(holder_document),
		   updated_at = VALUES(updated_at)`,
		p.UserID, p.Email, p.Active, p.CustomerID, p.CardID, p.HolderName, p.HolderDocument, p.UpdatedAt.UTC()); err != nil {
		return err
	}
	if _, err := q.ExecContext(ctx, `DELETE FROM autopay_numbers WHERE user_id = ?`, p.UserID); err != nil {
		return err
	}
	if len(p.Numbers) == 0 {
		return nil
	}
	query := `INSERT INTO autopay_numbers (user_id, n) VALUES `
	args := make([]any, 0, len(p.Numbers)*2)
	for i, n := range p.Numbers {
		if i > 0 {
			query += ","
		}
		query += "(?, ?)"
		args = append(args, p.UserID, n)
	}
	_, err := q.ExecContext(ctx, query, args...)
	return err
}

// DeactivateAutopayProfile switches a profile off without deleting it.
func (r *AutopayRepo) DeactivateAutopayProfile(ctx context.Context, userID int64) error {
	res, err := conn(ctx, r.db).ExecContext(ctx, `UPDATE autopay_profiles SET active = 0 WHERE user_id = ?`, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// either missing or already inactive
		if _, err := r.GetAutopayProfile(ctx, userID); err != nil {
			return err
		}
	}
	return nil
}

// ActiveAutopayProfiles lists active profiles with favourites, by user id.
func (r *AutopayRepo) ActiveAutopayProfiles(ctx context.Context) ([]model.AutopayProfile, error) {
	rows, err := conn(ctx, r.db).QueryContext(ctx,
		`SELECT `+profileColumns+` FROM autopay_profiles WHERE active = 1 ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	var (
		out []model.AutopayProfile
		ids []int64
	)
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, *p)
		ids = append(ids, p.UserID)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	favs, err := r.loadFavorites(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Numbers = favs[out[i].UserID]
	}
	return out, nil
}

// InsertAutopayRun appends one audit row.
func (r *AutopayRepo) InsertAutopayRun(ctx context.Context, run *model.AutopayRun) error {
	tried, err := encodeNumbers(run.Tried)
	if err != nil {
		return err
	}
	bought, err := encodeNumbers(run.Bought)
	if err != nil {
		return err
	}
	res, err := conn(ctx, r.db).ExecContext(ctx,
		`INSERT INTO autopay_runs (draw_id, user_id, tried, bought, status, reason, payment_id, amount_cents, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.DrawID, run.UserID, tried, bought, string(run.Status), run.Reason, nullString(run.PaymentID), run.AmountCents, run.CreatedAt.UTC())
	if err != nil {
		return err
	}
	if id, err := res.LastInsertId(); err == nil {
		run.ID = id
	}
	return nil
}

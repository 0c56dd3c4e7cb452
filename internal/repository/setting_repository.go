package repository

import (
	"context"
	"database/sql"
	"errors"
)

// SettingRepo is a small key/value table for operator-tunable values such
// as the ticket price.
type SettingRepo struct {
	db *sql.DB
}

// GetSetting returns the value stored under name.
func (r *SettingRepo) GetSetting(ctx context.Context, name string) (string, error) {
	var v string
	err := conn(ctx, r.db).QueryRowContext(ctx, `SELECT value FROM settings WHERE name = ?`, name).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return v, err
}

// PutSetting creates or overwrites a setting.
func (r *SettingRepo) PutSetting(ctx context.Context, name, value string) error {
	_, err := conn(ctx, r.db).ExecContext(ctx,
		`INSERT INTO settings (name, value) VALUES (?, ?) ON DUPLICATE KEY UPDATE value = VALUES(value)`, name, value)
	return err
}

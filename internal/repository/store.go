package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

type txKey struct{}

// querier is the subset shared by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn returns the transaction carried by ctx, or db when there is none.
func conn(ctx context.Context, db *sql.DB) querier {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return db
}

// Store is the MySQL ticket ledger.  It embeds one repo per table; every
// repo method joins the transaction started by WithTx when called with the
// context WithTx hands out.
type Store struct {
	db *sql.DB
	*DrawRepo
	*NumberRepo
	*ReservationRepo
	*PaymentRepo
	*VoucherRepo
	*AutopayRepo
	*SettingRepo
}

// NewStore binds all repositories to db.
func NewStore(db *sql.DB) *Store {
	return &Store{
		db:              db,
		DrawRepo:        &DrawRepo{db: db},
		NumberRepo:      &NumberRepo{db: db},
		ReservationRepo: &ReservationRepo{db: db},
		PaymentRepo:     &PaymentRepo{db: db},
		VoucherRepo:     &VoucherRepo{db: db},
		AutopayRepo:     &AutopayRepo{db: db},
		SettingRepo:     &SettingRepo{db: db},
	}
}

// WithTx runs fn inside a transaction.  fn receives a context carrying the
// transaction; any error it returns rolls everything back.  Nested calls
// join the outer transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

// WithNamedLock holds the MySQL user lock name while fn runs.  The lock is
// taken on a dedicated pooled connection before fn starts its transaction
// and released only after fn returns, that is after the commit.  Calling
// it inside WithTx is an error: the caller would already hold row locks.
func (s *Store) WithNamedLock(ctx context.Context, name string, wait time.Duration, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fmt.Errorf("named lock %q: %w", name, ErrLockInTx)
	}
	c, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("named lock %q: %w", name, err)
	}
	defer c.Close()

	// GET_LOCK takes whole seconds
	secs := int(wait / time.Second)
	if secs < 1 {
		secs = 1
	}
	var got sql.NullInt64
	if err := c.QueryRowContext(ctx, `SELECT GET_LOCK(?, ?)`, name, secs).Scan(&got); err != nil {
		return fmt.Errorf("get_lock %q: %w", name, err)
	}
	if !got.Valid || got.Int64 != 1 { // 0 on timeout, NULL on error
		return fmt.Errorf("%w: %s", ErrLockTimeout, name)
	}
	defer func() {
		if _, err := c.ExecContext(context.WithoutCancel(ctx), `DO RELEASE_LOCK(?)`, name); err != nil {
			slog.Error("release_lock failed, dropping connection", "lock", name, "err", err)
			// a session that may still hold the lock must not go back to the pool
			_ = c.Raw(func(any) error { return driver.ErrBadConn })
		}
	}()
	return fn(ctx)
}

// Ping checks database reachability for the health endpoint.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// inClause returns "?,?,?" for n values.
func inClause(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func encodeNumbers(ns []int) ([]byte, error) {
	if ns == nil {
		ns = []int{}
	}
	return json.Marshal(ns)
}

func decodeNumbers(raw []byte) ([]int, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var ns []int
	if err := json.Unmarshal(raw, &ns); err != nil {
		return nil, fmt.Errorf("decode numbers: %w", err)
	}
	return ns, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func strPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

func int64Ptr(ni sql.NullInt64) *int64 {
	if !ni.Valid {
		return nil
	}
	v := ni.Int64
	return &v
}

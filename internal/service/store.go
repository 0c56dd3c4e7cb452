package service

import (
	"context"
	"time"

	"github.com/iliyamo/newstore-ledger/internal/model"
)

// Tx runs work atomically.  Repository calls made with the context passed
// to fn join the transaction.
type Tx interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	// WithNamedLock serialises fn with other holders of name.  It must be
	// called outside WithTx; fn usually opens the transaction itself.
	WithNamedLock(ctx context.Context, name string, wait time.Duration, fn func(ctx context.Context) error) error
}

type DrawStore interface {
	InsertDraw(ctx context.Context, d *model.Draw) error
	GetDraw(ctx context.Context, id int64) (*model.Draw, error)
	LockDraw(ctx context.Context, id int64) (*model.Draw, error)
	CurrentDraw(ctx context.Context) (*model.Draw, error)
	CloseDrawIfOpen(ctx context.Context, id int64, at time.Time) (bool, error)
	SetDrawWinner(ctx context.Context, id int64, number int, userID int64, at time.Time) error
	MarkAutopayRan(ctx context.Context, id int64, at time.Time) error
}

type SlotStore interface {
	EnsureSlots(ctx context.Context, drawID int64, numbers []int) error
	LockSlots(ctx context.Context, drawID int64, numbers []int) ([]model.Slot, error)
	ListSlots(ctx context.Context, drawID int64) ([]model.Slot, error)
	ReserveSlots(ctx context.Context, drawID int64, numbers []int, reservationID string) error
	ReleaseSlots(ctx context.Context, reservationIDs []string) error
	FreeSlots(ctx context.Context, drawID int64, numbers []int) error
	SellSlots(ctx context.Context, drawID int64, numbers []int, paymentID string) error
	CountSold(ctx context.Context, drawID int64) (int, error)
}

type ReservationStore interface {
	InsertReservation(ctx context.Context, r *model.Reservation) error
	GetReservation(ctx context.Context, id string) (*model.Reservation, error)
	LockReservation(ctx context.Context, id string) (*model.Reservation, error)
	ReservationsByID(ctx context.Context, ids []string) ([]model.Reservation, error)
	LockReservations(ctx context.Context, ids []string) ([]model.Reservation, error)
	SetReservationStatus(ctx context.Context, ids []string, status model.ReservationStatus) error
	StaleReservations(ctx context.Context, now time.Time, limit int) ([]model.Reservation, error)
	AttachPayment(ctx context.Context, reservationID, paymentID string) error
}

type PaymentStore interface {
	InsertPayment(ctx context.Context, p *model.Payment) error
	GetPayment(ctx context.Context, id string) (*model.Payment, error)
	LockPayment(ctx context.Context, id string) (*model.Payment, error)
	SetPaymentStatus(ctx context.Context, id string, status model.PaymentStatus, detail string) error
	MarkPaymentSettled(ctx context.Context, id string, paidAt, settledAt time.Time) error
	PendingPaymentFor(ctx context.Context, reservationID string) (*model.Payment, error)
	ApprovedNumbers(ctx context.Context, drawID int64) (map[int]string, error)
	UnsettledPayments(ctx context.Context, since time.Time, limit int) ([]model.Payment, error)
}

type VoucherStore interface {
	InsertVoucher(ctx context.Context, v *model.Voucher) error
	LockUsableVouchers(ctx context.Context, userID, drawID int64) ([]model.Voucher, error)
	UsableVouchers(ctx context.Context, userID int64) ([]model.Voucher, error)
	DebitVoucher(ctx context.Context, id int64, remaining int) error
}

type AutopayStore interface {
	GetAutopayProfile(ctx context.Context, userID int64) (*model.AutopayProfile, error)
	UpsertAutopayProfile(ctx context.Context, p *model.AutopayProfile) error
	DeactivateAutopayProfile(ctx context.Context, userID int64) error
	ActiveAutopayProfiles(ctx context.Context) ([]model.AutopayProfile, error)
	InsertAutopayRun(ctx context.Context, run *model.AutopayRun) error
}

// Store is the whole ledger as the services see it.  Both
// repository.Store and memstore.Store satisfy it.
type Store interface {
	Tx
	DrawStore
	SlotStore
	ReservationStore
	PaymentStore
	VoucherStore
	AutopayStore
}

// PriceSource yields the current ticket price in minor units.
type PriceSource interface {
	Current(ctx context.Context) (int64, error)
}

// Identity is the authenticated caller.
type Identity struct {
	UserID int64
	Email  string
	Role   string
}

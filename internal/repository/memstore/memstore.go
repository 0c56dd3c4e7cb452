// Package memstore is an in-memory ticket ledger with the same behaviour as
// the MySQL store.  Transactions are serialised by a single lock and undone
// from a snapshot on error, so it is strictly stronger than row locking and
// suitable for exercising concurrent callers in tests.
package memstore

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/newstore-ledger/internal/model"
	"github.com/iliyamo/newstore-ledger/internal/repository"
)

type txKey struct{}

type slotKey struct {
	draw int64
	n    int
}

type state struct {
	draws        map[int64]model.Draw
	slots        map[slotKey]model.Slot
	reservations map[string]model.Reservation
	payments     map[string]model.Payment
	vouchers     map[int64]model.Voucher
	profiles     map[int64]model.AutopayProfile
	runs         []model.AutopayRun
	settings     map[string]string
	nextDraw     int64
	nextVoucher  int64
	nextRun      int64
}

func (s *state) clone() *state {
	c := *s
	c.draws = cloneMap(s.draws)
	c.slots = cloneMap(s.slots)
	c.reservations = cloneMap(s.reservations)
	c.payments = cloneMap(s.payments)
	c.vouchers = cloneMap(s.vouchers)
	c.profiles = cloneMap(s.profiles)
	c.runs = slices.Clone(s.runs)
	c.settings = cloneMap(s.settings)
	return &c
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Store implements the same method set as repository.Store.
type Store struct {
	mu sync.Mutex
	st *state

	lmu   sync.Mutex
	named map[string]chan struct{}
}

// New returns an empty ledger.
func New() *Store {
	return &Store{st: &state{
		draws:        map[int64]model.Draw{},
		slots:        map[slotKey]model.Slot{},
		reservations: map[string]model.Reservation{},
		payments:     map[string]model.Payment{},
		vouchers:     map[int64]model.Voucher{},
		profiles:     map[int64]model.AutopayProfile{},
		settings:     map[string]string{},
	}}
}

func (s *Store) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(txKey{}).(*Store)
	return owner == s
}

// enter serialises a single statement issued outside WithTx.
func (s *Store) enter(ctx context.Context) func() {
	if s.inTx(ctx) {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// WithTx runs fn exclusively; an error restores the state as it was before.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inTx(ctx) {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.st.clone()
	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		s.st = snap
		return err
	}
	return nil
}

func (s *Store) namedLock(name string) chan struct{} {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	if s.named == nil {
		s.named = map[string]chan struct{}{}
	}
	l, ok := s.named[name]
	if !ok {
		l = make(chan struct{}, 1)
		s.named[name] = l
	}
	return l
}

// WithNamedLock holds the lock name while fn runs, waiting at most wait
// for it.  Like the MySQL store it refuses to start inside a transaction.
func (s *Store) WithNamedLock(ctx context.Context, name string, wait time.Duration, fn func(ctx context.Context) error) error {
	if s.inTx(ctx) {
		return fmt.Errorf("named lock %q: %w", name, repository.ErrLockInTx)
	}
	l := s.namedLock(name)
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case l <- struct{}{}:
	case <-timer.C:
		return fmt.Errorf("%w: %s", repository.ErrLockTimeout, name)
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-l }()
	return fn(ctx)
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// --- draws

func (s *Store) InsertDraw(ctx context.Context, d *model.Draw) error {
	defer s.enter(ctx)()
	if d.Status == model.DrawOpen {
		for _, other := range s.st.draws {
			if other.Status == model.DrawOpen {
				return fmt.Errorf("another draw is open: %w", repository.ErrConflict)
			}
		}
	}
	s.st.nextDraw++
	d.ID = s.st.nextDraw
	s.st.draws[d.ID] = *d
	return nil
}

func (s *Store) GetDraw(ctx context.Context, id int64) (*model.Draw, error) {
	defer s.enter(ctx)()
	d, ok := s.st.draws[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &d, nil
}

func (s *Store) LockDraw(ctx context.Context, id int64) (*model.Draw, error) {
	return s.GetDraw(ctx, id)
}

func (s *Store) CurrentDraw(ctx context.Context) (*model.Draw, error) {
	defer s.enter(ctx)()
	var best *model.Draw
	for _, d := range s.st.draws {
		if d.Status == model.DrawOpen && (best == nil || d.ID > best.ID) {
			d := d
			best = &d
		}
	}
	if best == nil {
		return nil, repository.ErrNotFound
	}
	return best, nil
}

func (s *Store) CloseDrawIfOpen(ctx context.Context, id int64, at time.Time) (bool, error) {
	defer s.enter(ctx)()
	d, ok := s.st.draws[id]
	if !ok || d.Status != model.DrawOpen {
		return false, nil
	}
	d.Status = model.DrawClosed
	d.ClosedAt = &at
	s.st.draws[id] = d
	return true, nil
}

func (s *Store) SetDrawWinner(ctx context.Context, id int64, number int, userID int64, at time.Time) error {
	defer s.enter(ctx)()
	d, ok := s.st.draws[id]
	if !ok || d.Status != model.DrawClosed {
		return repository.ErrConflict
	}
	d.WinnerNumber = &number
	d.WinnerUserID = &userID
	d.RealizedAt = &at
	s.st.draws[id] = d
	return nil
}

func (s *Store) MarkAutopayRan(ctx context.Context, id int64, at time.Time) error {
	defer s.enter(ctx)()
	d, ok := s.st.draws[id]
	if !ok {
		return nil
	}
	d.AutopayRanAt = &at
	s.st.draws[id] = d
	return nil
}

// --- numbers

func (s *Store) EnsureSlots(ctx context.Context, drawID int64, numbers []int) error {
	defer s.enter(ctx)()
	for _, n := range numbers {
		k := slotKey{drawID, n}
		if _, ok := s.st.slots[k]; !ok {
			s.st.slots[k] = model.Slot{DrawID: drawID, Number: n, Status: model.SlotAvailable}
		}
	}
	return nil
}

func (s *Store) LockSlots(ctx context.Context, drawID int64, numbers []int) ([]model.Slot, error) {
	defer s.enter(ctx)()
	var out []model.Slot
	for _, n := range numbers {
		if sl, ok := s.st.slots[slotKey{drawID, n}]; ok {
			out = append(out, sl)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (s *Store) ListSlots(ctx context.Context, drawID int64) ([]model.Slot, error) {
	defer s.enter(ctx)()
	var out []model.Slot
	for k, sl := range s.st.slots {
		if k.draw == drawID {
			out = append(out, sl)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (s *Store) updateSlots(drawID int64, numbers []int, fn func(*model.Slot)) {
	for _, n := range numbers {
		k := slotKey{drawID, n}
		if sl, ok := s.st.slots[k]; ok {
			fn(&sl)
			s.st.slots[k] = sl
		}
	}
}

func (s *Store) ReserveSlots(ctx context.Context, drawID int64, numbers []int, reservationID string) error {
	defer s.enter(ctx)()
	s.updateSlots(drawID, numbers, func(sl *model.Slot) {
		if sl.Status == model.SlotAvailable {
			id := reservationID
			sl.Status, sl.ReservationID, sl.PaymentID = model.SlotReserved, &id, nil
		}
	})
	return nil
}

func (s *Store) ReleaseSlots(ctx context.Context, reservationIDs []string) error {
	defer s.enter(ctx)()
	for k, sl := range s.st.slots {
		if sl.Status == model.SlotReserved && sl.ReservationID != nil && slices.Contains(reservationIDs, *sl.ReservationID) {
			sl.Status, sl.ReservationID = model.SlotAvailable, nil
			s.st.slots[k] = sl
		}
	}
	return nil
}

func (s *Store) FreeSlots(ctx context.Context, drawID int64, numbers []int) error {
	defer s.enter(ctx)()
	s.updateSlots(drawID, numbers, func(sl *model.Slot) {
		if sl.Status == model.SlotReserved {
			sl.Status, sl.ReservationID = model.SlotAvailable, nil
		}
	})
	return nil
}

func (s *Store) SellSlots(ctx context.Context, drawID int64, numbers []int, paymentID string) error {
	defer s.enter(ctx)()
	s.updateSlots(drawID, numbers, func(sl *model.Slot) {
		if sl.Status != model.SlotSold {
			id := paymentID
			sl.Status, sl.PaymentID, sl.ReservationID = model.SlotSold, &id, nil
		}
	})
	return nil
}

func (s *Store) CountSold(ctx context.Context, drawID int64) (int, error) {
	defer s.enter(ctx)()
	n := 0
	for k, sl := range s.st.slots {
		if k.draw == drawID && sl.Status == model.SlotSold {
			n++
		}
	}
	return n, nil
}

// --- reservations

func (s *Store) InsertReservation(ctx context.Context, r *model.Reservation) error {
	defer s.enter(ctx)()
	if _, ok := s.st.reservations[r.ID]; ok {
		return repository.ErrConflict
	}
	c := *r
	c.Numbers = slices.Clone(r.Numbers)
	s.st.reservations[r.ID] = c
	return nil
}

func (s *Store) GetReservation(ctx context.Context, id string) (*model.Reservation, error) {
	defer s.enter(ctx)()
	r, ok := s.st.reservations[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &r, nil
}

func (s *Store) LockReservation(ctx context.Context, id string) (*model.Reservation, error) {
	return s.GetReservation(ctx, id)
}

func (s *Store) ReservationsByID(ctx context.Context, ids []string) ([]model.Reservation, error) {
	return s.LockReservations(ctx, ids)
}

func (s *Store) LockReservations(ctx context.Context, ids []string) ([]model.Reservation, error) {
	defer s.enter(ctx)()
	var out []model.Reservation
	for _, id := range ids {
		if r, ok := s.st.reservations[id]; ok {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) SetReservationStatus(ctx context.Context, ids []string, status model.ReservationStatus) error {
	defer s.enter(ctx)()
	for _, id := range ids {
		if r, ok := s.st.reservations[id]; ok {
			r.Status = status
			s.st.reservations[id] = r
		}
	}
	return nil
}

func (s *Store) StaleReservations(ctx context.Context, now time.Time, limit int) ([]model.Reservation, error) {
	defer s.enter(ctx)()
	var out []model.Reservation
	for _, r := range s.st.reservations {
		if r.Stale(now) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) AttachPayment(ctx context.Context, reservationID, paymentID string) error {
	defer s.enter(ctx)()
	if r, ok := s.st.reservations[reservationID]; ok {
		id := paymentID
		r.PaymentID = &id
		s.st.reservations[reservationID] = r
	}
	return nil
}

// --- payments

func (s *Store) InsertPayment(ctx context.Context, p *model.Payment) error {
	defer s.enter(ctx)()
	if _, ok := s.st.payments[p.ID]; ok {
		return repository.ErrConflict
	}
	c := *p
	c.Numbers = slices.Clone(p.Numbers)
	s.st.payments[p.ID] = c
	return nil
}

func (s *Store) GetPayment(ctx context.Context, id string) (*model.Payment, error) {
	defer s.enter(ctx)()
	p, ok := s.st.payments[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &p, nil
}

func (s *Store) LockPayment(ctx context.Context, id string) (*model.Payment, error) {
	return s.GetPayment(ctx, id)
}

func (s *Store) SetPaymentStatus(ctx context.Context, id string, status model.PaymentStatus, detail string) error {
	defer s.enter(ctx)()
	if p, ok := s.st.payments[id]; ok {
		p.Status, p.StatusDetail = status, detail
		s.st.payments[id] = p
	}
	return nil
}

func (s *Store) MarkPaymentSettled(ctx context.Context, id string, paidAt, settledAt time.Time) error {
	defer s.enter(ctx)()
	p, ok := s.st.payments[id]
	if !ok || p.SettledAt != nil {
		return nil
	}
	if p.PaidAt == nil {
		p.PaidAt = &paidAt
	}
	p.SettledAt = &settledAt
	s.st.payments[id] = p
	return nil
}

func (s *Store) PendingPaymentFor(ctx context.Context, reservationID string) (*model.Payment, error) {
	defer s.enter(ctx)()
	var best *model.Payment
	for _, p := range s.st.payments {
		if p.ReservationID == nil || *p.ReservationID != reservationID || p.SettledAt != nil || p.Status.Phase() == model.PhaseFailed {
			continue
		}
		if best == nil || p.CreatedAt.After(best.CreatedAt) {
			p := p
			best = &p
		}
	}
	if best == nil {
		return nil, repository.ErrNotFound
	}
	return best, nil
}

func (s *Store) ApprovedNumbers(ctx context.Context, drawID int64) (map[int]string, error) {
	defer s.enter(ctx)()
	taken := map[int]string{}
	ids := make([]string, 0, len(s.st.payments))
	for id := range s.st.payments {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		p := s.st.payments[id]
		if p.DrawID == nil || *p.DrawID != drawID || p.Status != model.PaymentApproved {
			continue
		}
		for _, n := range p.Numbers {
			if _, ok := taken[n]; !ok {
				taken[n] = p.ID
			}
		}
	}
	return taken, nil
}

func (s *Store) UnsettledPayments(ctx context.Context, since time.Time, limit int) ([]model.Payment, error) {
	defer s.enter(ctx)()
	var out []model.Payment
	for _, p := range s.st.payments {
		if p.SettledAt != nil || p.Method == model.MethodVoucher || p.CreatedAt.Before(since) || p.Status.Phase() == model.PhaseFailed {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- vouchers

func (s *Store) InsertVoucher(ctx context.Context, v *model.Voucher) error {
	defer s.enter(ctx)()
	s.st.nextVoucher++
	v.ID = s.st.nextVoucher
	s.st.vouchers[v.ID] = *v
	return nil
}

func (s *Store) usable(userID int64, match func(model.Voucher) bool) []model.Voucher {
	var out []model.Voucher
	for _, v := range s.st.vouchers {
		if v.UserID == userID && !v.Used && v.Remaining > 0 && match(v) {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *Store) LockUsableVouchers(ctx context.Context, userID, drawID int64) ([]model.Voucher, error) {
	defer s.enter(ctx)()
	return s.usable(userID, func(v model.Voucher) bool { return v.DrawID == nil || *v.DrawID == drawID }), nil
}

func (s *Store) UsableVouchers(ctx context.Context, userID int64) ([]model.Voucher, error) {
	defer s.enter(ctx)()
	return s.usable(userID, func(model.Voucher) bool { return true }), nil
}

func (s *Store) DebitVoucher(ctx context.Context, id int64, remaining int) error {
	defer s.enter(ctx)()
	if v, ok := s.st.vouchers[id]; ok {
		v.Remaining = remaining
		v.Used = remaining <= 0
		s.st.vouchers[id] = v
	}
	return nil
}

// --- autopay

func (s *Store) GetAutopayProfile(ctx context.Context, userID int64) (*model.AutopayProfile, error) {
	defer s.enter(ctx)()
	p, ok := s.st.profiles[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	p.Numbers = slices.Clone(p.Numbers)
	return &p, nil
}

func (s *Store) UpsertAutopayProfile(ctx context.Context, p *model.AutopayProfile) error {
	defer s.enter(ctx)()
	c := *p
	c.Numbers = slices.Clone(p.Numbers)
	sort.Ints(c.Numbers)
	s.st.profiles[p.UserID] = c
	return nil
}

func (s *Store) DeactivateAutopayProfile(ctx context.Context, userID int64) error {
	defer s.enter(ctx)()
	p, ok := s.st.profiles[userID]
	if !ok {
		return repository.ErrNotFound
	}
	p.Active = false
	s.st.profiles[userID] = p
	return nil
}

func (s *Store) ActiveAutopayProfiles(ctx context.Context) ([]model.AutopayProfile, error) {
	defer s.enter(ctx)()
	var out []model.AutopayProfile
	for _, p := range s.st.profiles {
		if p.Active {
			p.Numbers = slices.Clone(p.Numbers)
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *Store) InsertAutopayRun(ctx context.Context, run *model.AutopayRun) error {
	defer s.enter(ctx)()
	s.st.nextRun++
	run.ID = s.st.nextRun
	s.st.runs = append(s.st.runs, *run)
	return nil
}

// --- settings

func (s *Store) GetSetting(ctx context.Context, name string) (string, error) {
	defer s.enter(ctx)()
	v, ok := s.st.settings[name]
	if !ok {
		return "", repository.ErrNotFound
	}
	return v, nil
}

func (s *Store) PutSetting(ctx context.Context, name, value string) error {
	defer s.enter(ctx)()
	s.st.settings[name] = value
	return nil
}

// --- inspection helpers for tests

// Slot returns the materialised slot row, if any.
func (s *Store) Slot(drawID int64, n int) (model.Slot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.st.slots[slotKey{drawID, n}]
	return sl, ok
}

// AutopayRuns returns the audit rows of a draw in insertion order.
func (s *Store) AutopayRuns(drawID int64) []model.AutopayRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.AutopayRun
	for _, r := range s.st.runs {
		if r.DrawID == drawID {
			out = append(out, r)
		}
	}
	return out
}

// Voucher returns a voucher row by id.
func (s *Store) Voucher(id int64) (model.Voucher, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.st.vouchers[id]
	return v, ok
}

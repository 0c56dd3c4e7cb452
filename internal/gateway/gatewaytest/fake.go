// Package gatewaytest provides an in-memory payment provider for tests.
package gatewaytest

import (
	"context"
	"fmt"
	"sync"

	"github.com/iliyamo/newstore-ledger/internal/gateway"
	"github.com/iliyamo/newstore-ledger/internal/model"
)

// Fake records calls and answers from a configurable table.  Requests with
// an idempotency key already seen return the original payment.
type Fake struct {
	mu       sync.Mutex
	next     int
	payments map[string]gateway.Payment
	byKey    map[string]string

	// PixErr, when set, fails every CreatePix call.
	PixErr error
	// GetErr, when set, fails every GetPayment call.
	GetErr error
	// CardStatus is the status a card charge ends in per customer id;
	// approved when absent.
	CardStatus map[string]model.PaymentStatus
	// CardErr fails the card charge of a customer id.
	CardErr map[string]error

	PixCalls  int
	CardCalls int
	GetCalls  int
	LastPix   gateway.PixRequest
	LastCard  gateway.CardChargeRequest
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{
		payments:   map[string]gateway.Payment{},
		byKey:      map[string]string{},
		CardStatus: map[string]model.PaymentStatus{},
		CardErr:    map[string]error{},
	}
}

func (f *Fake) store(key string, p gateway.Payment) *gateway.Payment {
	f.next++
	p.ID = fmt.Sprintf("%d", 1000+f.next)
	f.payments[p.ID] = p
	if key != "" {
		f.byKey[key] = p.ID
	}
	return &p
}

func (f *Fake) CreatePix(_ context.Context, in gateway.PixRequest) (*gateway.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.PixCalls++
	f.LastPix = in
	if f.PixErr != nil {
		return nil, f.PixErr
	}
	if id, ok := f.byKey[in.IdempotencyKey]; ok {
		p := f.payments[id]
		return &p, nil
	}
	return f.store(in.IdempotencyKey, gateway.Payment{
		Status:            model.PaymentPending,
		ExternalReference: in.ExternalReference,
		QRCode:            "00020126pix-" + in.ExternalReference,
		QRCodeBase64:      "iVBORw0KGgo=",
	}), nil
}

func (f *Fake) ChargeSavedCard(_ context.Context, in gateway.CardChargeRequest) (*gateway.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CardCalls++
	f.LastCard = in
	if err := f.CardErr[in.CustomerID]; err != nil {
		return nil, err
	}
	status, ok := f.CardStatus[in.CustomerID]
	if !ok {
		status = model.PaymentApproved
	}
	return f.store(in.IdempotencyKey, gateway.Payment{Status: status, ExternalReference: in.ExternalReference}), nil
}

func (f *Fake) GetPayment(_ context.Context, id string) (*gateway.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.GetCalls++
	if f.GetErr != nil {
		return nil, f.GetErr
	}
	p, ok := f.payments[id]
	if !ok {
		return nil, &gateway.Error{Op: "get_payment", StatusCode: 404, Message: "payment not found", Err: gateway.ErrProvider}
	}
	return &p, nil
}

// SetStatus changes what the provider reports for a payment.
func (f *Fake) SetStatus(id string, status model.PaymentStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.payments[id]
	p.ID = id
	p.Status = status
	f.payments[id] = p
}

// Calls returns the per-method call counters.
func (f *Fake) Calls() (pix, card, get int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.PixCalls, f.CardCalls, f.GetCalls
}

var _ gateway.Gateway = (*Fake)(nil)

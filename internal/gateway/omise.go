package gateway

import (
	"context"
	"strings"

	"github.com/omise/omise-go"            // Omise client
	"github.com/omise/omise-go/operations" // charge operations

	"github.com/iliyamo/newstore-ledger/internal/model"
)

const omiseInvalidSecurityCode = "invalid_security_code"

// Omise implements Gateway on omise-go.  QR payments are PromptPay source
// charges; saved cards are customer cards.
type Omise struct {
	client   *omise.Client
	currency string
}

// NewOmise builds the omise-go client for the given key pair.
func NewOmise(publicKey, secretKey, currency string) (*Omise, error) {
	c, err := omise.NewClient(publicKey, secretKey)
	if err != nil {
		return nil, err
	}
	return &Omise{client: c, currency: strings.ToLower(currency)}, nil
}

// do runs an SDK operation, giving up when ctx is done.  The SDK call
// itself is not cancellable; its result is discarded in that case.
func (o *Omise) do(ctx context.Context, op string, call func() error) error {
	done := make(chan error, 1)
	go func() { done <- call() }()
	select {
	case err := <-done:
		if err != nil {
			return &Error{Op: op, Message: err.Error(), Err: ErrProvider}
		}
		return nil
	case <-ctx.Done():
		return &Error{Op: op, Code: "timeout", Message: ctx.Err().Error(), Err: ErrProvider}
	}
}

func omiseStatus(s string) model.PaymentStatus {
	switch strings.ToLower(s) {
	case "successful":
		return model.PaymentApproved
	case "failed":
		return model.PaymentRejected
	case "reversed", "expired":
		return model.PaymentCancelled
	}
	return model.PaymentPending
}

func chargeToPayment(ch *omise.Charge, reference string) *Payment {
	p := &Payment{
		ID:                ch.ID,
		Status:            omiseStatus(string(ch.Status)),
		ExternalReference: reference,
		QRCode:            ch.AuthorizeURI,
	}
	if ch.FailureCode != nil {
		p.StatusDetail = *ch.FailureCode
	}
	return p
}

// CreatePix creates a PromptPay source and charges it; the authorize URI
// carries the scannable code.
func (o *Omise) CreatePix(ctx context.Context, in PixRequest) (*Payment, error) {
	src := &omise.Source{}
	if err := o.do(ctx, "create_source", func() error {
		return o.client.Do(src, &operations.CreateSource{
			Type:     "promptpay",
			Amount:   in.AmountCents,
			Currency: o.currency,
		})
	}); err != nil {
		return nil, err
	}
	ch := &omise.Charge{}
	if err := o.do(ctx, "create_charge", func() error {
		return o.client.Do(ch, &operations.CreateCharge{
			Amount:   in.AmountCents,
			Currency: o.currency,
			Source:   src.ID,
			Metadata: map[string]any{"reservation_id": in.ExternalReference, "idempotency_key": in.IdempotencyKey},
		})
	}); err != nil {
		return nil, err
	}
	if ch.ID == "" {
		return nil, providerErr("create_charge", 0, "malformed", "charge without id")
	}
	return chargeToPayment(ch, in.ExternalReference), nil
}

// ChargeSavedCard charges a customer's stored card.
func (o *Omise) ChargeSavedCard(ctx context.Context, in CardChargeRequest) (*Payment, error) {
	ch := &omise.Charge{}
	if err := o.do(ctx, "charge_card", func() error {
		return o.client.Do(ch, &operations.CreateCharge{
			Amount:   in.AmountCents,
			Currency: o.currency,
			Customer: in.CustomerID,
			Card:     in.CardID,
			Metadata: map[string]any{"reservation_id": in.ExternalReference, "idempotency_key": in.IdempotencyKey},
		})
	}); err != nil {
		return nil, err
	}
	p := chargeToPayment(ch, in.ExternalReference)
	if p.StatusDetail == omiseInvalidSecurityCode {
		return p, &Error{Op: "charge_card", Code: p.StatusDetail, Err: ErrSecurityCodeRequired}
	}
	return p, nil
}

// GetPayment retrieves a charge.
func (o *Omise) GetPayment(ctx context.Context, id string) (*Payment, error) {
	ch := &omise.Charge{}
	if err := o.do(ctx, "get_charge", func() error {
		return o.client.Do(ch, &operations.RetrieveCharge{ChargeID: id})
	}); err != nil {
		return nil, err
	}
	ref, _ := ch.Metadata["reservation_id"].(string)
	return chargeToPayment(ch, ref), nil
}

var _ Gateway = (*Omise)(nil)

// Package gateway talks to the external payment provider.  Two
// implementations exist: Mercado Pago (PIX and saved cards over REST) and
// Omise (PromptPay sources and customer cards through omise-go).  Callers
// only see normalised statuses and the sentinel errors of this package.
package gateway

import (
	"context"
	"time"

	"github.com/iliyamo/newstore-ledger/internal/model"
)

// PixRequest asks the provider for a QR payment.
type PixRequest struct {
	AmountCents       int64
	Description       string
	PayerEmail        string
	IdempotencyKey    string
	ExternalReference string
	NotificationURL   string
	ExpiresAt         time.Time
}

// CardChargeRequest charges a card the provider already stores for a
// customer.  SecurityCode is optional; some issuers demand it.
type CardChargeRequest struct {
	AmountCents       int64
	Description       string
	PayerEmail        string
	CustomerID        string
	CardID            string
	SecurityCode      string
	IdempotencyKey    string
	ExternalReference string
	NotificationURL   string
}

// Payment is the provider's view of one transaction.
type Payment struct {
	ID                string
	Status            model.PaymentStatus
	StatusDetail      string
	ExternalReference string
	QRCode            string
	QRCodeBase64      string
}

// Gateway is the payment provider contract.
type Gateway interface {
	CreatePix(ctx context.Context, req PixRequest) (*Payment, error)
	ChargeSavedCard(ctx context.Context, req CardChargeRequest) (*Payment, error)
	GetPayment(ctx context.Context, id string) (*Payment, error)
}

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal" // cents to BRL amounts

	"github.com/iliyamo/newstore-ledger/internal/model"
)

const (
	mpDateLayout        = "2006-01-02T15:04:05.000-07:00"
	mpBadSecurityCode   = "cc_rejected_bad_filled_security_code"
	mpMaxErrorBodyBytes = 4 << 10
	mpMaxResponseBytes  = 1 << 20
)

// MercadoPago is the REST client for api.mercadopago.com.
type MercadoPago struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewMercadoPago builds a client.  timeout bounds every request.
func NewMercadoPago(baseURL, accessToken string, timeout time.Duration) *MercadoPago {
	return &MercadoPago{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   accessToken,
		http:    &http.Client{Timeout: timeout},
	}
}

type mpPayer struct {
	Type  string `json:"type,omitempty"`
	ID    string `json:"id,omitempty"`
	Email string `json:"email,omitempty"`
}

type mpPaymentRequest struct {
	TransactionAmount json.Number `json:"transaction_amount"`
	Description       string      `json:"description,omitempty"`
	PaymentMethodID   string      `json:"payment_method_id,omitempty"`
	Token             string      `json:"token,omitempty"`
	Installments      int         `json:"installments,omitempty"`
	Payer             mpPayer     `json:"payer"`
	ExternalReference string      `json:"external_reference,omitempty"`
	NotificationURL   string      `json:"notification_url,omitempty"`
	DateOfExpiration  string      `json:"date_of_expiration,omitempty"`
}

type mpPaymentResponse struct {
	ID                 json.Number `json:"id"`
	Status             string      `json:"status"`
	StatusDetail       string      `json:"status_detail"`
	ExternalReference  string      `json:"external_reference"`
	PointOfInteraction struct {
		TransactionData struct {
			QRCode       string `json:"qr_code"`
			QRCodeBase64 string `json:"qr_code_base64"`
		} `json:"transaction_data"`
	} `json:"point_of_interaction"`
}

type mpErrorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
	Cause   []struct {
		Code        json.RawMessage `json:"code"`
		Description string          `json:"description"`
	} `json:"cause"`
}

// amount converts minor units to the major-unit decimal the API expects.
func amount(cents int64) json.Number {
	return json.Number(decimal.New(cents, -2).StringFixed(2))
}

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		}
		return r
	}, s)
}

func (r *mpPaymentResponse) toPayment(op string) (*Payment, error) {
	id := strings.TrimSpace(r.ID.String())
	if id == "" {
		return nil, providerErr(op, 0, "malformed", "response without payment id")
	}
	p := &Payment{
		ID:                id,
		Status:            model.NormalizePaymentStatus(r.Status),
		StatusDetail:      r.StatusDetail,
		ExternalReference: r.ExternalReference,
		QRCode:            strings.TrimSpace(r.PointOfInteraction.TransactionData.QRCode),
		QRCodeBase64:      stripSpace(r.PointOfInteraction.TransactionData.QRCodeBase64),
	}
	return p, nil
}

// do sends a JSON request and decodes a 2xx body into out.  Non-2xx
// answers become *Error values.
func (m *MercadoPago) do(ctx context.Context, op, method, path, idemKey string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, m.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+m.token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idemKey != "" {
		req.Header.Set("X-Idempotency-Key", idemKey)
	}

	res, err := m.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return &Error{Op: op, Code: "timeout", Message: ctx.Err().Error(), Err: ErrProvider}
		}
		return &Error{Op: op, Code: "transport", Message: err.Error(), Err: ErrProvider}
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(res.Body, mpMaxErrorBodyBytes))
		return m.errorFrom(op, res.StatusCode, raw)
	}
	if err := json.NewDecoder(io.LimitReader(res.Body, mpMaxResponseBytes)).Decode(out); err != nil {
		return providerErr(op, res.StatusCode, "malformed", err.Error())
	}
	return nil
}

func (m *MercadoPago) errorFrom(op string, status int, raw []byte) *Error {
	var er mpErrorResponse
	if err := json.Unmarshal(raw, &er); err != nil {
		return providerErr(op, status, "", strings.TrimSpace(string(raw)))
	}
	e := providerErr(op, status, er.Error, er.Message)
	for _, c := range er.Cause {
		if strings.Contains(strings.ToLower(c.Description), "security_code") ||
			strings.Contains(strings.ToLower(c.Description), "security code") {
			e.Err = ErrSecurityCodeRequired
		}
	}
	if strings.Contains(strings.ToLower(er.Message), "security_code") {
		e.Err = ErrSecurityCodeRequired
	}
	return e
}

// CreatePix creates a PIX payment and returns its QR payload.
func (m *MercadoPago) CreatePix(ctx context.Context, in PixRequest) (*Payment, error) {
	req := mpPaymentRequest{
		TransactionAmount: amount(in.AmountCents),
		Description:       in.Description,
		PaymentMethodID:   "pix",
		Payer:             mpPayer{Email: in.PayerEmail},
		ExternalReference: in.ExternalReference,
		NotificationURL:   in.NotificationURL,
	}
	if !in.ExpiresAt.IsZero() {
		req.DateOfExpiration = in.ExpiresAt.Format(mpDateLayout)
	}
	var res mpPaymentResponse
	if err := m.do(ctx, "create_pix", http.MethodPost, "/v1/payments", in.IdempotencyKey, req, &res); err != nil {
		return nil, err
	}
	p, err := res.toPayment("create_pix")
	if err != nil {
		return nil, err
	}
	if p.QRCode == "" {
		return nil, providerErr("create_pix", 0, "malformed", "response without qr_code")
	}
	return p, nil
}

// ChargeSavedCard tokenises a stored card and charges it in one instalment.
func (m *MercadoPago) ChargeSavedCard(ctx context.Context, in CardChargeRequest) (*Payment, error) {
	tokenReq := map[string]string{"card_id": in.CardID, "customer_id": in.CustomerID}
	if in.SecurityCode != "" {
		tokenReq["security_code"] = in.SecurityCode
	}
	var token struct {
		ID string `json:"id"`
	}
	if err := m.do(ctx, "card_token", http.MethodPost, "/v1/card_tokens", "", tokenReq, &token); err != nil {
		return nil, err
	}
	if token.ID == "" {
		return nil, providerErr("card_token", 0, "malformed", "response without token id")
	}

	req := mpPaymentRequest{
		TransactionAmount: amount(in.AmountCents),
		Description:       in.Description,
		Token:             token.ID,
		Installments:      1,
		Payer:             mpPayer{Type: "customer", ID: in.CustomerID, Email: in.PayerEmail},
		ExternalReference: in.ExternalReference,
		NotificationURL:   in.NotificationURL,
	}
	var res mpPaymentResponse
	if err := m.do(ctx, "charge_card", http.MethodPost, "/v1/payments", in.IdempotencyKey, req, &res); err != nil {
		return nil, err
	}
	p, err := res.toPayment("charge_card")
	if err != nil {
		return nil, err
	}
	if p.StatusDetail == mpBadSecurityCode {
		return p, &Error{Op: "charge_card", Code: p.StatusDetail, Err: ErrSecurityCodeRequired}
	}
	return p, nil
}

// GetPayment fetches the current state of a payment.
func (m *MercadoPago) GetPayment(ctx context.Context, id string) (*Payment, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("gateway: empty payment id")
	}
	var res mpPaymentResponse
	if err := m.do(ctx, "get_payment", http.MethodGet, "/v1/payments/"+url.PathEscape(id), "", nil, &res); err != nil {
		return nil, err
	}
	return res.toPayment("get_payment")
}

var _ Gateway = (*MercadoPago)(nil)

package router

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/newstore-ledger/internal/clock"
	"github.com/iliyamo/newstore-ledger/internal/gateway"
	"github.com/iliyamo/newstore-ledger/internal/gateway/gatewaytest"
	"github.com/iliyamo/newstore-ledger/internal/handler"
	"github.com/iliyamo/newstore-ledger/internal/model"
	"github.com/iliyamo/newstore-ledger/internal/pricing"
	"github.com/iliyamo/newstore-ledger/internal/queue"
	"github.com/iliyamo/newstore-ledger/internal/queue/queuetest"
	"github.com/iliyamo/newstore-ledger/internal/repository/memstore"
	"github.com/iliyamo/newstore-ledger/internal/service"
	"github.com/iliyamo/newstore-ledger/internal/utils"
)

const secret = "test-secret"

type app struct {
	e     *echo.Echo
	gw    *gatewaytest.Fake
	pub   *queuetest.Recorder
	draws *service.Draws
	kicks int
}

func newApp(t *testing.T) *app {
	t.Helper()
	store := memstore.New()
	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	a := &app{e: echo.New(), gw: gatewaytest.New(), pub: &queuetest.Recorder{}}

	prices := pricing.New(store, nil, clk, time.Minute, 500)
	reservations := service.NewReservations(store, clk, 5*time.Minute, nil)
	settlement := service.NewSettlement(store, a.gw, clk, a.pub, time.Second)
	checkout := service.NewCheckout(store, a.gw, prices, clk, service.CheckoutConfig{PixMinExpiry: 30 * time.Minute, Timeout: time.Second})
	vouchers := service.NewVouchers(store, clk, a.pub)
	autopay := service.NewAutopay(store, a.gw, prices, reservations, settlement, clk, a.pub, service.AutopayConfig{Timeout: time.Second})
	sweeper := service.NewSweeper(store, settlement, clk, service.SweeperConfig{MinInterval: time.Minute})
	a.draws = service.NewDraws(store, clk, a.pub, nil)

	RegisterRoutes(a.e, store)
	RegisterPublic(a.e, handler.NewPublicHandler(a.draws, reservations), nil)
	RegisterWebhook(a.e, handler.NewWebhookHandler(settlement, "", time.Second))
	RegisterCustomer(a.e, handler.NewCustomerHandler(reservations, checkout, settlement, vouchers, autopay), secret,
		func(next echo.HandlerFunc) echo.HandlerFunc {
			return func(c echo.Context) error { a.kicks++; return next(c) }
		})
	RegisterAdmin(a.e, handler.NewAdminHandler(a.draws, autopay, settlement, sweeper, vouchers, prices), secret)
	return a
}

func token(t *testing.T, userID int64, role string) string {
	t.Helper()
	tok, err := utils.NewAccessToken(secret, userID, "user@example.com", role, time.Hour)
	require.NoError(t, err)
	return tok.Token
}

func (a *app) do(t *testing.T, method, path, tok string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	out := map[string]any{}
	if rec.Body.Len() > 0 && rec.Header().Get(echo.HeaderContentType) != "" && rec.Body.Bytes()[0] == '{' {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func numbers(v any) []int {
	var out []int
	for _, n := range v.([]any) {
		out = append(out, int(n.(float64)))
	}
	return out
}

func TestReserveCheckoutWebhookReplay(t *testing.T) {
	a := newApp(t)
	admin := token(t, 900, "ADMIN")
	buyer := token(t, 1, "USER")
	other := token(t, 2, "USER")

	// draws 1..6 are history
	for i := 0; i < 6; i++ {
		d, err := a.draws.Open(context.Background(), service.OpenInput{})
		require.NoError(t, err)
		_, err = a.draws.Close(context.Background(), d.ID)
		require.NoError(t, err)
	}
	rec, body := a.do(t, http.MethodPost, "/v1/admin/draws", admin, map[string]any{"total_numbers": 100})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Equal(t, float64(7), body["id"])

	rec, body = a.do(t, http.MethodPost, "/v1/reservations", buyer, map[string]any{"draw_id": 7, "numbers": []int{45, 12}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resID := body["id"].(string)
	assert.Equal(t, []int{12, 45}, numbers(body["numbers"]))
	assert.Equal(t, "active", body["status"])

	rec, body = a.do(t, http.MethodPost, "/v1/reservations", other, map[string]any{"draw_id": 7, "numbers": []int{12, 13}})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "numbers unavailable", body["error"])
	assert.Equal(t, []int{12}, numbers(body["unavailable"]))

	rec, body = a.do(t, http.MethodPost, "/v1/reservations/"+resID+"/checkout", buyer, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	payID := body["id"].(string)
	assert.Equal(t, "10.00", body["amount"])
	assert.Equal(t, "pending", body["status"])
	assert.NotEmpty(t, body["qr_code"])

	rec, _ = a.do(t, http.MethodPost, "/v1/reservations/"+resID+"/checkout", other, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	a.gw.SetStatus(payID, model.PaymentApproved)
	rec, body = a.do(t, http.MethodPost, "/v1/payments/webhook", "", map[string]any{
		"type": "payment", "action": "payment.updated", "data": map[string]any{"id": payID},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, true, body["settled"])

	rec, body = a.do(t, http.MethodGet, "/v1/draws/7/numbers", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []int{12, 45}, numbers(body["sold"]))
	assert.Empty(t, body["reserved"])

	rec, body = a.do(t, http.MethodGet, "/v1/reservations/"+resID, buyer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "paid", body["status"])

	rec, body = a.do(t, http.MethodPost, "/v1/admin/payments/"+payID+"/replay", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, false, body["settled"])

	// a late duplicate notification in the legacy query format
	rec, body = a.do(t, http.MethodPost, "/v1/payments/webhook?topic=payment&id="+payID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["settled"])

	assert.Equal(t, 1, a.pub.Count(queue.KeyPaymentSettled))

	rec, body = a.do(t, http.MethodGet, "/v1/payments/"+payID, buyer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "approved", body["status"])
	assert.NotNil(t, body["settled_at"])
	assert.Positive(t, a.kicks)
}

func TestAuthAndRoles(t *testing.T) {
	a := newApp(t)

	rec, _ := a.do(t, http.MethodPost, "/v1/reservations", "", map[string]any{"numbers": []int{1}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = a.do(t, http.MethodPost, "/v1/reservations", "not-a-token", map[string]any{"numbers": []int{1}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = a.do(t, http.MethodPost, "/v1/admin/draws", token(t, 1, "USER"), map[string]any{})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = a.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestErrorMapping(t *testing.T) {
	a := newApp(t)
	buyer := token(t, 1, "USER")

	rec, _ := a.do(t, http.MethodGet, "/v1/draws/current", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	_, err := a.draws.Open(context.Background(), service.OpenInput{TotalNumbers: 10})
	require.NoError(t, err)

	rec, body := a.do(t, http.MethodGet, "/v1/draws/current", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(10), body["total_numbers"])

	rec, _ = a.do(t, http.MethodPost, "/v1/reservations", buyer, map[string]any{"numbers": []int{10, 11}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = a.do(t, http.MethodGet, "/v1/reservations/nope", buyer, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, body = a.do(t, http.MethodPost, "/v1/reservations", buyer, map[string]any{"numbers": []int{1}})
	require.Equal(t, http.StatusCreated, rec.Code)
	a.gw.PixErr = assert.AnError
	rec, _ = a.do(t, http.MethodPost, "/v1/reservations/"+body["id"].(string)+"/checkout", buyer, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec, body = a.do(t, http.MethodPost, "/v1/payments/webhook", "", map[string]any{"type": "payment", "data": map[string]any{"id": 123456}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ignored", body["status"], "unknown payment")

	rec, body = a.do(t, http.MethodPost, "/v1/payments/webhook", "", map[string]any{"type": "merchant_order", "data": map[string]any{"id": "1"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ignored", body["status"])
}

func TestPaymentPollReportsProviderOutage(t *testing.T) {
	a := newApp(t)
	buyer := token(t, 1, "USER")
	_, err := a.draws.Open(context.Background(), service.OpenInput{TotalNumbers: 10})
	require.NoError(t, err)

	rec, body := a.do(t, http.MethodPost, "/v1/reservations", buyer, map[string]any{"numbers": []int{3}})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec, body = a.do(t, http.MethodPost, "/v1/reservations/"+body["id"].(string)+"/checkout", buyer, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	payID := body["id"].(string)

	a.gw.GetErr = &gateway.Error{Op: "get_payment", StatusCode: 503, Err: gateway.ErrProvider}
	rec, body = a.do(t, http.MethodGet, "/v1/payments/"+payID, buyer, nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, true, body["retryable"])

	a.gw.GetErr = nil
	rec, body = a.do(t, http.MethodGet, "/v1/payments/"+payID, buyer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pending", body["status"])
}

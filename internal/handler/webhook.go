package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/newstore-ledger/internal/service"
)

const maxWebhookBody = 64 << 10

// WebhookHandler receives provider notifications.  It always answers 200 so
// the provider stops retrying; anything that could not be applied is left
// to the sweeper.
type WebhookHandler struct {
	Settlement *service.Settlement
	// Secret enables x-signature verification when not empty.
	Secret  string
	Timeout time.Duration
}

func NewWebhookHandler(settlement *service.Settlement, secret string, timeout time.Duration) *WebhookHandler {
	if settlement == nil {
		panic("nil settlement passed to NewWebhookHandler")
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &WebhookHandler{Settlement: settlement, Secret: secret, Timeout: timeout}
}

type webhookBody struct {
	Type   string `json:"type"`
	Topic  string `json:"topic"`
	Action string `json:"action"`
	Data   struct {
		ID json.RawMessage `json:"id"`
	} `json:"data"`
}

// notification extracts the topic and payment id from the body or, for
// the legacy IPN format, the query string.  Ids may be JSON numbers or
// strings.
func notification(c echo.Context, raw []byte) (topic, id string) {
	var body webhookBody
	if len(raw) > 0 && json.Unmarshal(raw, &body) == nil {
		topic = body.Type
		if topic == "" {
			topic = body.Topic
		}
		id = strings.Trim(string(body.Data.ID), `"`)
		if id == "null" {
			id = ""
		}
	}
	q := c.QueryParams()
	if topic == "" {
		topic = q.Get("type")
	}
	if topic == "" {
		topic = q.Get("topic")
	}
	if id == "" {
		id = q.Get("data.id")
	}
	if id == "" {
		id = q.Get("id")
	}
	return strings.ToLower(topic), strings.TrimSpace(id)
}

// validSignature checks the "ts=...,v1=..." x-signature header: v1 is the
// hex HMAC-SHA256 of "id:<data.id>;request-id:<x-request-id>;ts:<ts>;".
func validSignature(secret string, r *http.Request, id string) bool {
	var ts, v1 string
	for _, part := range strings.Split(r.Header.Get("x-signature"), ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(k) {
		case "ts":
			ts = strings.TrimSpace(v)
		case "v1":
			v1 = strings.TrimSpace(v)
		}
	}
	if ts == "" || v1 == "" {
		return false
	}
	manifest := fmt.Sprintf("id:%s;request-id:%s;ts:%s;", strings.ToLower(id), r.Header.Get("x-request-id"), ts)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(manifest)) // never fails
	want := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(want), []byte(strings.ToLower(v1)))
}

// Receive handles POST /v1/payments/webhook.
func (h *WebhookHandler) Receive(c echo.Context) error {
	raw, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		slog.Warn("webhook body unreadable", "err", err)
		return c.JSON(http.StatusOK, echo.Map{"status": "ignored"})
	}
	topic, id := notification(c, raw)
	// merchant_order and other topics are acknowledged and dropped
	if id == "" || (topic != "" && topic != "payment") {
		return c.JSON(http.StatusOK, echo.Map{"status": "ignored"})
	}
	if h.Secret != "" && !validSignature(h.Secret, c.Request(), id) {
		slog.Warn("webhook signature mismatch", "paymentId", id)
		return c.JSON(http.StatusOK, echo.Map{"status": "ignored"})
	}

	// the provider may hang up early; finish applying the status regardless
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request().Context()), h.Timeout)
	defer cancel()
	res, err := h.Settlement.Sync(ctx, id, service.TriggerWebhook)
	switch {
	case errors.Is(err, service.ErrNotFound):
		slog.Info("webhook for unknown payment", "paymentId", id)
		return c.JSON(http.StatusOK, echo.Map{"status": "ignored"})
	case err != nil:
		slog.Warn("webhook sync failed", "paymentId", id, "err", err)
		return c.JSON(http.StatusOK, echo.Map{"status": "deferred"})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"status":         "ok",
		"payment_status": string(res.Payment.Status),
		"settled":        res.Settled,
	})
}

package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
)

func TestNotification(t *testing.T) {
	e := echo.New()
	for _, tc := range []struct {
		name      string
		target    string
		body      string
		topic, id string
	}{
		{"body string id", "/", `{"type":"payment","data":{"id":"123"}}`, "payment", "123"},
		{"body numeric id", "/", `{"type":"payment","data":{"id":123}}`, "payment", "123"},
		{"legacy topic field", "/", `{"topic":"Payment","data":{"id":"9"}}`, "payment", "9"},
		{"query data.id", "/?type=payment&data.id=77", ``, "payment", "77"},
		{"query legacy", "/?topic=payment&id=78", `not json`, "payment", "78"},
		{"null id falls back to query", "/?id=5", `{"type":"payment","data":{"id":null}}`, "payment", "5"},
		{"merchant order", "/?topic=merchant_order&id=1", ``, "merchant_order", "1"},
		{"nothing", "/", ``, "", ""},
	} {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, tc.target, strings.NewReader(tc.body))
			c := e.NewContext(req, httptest.NewRecorder())
			topic, id := notification(c, []byte(tc.body))
			assert.Equal(t, tc.topic, topic)
			assert.Equal(t, tc.id, id)
		})
	}
}

func signature(secret, id, requestID, ts string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("id:" + id + ";request-id:" + requestID + ";ts:" + ts + ";"))
	return "ts=" + ts + ",v1=" + hex.EncodeToString(mac.Sum(nil))
}

func TestValidSignature(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("x-request-id", "req-1")
	req.Header.Set("x-signature", signature("whsec", "abc", "req-1", "1700000000"))

	assert.True(t, validSignature("whsec", req, "ABC"), "ids compare lower-cased")
	assert.False(t, validSignature("other", req, "abc"))
	assert.False(t, validSignature("whsec", req, "abd"))

	req.Header.Set("x-signature", "ts=1700000000")
	assert.False(t, validSignature("whsec", req, "abc"))
	req.Header.Del("x-signature")
	assert.False(t, validSignature("whsec", req, "abc"))
}

func TestReceiveIgnoresBadSignature(t *testing.T) {
	e := echo.New()
	h := &WebhookHandler{Secret: "whsec"}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"type":"payment","data":{"id":"1"}}`))
	req.Header.Set("x-signature", "ts=1,v1=00")
	rec := httptest.NewRecorder()

	assert.NoError(t, h.Receive(e.NewContext(req, rec)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ignored"}`, rec.Body.String())
}

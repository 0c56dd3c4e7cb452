package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("DB_USER", "ledger")
	t.Setenv("DB_NAME", "newstore")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("MP_ACCESS_TOKEN", "TEST-token")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)
	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "mercadopago", c.PaymentProvider)
	assert.Equal(t, 5*time.Minute, c.ReservationTTL)
	assert.Equal(t, int64(500), c.TicketPriceCents)
	assert.Equal(t, 50, c.SweepBatch)
	assert.Equal(t, 60, c.RateLimit.Capacity)
	assert.False(t, c.IsProd())
}

func TestLoadRejectsUnknownProvider(t *testing.T) {
	setRequired(t)
	t.Setenv("PAYMENT_PROVIDER", "paypal")
	_, err := Load()
	require.Error(t, err)
}

func TestLoadOmiseNeedsKeys(t *testing.T) {
	setRequired(t)
	t.Setenv("PAYMENT_PROVIDER", "Omise")
	_, err := Load()
	require.Error(t, err)

	t.Setenv("OMISE_PUBLIC_KEY", "pkey_test")
	t.Setenv("OMISE_SECRET_KEY", "skey_test")
	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "omise", c.PaymentProvider)
}

func TestRateLimitAliases(t *testing.T) {
	setRequired(t)
	t.Setenv("RATE_LIMIT_BURST", "5")
	t.Setenv("RATE_LIMIT_REFILL_EVERY", "3s")
	t.Setenv("RATE_LIMIT_TTL", "1s")
	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5, c.RateLimit.Capacity)
	assert.Equal(t, 1, c.RateLimit.RefillTokens)
	assert.Equal(t, 3*time.Second, c.RateLimit.RefillInterval)
	assert.Equal(t, 15*time.Second, c.RateLimit.TTL)
}

// Package config loads application configuration from environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable; defaults apply when the variable is unset.
type Config struct {
	// application environment (dev/test/prod)
	Env  string `envconfig:"APP_ENV" default:"dev"`
	Port string `envconfig:"APP_PORT" default:"8080"`

	// DB; DB_PASS may be empty
	DBUser            string        `envconfig:"DB_USER" required:"true"`
	DBPass            string        `envconfig:"DB_PASS"`
	DBHost            string        `envconfig:"DB_HOST" default:"127.0.0.1"`
	DBPort            string        `envconfig:"DB_PORT" default:"3306"`
	DBName            string        `envconfig:"DB_NAME" required:"true"`
	DBMaxConns        int           `envconfig:"DB_MAX_CONNS" default:"25"`
	DBConnMaxLifetime time.Duration `envconfig:"DB_CONN_MAX_LIFETIME" default:"30m"`

	JWTSecret string `envconfig:"JWT_SECRET" required:"true"`

	// Ledger
	ReservationTTL    time.Duration `envconfig:"RESERVATION_TTL" default:"5m"`
	JanitorInterval   time.Duration `envconfig:"RESERVATION_JANITOR_INTERVAL" default:"1m"`
	TicketPriceCents  int64         `envconfig:"TICKET_PRICE_CENTS" default:"500"`
	PriceCacheTTL     time.Duration `envconfig:"PRICE_CACHE_TTL" default:"30s"`
	AutopayMaxNumbers int           `envconfig:"AUTOPAY_MAX_NUMBERS" default:"10"`

	// Payment provider: mercadopago or omise.  An empty MP_WEBHOOK_SECRET
	// disables signature checks.
	PaymentProvider string        `envconfig:"PAYMENT_PROVIDER" default:"mercadopago"`
	MPAccessToken   string        `envconfig:"MP_ACCESS_TOKEN"`
	MPBaseURL       string        `envconfig:"MP_BASE_URL" default:"https://api.mercadopago.com"`
	MPWebhookSecret string        `envconfig:"MP_WEBHOOK_SECRET"`
	OmisePublicKey  string        `envconfig:"OMISE_PUBLIC_KEY"`
	OmiseSecretKey  string        `envconfig:"OMISE_SECRET_KEY"`
	Currency        string        `envconfig:"CURRENCY" default:"BRL"`
	NotificationURL string        `envconfig:"NOTIFICATION_URL"`
	ProviderTimeout time.Duration `envconfig:"PROVIDER_TIMEOUT" default:"15s"`
	PixMinExpiry    time.Duration `envconfig:"PIX_MIN_EXPIRY" default:"30m"`

	// Sweeper
	SweepInterval    time.Duration `envconfig:"SWEEP_INTERVAL" default:"2m"`
	SweepMinInterval time.Duration `envconfig:"SWEEP_MIN_INTERVAL" default:"30s"`
	SweepBatch       int           `envconfig:"SWEEP_BATCH" default:"50"`
	SweepLookback    time.Duration `envconfig:"SWEEP_LOOKBACK" default:"72h"`

	// Infra; an empty RABBITMQ_URL disables event publishing
	RabbitURL    string `envconfig:"RABBITMQ_URL"`
	OTLPEndpoint string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	LedgerLog    string `envconfig:"LEDGER_LOG_PATH" default:"logs/ledger.log"`

	Redis     RedisConfig
	RateLimit RateLimitConfig
	Cache     CacheConfig
}

// Load reads and validates the configuration.
func Load() (Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return c, err
	}
	c.PaymentProvider = strings.ToLower(strings.TrimSpace(c.PaymentProvider))
	switch c.PaymentProvider {
	case "mercadopago":
		if c.MPAccessToken == "" {
			return c, fmt.Errorf("config: MP_ACCESS_TOKEN is required for provider %q", c.PaymentProvider)
		}
	case "omise":
		if c.OmisePublicKey == "" || c.OmiseSecretKey == "" {
			return c, fmt.Errorf("config: OMISE_PUBLIC_KEY and OMISE_SECRET_KEY are required for provider %q", c.PaymentProvider)
		}
	default:
		return c, fmt.Errorf("config: unknown PAYMENT_PROVIDER %q", c.PaymentProvider)
	}
	if c.TicketPriceCents <= 0 {
		return c, fmt.Errorf("config: TICKET_PRICE_CENTS must be positive")
	}
	if c.ReservationTTL <= 0 {
		c.ReservationTTL = 5 * time.Minute
	}
	c.RateLimit.normalize()
	return c, nil
}

// IsProd reports whether the service runs in production mode.
func (c Config) IsProd() bool { return strings.EqualFold(c.Env, "prod") }

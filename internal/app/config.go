package app

import (
	"os"
	"time"
	_ "time/tzdata" // gateway time zone on hosts without zoneinfo

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/checkout-engine/internal/domain/money"
	"github.com/xenking/checkout-engine/internal/domain/payment"
	"github.com/xenking/checkout-engine/internal/gateway"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (CHECKOUT_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (CHECKOUT_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	AuthPepper  string `usage:"HMAC pepper for session token hashing" flag:"auth-pepper"`
	RateLimit   RateLimitConfig
	CORS        CORSConfig
	Graceful    GracefulConfig
	Order       OrderConfig
	Gateway     GatewayConfig
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// OrderConfig controls order placement.
type OrderConfig struct {
	DefaultShippingFee string `default:"0" usage:"Shipping fee applied when the request sets none" flag:"default-shipping-fee"`
}

// GatewayConfig describes the merchant account at the payment gateway.
// Online payments are offered only when TmnCode and PayURL are set;
// notifications are verified whenever HashSecret is.
type GatewayConfig struct {
	TmnCode     string        `usage:"Merchant terminal code" flag:"gateway-tmn-code"`
	HashSecret  string        `usage:"Shared secret for HMAC-SHA512 signatures" flag:"gateway-hash-secret"`
	PayURL      string        `usage:"Gateway payment page URL" flag:"gateway-pay-url"`
	ReturnURL   string        `usage:"Customer redirect URL after payment" flag:"gateway-return-url"`
	Version     string        `default:"2.1.0" usage:"Gateway protocol version"`
	Locale      string        `default:"vn" usage:"Payment page locale"`
	Currency    string        `default:"VND" usage:"Payment currency"`
	AmountScale int64         `default:"100" usage:"Gateway minor units per currency unit"`
	Tolerance   string        `default:"0.01" usage:"Accepted difference between notified and order amount"`
	SuccessCode string        `default:"00" usage:"Response code meaning a successful payment"`
	ExpireAfter time.Duration `default:"15m" usage:"Payment link lifetime"`
	TimeZone    string        `default:"Asia/Ho_Chi_Minh" usage:"Time zone of gateway timestamps"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "CHECKOUT",
		Files:     []string{"config.yaml", "/etc/checkout/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided DATABASE_URL and PORT to the
// application's configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set CHECKOUT_DATABASE_URL or DATABASE_URL")
	}
	if c.Gateway.HashSecret == "" {
		return errors.New("gateway hash secret is required: set CHECKOUT_GATEWAY_HASH_SECRET")
	}
	if c.Gateway.AmountScale <= 0 {
		return errors.Errorf("gateway amount scale must be positive, got %d", c.Gateway.AmountScale)
	}
	if _, err := c.ShippingFee(); err != nil {
		return err
	}
	if _, err := c.Reconciliation(); err != nil {
		return err
	}
	if _, err := time.LoadLocation(c.Gateway.TimeZone); err != nil {
		return errors.Wrapf(err, "gateway time zone %q", c.Gateway.TimeZone)
	}
	return nil
}

// ShippingFee returns the parsed default shipping fee.
func (c *Config) ShippingFee() (decimal.Decimal, error) {
	fee, err := money.Parse(c.Order.DefaultShippingFee)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "default shipping fee")
	}
	if fee.IsNegative() {
		return decimal.Zero, errors.New("default shipping fee must not be negative")
	}
	return fee, nil
}

// Reconciliation returns the settings used to check gateway notifications.
func (c *Config) Reconciliation() (payment.Config, error) {
	tol, err := decimal.NewFromString(c.Gateway.Tolerance)
	if err != nil {
		return payment.Config{}, errors.Wrap(err, "gateway tolerance")
	}
	if tol.IsNegative() {
		return payment.Config{}, errors.New("gateway tolerance must not be negative")
	}
	return payment.Config{
		AmountScale: c.Gateway.AmountScale,
		Tolerance:   tol,
		SuccessCode: c.Gateway.SuccessCode,
	}, nil
}

// OnlinePayments reports whether payment links can be issued.
func (c *Config) OnlinePayments() bool {
	return c.Gateway.TmnCode != "" && c.Gateway.PayURL != ""
}

// GatewayClient returns the gateway client settings.
func (c *Config) GatewayClient() (gateway.Config, error) {
	loc, err := time.LoadLocation(c.Gateway.TimeZone)
	if err != nil {
		return gateway.Config{}, errors.Wrapf(err, "gateway time zone %q", c.Gateway.TimeZone)
	}
	return gateway.Config{
		TmnCode:     c.Gateway.TmnCode,
		HashSecret:  c.Gateway.HashSecret,
		PayURL:      c.Gateway.PayURL,
		ReturnURL:   c.Gateway.ReturnURL,
		Version:     c.Gateway.Version,
		Locale:      c.Gateway.Locale,
		Currency:    c.Gateway.Currency,
		AmountScale: c.Gateway.AmountScale,
		ExpireAfter: c.Gateway.ExpireAfter,
		Location:    loc,
	}, nil
}

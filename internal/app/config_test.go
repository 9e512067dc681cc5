package app

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		Addr:        defaultAddr,
		DatabaseURL: "postgres://localhost/checkout",
		Order:       OrderConfig{DefaultShippingFee: "5.00"},
		Gateway: GatewayConfig{
			TmnCode:     "DEMO",
			HashSecret:  "secret",
			PayURL:      "https://sandbox.example/paymentv2/vpcpay.html",
			Version:     "2.1.0",
			Locale:      "vn",
			Currency:    "VND",
			AmountScale: 100,
			Tolerance:   "0.01",
			SuccessCode: "00",
			ExpireAfter: 15 * time.Minute,
			TimeZone:    "Asia/Ho_Chi_Minh",
		},
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing database", mutate: func(c *Config) { c.DatabaseURL = "" }, wantErr: "database URL is required"},
		{name: "missing secret", mutate: func(c *Config) { c.Gateway.HashSecret = "" }, wantErr: "hash secret is required"},
		{name: "zero scale", mutate: func(c *Config) { c.Gateway.AmountScale = 0 }, wantErr: "amount scale must be positive"},
		{name: "fee not a number", mutate: func(c *Config) { c.Order.DefaultShippingFee = "free" }, wantErr: "default shipping fee"},
		{name: "fee with three places", mutate: func(c *Config) { c.Order.DefaultShippingFee = "1.005" }, wantErr: "decimal places"},
		{name: "negative fee", mutate: func(c *Config) { c.Order.DefaultShippingFee = "-1" }, wantErr: "must not be negative"},
		{name: "negative tolerance", mutate: func(c *Config) { c.Gateway.Tolerance = "-0.01" }, wantErr: "tolerance must not be negative"},
		{name: "bad tolerance", mutate: func(c *Config) { c.Gateway.Tolerance = "x" }, wantErr: "gateway tolerance"},
		{name: "unknown time zone", mutate: func(c *Config) { c.Gateway.TimeZone = "Mars/Olympus" }, wantErr: "time zone"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_Derived(t *testing.T) {
	cfg := validConfig()

	fee, err := cfg.ShippingFee()
	require.NoError(t, err)
	assert.True(t, fee.Equal(decimal.RequireFromString("5")))

	rc, err := cfg.Reconciliation()
	require.NoError(t, err)
	assert.Equal(t, int64(100), rc.AmountScale)
	assert.True(t, rc.Tolerance.Equal(decimal.RequireFromString("0.01")))
	assert.Equal(t, "00", rc.SuccessCode)

	gc, err := cfg.GatewayClient()
	require.NoError(t, err)
	assert.Equal(t, "DEMO", gc.TmnCode)
	assert.Equal(t, "Asia/Ho_Chi_Minh", gc.Location.String())

	assert.True(t, cfg.OnlinePayments())
	cfg.Gateway.TmnCode = ""
	assert.False(t, cfg.OnlinePayments())
}

func TestConfig_PlatformDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://platform/db")
	t.Setenv("PORT", "9090")

	cfg := Config{Addr: defaultAddr}
	cfg.applyPlatformDefaults()

	assert.Equal(t, "postgres://platform/db", cfg.DatabaseURL)
	assert.Equal(t, "0.0.0.0:9090", cfg.Addr)

	custom := Config{Addr: "127.0.0.1:7000", DatabaseURL: "postgres://explicit/db"}
	custom.applyPlatformDefaults()

	assert.Equal(t, "postgres://explicit/db", custom.DatabaseURL)
	assert.Equal(t, "127.0.0.1:7000", custom.Addr)
}

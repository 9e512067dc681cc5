package gateway

import (
	"net/url"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/checkout-engine/internal/domain/money"
)

const timeLayout = "20060102150405"

// Config describes the merchant account at the gateway.
type Config struct {
	TmnCode     string
	HashSecret  string
	PayURL      string
	ReturnURL   string
	Version     string
	Locale      string
	Currency    string
	AmountScale int64
	ExpireAfter time.Duration
	Location    *time.Location
}

// PaymentRequest is what is needed to send a customer to the gateway.
type PaymentRequest struct {
	OrderRef  string
	Amount    decimal.Decimal
	OrderInfo string
	ClientIP  string
	CreatedAt time.Time
}

// Client builds signed payment URLs.
type Client struct {
	cfg    Config
	signer *Signer
}

// NewClient creates a Client for cfg.
func NewClient(cfg Config) (*Client, error) {
	if cfg.TmnCode == "" || cfg.HashSecret == "" {
		return nil, errors.New("gateway merchant code and secret are required")
	}
	if _, err := url.Parse(cfg.PayURL); err != nil || cfg.PayURL == "" {
		return nil, errors.Errorf("invalid gateway pay url %q", cfg.PayURL)
	}
	if cfg.AmountScale <= 0 {
		return nil, errors.Errorf("invalid amount scale %d", cfg.AmountScale)
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Client{cfg: cfg, signer: NewSigner(cfg.HashSecret)}, nil
}

// Signer returns the signer sharing the client's secret.
func (c *Client) Signer() *Signer { return c.signer }

// PaymentURL returns the gateway URL the customer should be redirected to.
func (c *Client) PaymentURL(req PaymentRequest) (string, error) {
	minor, err := money.ToMinor(req.Amount, c.cfg.AmountScale)
	if err != nil {
		return "", errors.Wrap(err, "convert amount")
	}
	if minor <= 0 {
		return "", errors.Errorf("amount must be positive, got %s", req.Amount)
	}

	created := req.CreatedAt.In(c.cfg.Location)
	v := url.Values{}
	v.Set(ParamVersion, c.cfg.Version)
	v.Set(ParamCommand, "pay")
	v.Set(ParamTmnCode, c.cfg.TmnCode)
	v.Set(ParamAmount, strconv.FormatInt(minor, 10))
	v.Set(ParamCurrCode, c.cfg.Currency)
	v.Set(ParamTxnRef, req.OrderRef)
	v.Set(ParamOrderInfo, req.OrderInfo)
	v.Set(ParamOrderType, "other")
	v.Set(ParamLocale, c.cfg.Locale)
	v.Set(ParamReturnURL, c.cfg.ReturnURL)
	v.Set(ParamIPAddr, req.ClientIP)
	v.Set(ParamCreateDate, created.Format(timeLayout))
	if c.cfg.ExpireAfter > 0 {
		v.Set(ParamExpireDate, created.Add(c.cfg.ExpireAfter).Format(timeLayout))
	}

	query := Canonical(v)
	return c.cfg.PayURL + "?" + query + "&" + ParamSecureHash + "=" + c.signer.Sign(v), nil
}

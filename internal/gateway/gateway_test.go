package gateway

import (
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "SECRETKEY123"

func signed(t *testing.T, s *Signer, kv map[string]string) url.Values {
	t.Helper()
	v := url.Values{}
	for k, val := range kv {
		v.Set(k, val)
	}
	v.Set(ParamSecureHash, s.Sign(v))
	return v
}

func TestCanonical(t *testing.T) {
	v := url.Values{}
	v.Set(ParamTxnRef, "abc")
	v.Set(ParamAmount, "2750")
	v.Set(ParamOrderInfo, "Pay order abc")
	v.Set(ParamBankCode, "")
	v.Set(ParamSecureHash, "deadbeef")
	v.Set(ParamHashType, "HmacSHA512")
	v.Set("utm_source", "mail")

	assert.Equal(t, "vnp_Amount=2750&vnp_OrderInfo=Pay+order+abc&vnp_TxnRef=abc", Canonical(v))
}

func TestSigner_RoundTrip(t *testing.T) {
	s := NewSigner(testSecret)
	v := signed(t, s, map[string]string{
		ParamTxnRef:        "5f1d1c8e-1b8f-4a4e-9d2c-0d4b9b5d2c11",
		ParamAmount:        "2750",
		ParamResponseCode:  "00",
		ParamTransactionNo: "14012345",
	})

	assert.True(t, s.Verify(v))

	upper := url.Values{}
	for k := range v {
		upper.Set(k, v.Get(k))
	}
	upper.Set(ParamSecureHash, strings.ToUpper(v.Get(ParamSecureHash)))
	assert.True(t, s.Verify(upper), "hex case must not matter")
}

func TestSigner_RejectsTampering(t *testing.T) {
	s := NewSigner(testSecret)
	base := map[string]string{
		ParamTxnRef:        "order-1",
		ParamAmount:        "2750",
		ParamResponseCode:  "24",
		ParamTransactionNo: "1",
	}

	tests := []struct {
		name   string
		mutate func(v url.Values)
	}{
		{name: "amount changed", mutate: func(v url.Values) { v.Set(ParamAmount, "1") }},
		{name: "result code flipped", mutate: func(v url.Values) { v.Set(ParamResponseCode, "00") }},
		{name: "field added", mutate: func(v url.Values) { v.Set(ParamBankCode, "NCB") }},
		{name: "signature missing", mutate: func(v url.Values) { v.Del(ParamSecureHash) }},
		{name: "signature not hex", mutate: func(v url.Values) { v.Set(ParamSecureHash, "zz") }},
		{name: "signature truncated", mutate: func(v url.Values) { v.Set(ParamSecureHash, v.Get(ParamSecureHash)[:64]) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := signed(t, s, base)
			tt.mutate(v)
			assert.False(t, s.Verify(v))
		})
	}

	t.Run("other secret", func(t *testing.T) {
		v := signed(t, NewSigner("another"), base)
		assert.False(t, s.Verify(v))
	})
}

func TestSigner_IgnoresForeignParams(t *testing.T) {
	s := NewSigner(testSecret)
	v := signed(t, s, map[string]string{ParamTxnRef: "x", ParamAmount: "100"})
	v.Set("session", "whatever")
	assert.True(t, s.Verify(v))
}

func testClient(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient(Config{
		TmnCode:     "DEMO0001",
		HashSecret:  testSecret,
		PayURL:      "https://sandbox.example.com/paymentv2/vpcpay.html",
		ReturnURL:   "https://shop.example.com/api/payments/gateway/return",
		Version:     "2.1.0",
		Locale:      "vn",
		Currency:    "VND",
		AmountScale: 100,
		ExpireAfter: 15 * time.Minute,
		Location:    time.FixedZone("ICT", 7*3600),
	})
	require.NoError(t, err)
	return c
}

func TestClient_PaymentURL(t *testing.T) {
	c := testClient(t)
	created := time.Date(2025, 6, 15, 5, 0, 0, 0, time.UTC)

	raw, err := c.PaymentURL(PaymentRequest{
		OrderRef:  "order-42",
		Amount:    decimal.RequireFromString("27.50"),
		OrderInfo: "Payment for order order-42",
		ClientIP:  "203.0.113.7",
		CreatedAt: created,
	})
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "sandbox.example.com", u.Host)

	q := u.Query()
	assert.Equal(t, "2750", q.Get(ParamAmount))
	assert.Equal(t, "order-42", q.Get(ParamTxnRef))
	assert.Equal(t, "20250615120000", q.Get(ParamCreateDate))
	assert.Equal(t, "20250615121500", q.Get(ParamExpireDate))
	assert.True(t, c.Signer().Verify(q), "payment url must carry a valid signature")
}

func TestClient_PaymentURL_RejectsFractionalMinorUnits(t *testing.T) {
	c := testClient(t)

	_, err := c.PaymentURL(PaymentRequest{OrderRef: "o", Amount: decimal.RequireFromString("0.001"), CreatedAt: time.Now()})
	require.Error(t, err)

	_, err = c.PaymentURL(PaymentRequest{OrderRef: "o", Amount: decimal.Zero, CreatedAt: time.Now()})
	require.Error(t, err)
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(Config{HashSecret: "x", PayURL: "https://x", AmountScale: 100})
	require.Error(t, err)

	_, err = NewClient(Config{TmnCode: "x", HashSecret: "x", PayURL: "https://x"})
	require.Error(t, err)
}

func TestNotification_AmountMinor(t *testing.T) {
	n := ParseNotification(url.Values{ParamAmount: {"2750"}, ParamTxnRef: {"o"}})
	got, err := n.AmountMinor()
	require.NoError(t, err)
	assert.Equal(t, int64(2750), got)
	assert.Equal(t, "o", n.OrderRef)

	_, err = Notification{Amount: "27.50"}.AmountMinor()
	require.Error(t, err)

	_, err = Notification{Amount: "-1"}.AmountMinor()
	require.Error(t, err)
}

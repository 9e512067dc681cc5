// Package gateway implements the signed query-string protocol spoken with the
// payment gateway: payment URLs going out, notifications and redirects coming
// back.
package gateway

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"net/url"
	"slices"
	"strings"
)

// Parameter names used on the wire.
const (
	ParamVersion       = "vnp_Version"
	ParamCommand       = "vnp_Command"
	ParamTmnCode       = "vnp_TmnCode"
	ParamAmount        = "vnp_Amount"
	ParamCurrCode      = "vnp_CurrCode"
	ParamTxnRef        = "vnp_TxnRef"
	ParamOrderInfo     = "vnp_OrderInfo"
	ParamOrderType     = "vnp_OrderType"
	ParamLocale        = "vnp_Locale"
	ParamReturnURL     = "vnp_ReturnUrl"
	ParamIPAddr        = "vnp_IpAddr"
	ParamCreateDate    = "vnp_CreateDate"
	ParamExpireDate    = "vnp_ExpireDate"
	ParamResponseCode  = "vnp_ResponseCode"
	ParamTransactionNo = "vnp_TransactionNo"
	ParamBankCode      = "vnp_BankCode"
	ParamPayDate       = "vnp_PayDate"
	ParamSecureHash    = "vnp_SecureHash"
	ParamHashType      = "vnp_SecureHashType"

	paramPrefix = "vnp_"
)

// Signer computes and checks HMAC-SHA512 signatures over the canonical form
// of a parameter set.
type Signer struct {
	secret []byte
}

// NewSigner creates a Signer with the shared secret.
func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

// Canonical renders the signed portion of values: protocol parameters other
// than the signature itself, non-empty, sorted by key, query-escaped, joined
// with '&'.
func Canonical(values url.Values) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		if !strings.HasPrefix(k, paramPrefix) || k == ParamSecureHash || k == ParamHashType {
			continue
		}
		if values.Get(k) == "" {
			continue
		}
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(values.Get(k)))
	}
	return b.String()
}

// Sign returns the lowercase hex signature of values.
func (s *Signer) Sign(values url.Values) string {
	return hex.EncodeToString(s.mac(Canonical(values)))
}

// Verify reports whether values carry a valid signature. The comparison runs
// in constant time.
func (s *Signer) Verify(values url.Values) bool {
	got, err := hex.DecodeString(strings.ToLower(values.Get(ParamSecureHash)))
	if err != nil || len(got) == 0 {
		return false
	}
	return hmac.Equal(got, s.mac(Canonical(values)))
}

func (s *Signer) mac(payload string) []byte {
	h := hmac.New(sha512.New, s.secret)
	h.Write([]byte(payload))
	return h.Sum(nil)
}

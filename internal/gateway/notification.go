package gateway

import (
	"net/url"
	"strconv"

	"github.com/go-faster/errors"
)

// Notification is the gateway's report about one payment attempt.
type Notification struct {
	OrderRef      string
	Amount        string
	ResponseCode  string
	TransactionNo string
	BankCode      string
	PayDate       string
}

// ParseNotification extracts the notification fields from values. It does not
// check the signature.
func ParseNotification(values url.Values) Notification {
	return Notification{
		OrderRef:      values.Get(ParamTxnRef),
		Amount:        values.Get(ParamAmount),
		ResponseCode:  values.Get(ParamResponseCode),
		TransactionNo: values.Get(ParamTransactionNo),
		BankCode:      values.Get(ParamBankCode),
		PayDate:       values.Get(ParamPayDate),
	}
}

// AmountMinor parses the amount as an integer count of minor units.
func (n Notification) AmountMinor() (int64, error) {
	v, err := strconv.ParseInt(n.Amount, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "parse amount %q", n.Amount)
	}
	if v < 0 {
		return 0, errors.Errorf("negative amount %d", v)
	}
	return v, nil
}

package voucher

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Redeemer consumes voucher usage slots. It must be given a Repository bound
// to the same transaction that persists the order, so that the usage slot and
// the order commit or roll back together.
type Redeemer struct {
	repo Repository
	now  func() time.Time
}

// NewRedeemer creates a Redeemer over repo. A nil now defaults to time.Now.
func NewRedeemer(repo Repository, now func() time.Time) *Redeemer {
	if now == nil {
		now = time.Now
	}
	return &Redeemer{repo: repo, now: now}
}

// NormalizeCode trims the code and reports whether one was supplied.
func NormalizeCode(code string) (string, bool) {
	code = strings.TrimSpace(code)
	return code, code != ""
}

// Redeem locks the voucher, evaluates it against cart and consumes one usage
// slot. The conditional increment is the final word on availability: a slot
// observed free during evaluation may still be refused by the store.
func (r *Redeemer) Redeem(ctx context.Context, code string, cart Cart, shippingFee decimal.Decimal) (*Discount, error) {
	code, ok := NormalizeCode(code)
	if !ok {
		return nil, ErrNotFound
	}

	v, err := r.repo.LockByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "lock voucher")
	}

	d, err := Evaluate(v, cart, shippingFee, r.now())
	if err != nil {
		return nil, err
	}

	if err := r.repo.IncrementUsage(ctx, v.ID); err != nil {
		if errors.Is(err, ErrExhausted) {
			return nil, ErrExhausted
		}
		return nil, errors.Wrap(err, "increment voucher usage")
	}

	return &d, nil
}

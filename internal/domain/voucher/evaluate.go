package voucher

import (
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/checkout-engine/internal/domain/money"
)

var zero = decimal.Zero

// Evaluate checks v against cart at time now and computes the discount.
// It never mutates v; usage accounting is left to the caller.
func Evaluate(v *Voucher, cart Cart, shippingFee decimal.Decimal, now time.Time) (Discount, error) {
	if v.ValidFrom != nil && now.Before(*v.ValidFrom) {
		return Discount{}, ErrExpired
	}
	if v.ValidTo != nil && now.After(*v.ValidTo) {
		return Discount{}, ErrExpired
	}

	if v.UsageLimit != nil && v.UsedCount >= *v.UsageLimit {
		return Discount{}, ErrExhausted
	}

	if v.MinOrderAmount.Valid && cart.ItemsTotal.LessThan(v.MinOrderAmount.Decimal) {
		return Discount{}, ErrMinAmountNotMet
	}
	if v.MinQuantity > 0 && cart.Quantity < v.MinQuantity {
		return Discount{}, ErrMinQuantityNotMet
	}

	if len(v.ApplicableCategories) > 0 && !intersects(v.ApplicableCategories, cart.Categories) {
		return Discount{}, ErrCategoryMismatch
	}

	d := Discount{
		VoucherID:      v.ID,
		Code:           v.Code,
		Type:           v.Type,
		Amount:         zero,
		ShippingAmount: zero,
	}

	switch v.Type {
	case TypePercentage:
		d.Amount = percentage(v, cart.ItemsTotal)
	case TypeFixedAmount:
		d.Amount = fixed(v, cart.ItemsTotal)
	case TypeFreeShip:
		d.ShippingAmount = freeShip(v, shippingFee)
	default:
		return Discount{}, errors.Errorf("unsupported voucher type: %q", v.Type)
	}

	return d, nil
}

func percentage(v *Voucher, itemsTotal decimal.Decimal) decimal.Decimal {
	amount := itemsTotal.Mul(v.Value).Div(money.Hundred())
	if v.MaxDiscount.Valid {
		amount = decimal.Min(amount, v.MaxDiscount.Decimal)
	}
	return clamp(money.Round(amount), itemsTotal)
}

func fixed(v *Voucher, itemsTotal decimal.Decimal) decimal.Decimal {
	return clamp(money.Round(v.Value), itemsTotal)
}

func freeShip(v *Voucher, shippingFee decimal.Decimal) decimal.Decimal {
	amount := shippingFee
	if v.MaxDiscount.Valid {
		amount = decimal.Min(amount, v.MaxDiscount.Decimal)
	}
	return clamp(money.Round(amount), shippingFee)
}

// clamp bounds d to [0, limit].
func clamp(d, limit decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return zero
	}
	return decimal.Min(d, limit)
}

func intersects(allowed, have []string) bool {
	for _, c := range have {
		if slices.Contains(allowed, c) {
			return true
		}
	}
	return false
}

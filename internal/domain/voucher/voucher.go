package voucher

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Type enumerates the supported voucher discount strategies.
type Type string

const (
	// TypePercentage takes a percentage of the items total, optionally capped.
	TypePercentage Type = "PERCENTAGE"
	// TypeFixedAmount takes a fixed amount, never more than the items total.
	TypeFixedAmount Type = "FIXED_AMOUNT"
	// TypeFreeShip discounts the shipping fee instead of the items.
	TypeFreeShip Type = "FREE_SHIP"
)

// Valid reports whether t is a known discount strategy.
func (t Type) Valid() bool {
	switch t {
	case TypePercentage, TypeFixedAmount, TypeFreeShip:
		return true
	default:
		return false
	}
}

var (
	// ErrNotFound is returned when a code does not exist or is inactive.
	ErrNotFound = errors.New("voucher not found")
	// ErrExpired is returned outside the voucher's validity window.
	ErrExpired = errors.New("voucher expired")
	// ErrExhausted is returned when no usage slot remains.
	ErrExhausted = errors.New("voucher usage limit reached")
	// ErrMinAmountNotMet is returned when the items total is below the minimum.
	ErrMinAmountNotMet = errors.New("voucher minimum order amount not met")
	// ErrMinQuantityNotMet is returned when the item count is below the minimum.
	ErrMinQuantityNotMet = errors.New("voucher minimum quantity not met")
	// ErrCategoryMismatch is returned when no cart category is eligible.
	ErrCategoryMismatch = errors.New("voucher not applicable to cart categories")
)

// Voucher is the stored definition and usage state of a voucher code.
type Voucher struct {
	ID    int64
	Code  string
	Type  Type
	Value decimal.Decimal

	MaxDiscount          decimal.NullDecimal
	MinOrderAmount       decimal.NullDecimal
	MinQuantity          int
	ApplicableCategories []string

	ValidFrom *time.Time
	ValidTo   *time.Time

	// UsageLimit is nil for unlimited vouchers.
	UsageLimit *int
	UsedCount  int
}

// Cart is the priced view of an order the evaluator needs.
type Cart struct {
	ItemsTotal decimal.Decimal
	Quantity   int
	Categories []string
}

// Discount is the outcome of a successful evaluation.
type Discount struct {
	VoucherID int64
	Code      string
	Type      Type
	// Amount is subtracted from the items total.
	Amount decimal.Decimal
	// ShippingAmount is subtracted from the shipping fee.
	ShippingAmount decimal.Decimal
}

// Applied returns the amount actually granted by the voucher, whichever
// total it was taken from.
func (d Discount) Applied() decimal.Decimal {
	return d.Amount.Add(d.ShippingAmount)
}

// Repository is the voucher store as seen from inside the order transaction.
type Repository interface {
	// LockByCode returns the active voucher for code, locking its row until
	// the enclosing transaction ends. It returns ErrNotFound when absent.
	LockByCode(ctx context.Context, code string) (*Voucher, error)
	// IncrementUsage consumes one usage slot, only while one remains. It
	// returns ErrExhausted when no row was updated.
	IncrementUsage(ctx context.Context, id int64) error
}

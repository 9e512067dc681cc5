package order

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/checkout-engine/internal/domain/catalog"
	"github.com/xenking/checkout-engine/internal/domain/money"
	"github.com/xenking/checkout-engine/internal/domain/payment"
	"github.com/xenking/checkout-engine/internal/domain/voucher"
)

// Status is the fulfilment state of an order.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusPaid      Status = "PAID"
	StatusShipped   Status = "SHIPPED"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

// PaymentStatus is the payment state as seen from the order.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "PENDING"
	PaymentPaid     PaymentStatus = "PAID"
	PaymentFailed   PaymentStatus = "FAILED"
	PaymentRefunded PaymentStatus = "REFUNDED"
)

// Contact is the buyer's contact snapshot.
type Contact struct {
	FullName string
	Email    string
	Phone    string
}

// Address is the delivery address snapshot.
type Address struct {
	Line     string
	Ward     string
	District string
	City     string
}

// Totals are the frozen money figures of an order.
type Totals struct {
	ItemsTotal    decimal.Decimal
	DiscountTotal decimal.Decimal
	// ShippingFee is the fee charged, after any shipping discount.
	ShippingFee      decimal.Decimal
	ShippingDiscount decimal.Decimal
	TotalPrice       decimal.Decimal
}

// ComputeTotals derives the order totals. TotalPrice always equals
// ItemsTotal - DiscountTotal + ShippingFee.
func ComputeTotals(itemsTotal, baseShipping decimal.Decimal, d *voucher.Discount) Totals {
	t := Totals{
		ItemsTotal:       money.Round(itemsTotal),
		DiscountTotal:    decimal.Zero,
		ShippingFee:      money.Round(baseShipping),
		ShippingDiscount: decimal.Zero,
	}
	if d != nil {
		t.DiscountTotal = money.Round(decimal.Min(d.Amount, t.ItemsTotal))
		t.ShippingDiscount = money.Round(decimal.Min(d.ShippingAmount, t.ShippingFee))
		t.ShippingFee = t.ShippingFee.Sub(t.ShippingDiscount)
	}
	t.TotalPrice = t.ItemsTotal.Sub(t.DiscountTotal).Add(t.ShippingFee)
	return t
}

// Balanced reports whether the totals satisfy the order invariant.
func (t Totals) Balanced() bool {
	return t.TotalPrice.Equal(t.ItemsTotal.Sub(t.DiscountTotal).Add(t.ShippingFee))
}

// Order is a committed order with its price snapshot.
type Order struct {
	ID      uuid.UUID
	UserID  *uuid.UUID
	Contact Contact
	Address Address
	Note    string

	Items []Item
	Totals

	Status        Status
	PaymentStatus PaymentStatus
	PaymentMethod payment.Method
	VoucherCode   string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Item is an order line frozen at commit time.
type Item struct {
	ItemID    int64
	Name      string
	Category  string
	Quantity  int
	UnitPrice decimal.Decimal
	LineTotal decimal.Decimal
}

// Redemption records the voucher discount granted to an order.
type Redemption struct {
	OrderID   uuid.UUID
	VoucherID int64
	Code      string
	Type      voucher.Type
	Amount    decimal.Decimal
	CreatedAt time.Time
}

// Tx is the set of reads and writes performed while committing one order.
type Tx interface {
	catalog.Repository
	voucher.Repository

	// InsertOrder stores the order header and its items.
	InsertOrder(ctx context.Context, o *Order) error
	InsertRedemption(ctx context.Context, r *Redemption) error
	InsertPayment(ctx context.Context, p *payment.Payment) error
	// ConsumeCart empties the owner's active cart and marks it consumed.
	// Owners without an active cart are left alone.
	ConsumeCart(ctx context.Context, userID uuid.UUID) error
}

// Ledger runs order commits atomically.
type Ledger interface {
	// Commit runs fn in one transaction. Nothing fn wrote is kept unless fn
	// returns nil and the commit succeeds.
	Commit(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

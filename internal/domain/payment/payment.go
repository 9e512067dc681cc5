package payment

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a payment.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
)

// Terminal reports whether s can no longer change.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// Method is how the customer pays.
type Method string

const (
	// MethodCOD is cash on delivery. Its payment stays PENDING here.
	MethodCOD Method = "COD"
	// MethodGateway is an online payment confirmed by gateway notification.
	MethodGateway Method = "GATEWAY"
)

// Valid reports whether m is a known payment method.
func (m Method) Valid() bool {
	return m == MethodCOD || m == MethodGateway
}

var (
	// ErrSignatureInvalid is returned for notifications not signed with the
	// shared secret.
	ErrSignatureInvalid = errors.New("invalid gateway signature")
	// ErrOrderNotFound is returned when the referenced order does not exist.
	ErrOrderNotFound = errors.New("order not found")
	// ErrAmountMismatch is returned when the reported amount is not the
	// order total.
	ErrAmountMismatch = errors.New("payment amount mismatch")
	// ErrNotPending is returned by stores when a terminal transition finds the
	// payment already settled.
	ErrNotPending = errors.New("payment is not pending")
)

// Payment is the single payment record attached to an order.
type Payment struct {
	ID             uuid.UUID
	OrderID        uuid.UUID
	Amount         decimal.Decimal
	Method         Method
	Status         Status
	TransactionRef string
	ResponseCode   string
	PaidAt         *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Record is a payment together with the frozen total of its order.
type Record struct {
	Payment
	OrderTotal decimal.Decimal
}

// Confirmation carries what the gateway told us about the attempt.
type Confirmation struct {
	TransactionRef string
	ResponseCode   string
	At             time.Time
}

// Tx is the reconciler's view of one storage transaction.
type Tx interface {
	// LockByOrder reads and locks the payment of orderID. It returns
	// ErrOrderNotFound when the order does not exist.
	LockByOrder(ctx context.Context, orderID uuid.UUID) (*Record, error)
	// MarkPaid settles the payment as SUCCESS and the order as PAID.
	MarkPaid(ctx context.Context, rec *Record, c Confirmation) error
	// MarkFailed settles the payment as FAILED and the order's payment
	// status as FAILED.
	MarkFailed(ctx context.Context, rec *Record, c Confirmation) error
}

// Store gives access to payment records.
type Store interface {
	// InTx runs fn in one transaction, committing only if fn returns nil.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	// FindByOrder reads the payment of orderID without locking.
	FindByOrder(ctx context.Context, orderID uuid.UUID) (*Record, error)
}

package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/checkout-engine/internal/domain/payment"
)

const (
	selectPaymentSQL = `SELECT p.id, p.order_id, p.amount, p.method, p.status,
		COALESCE(p.transaction_ref, ''), COALESCE(p.response_code, ''), p.paid_at,
		p.created_at, p.updated_at, o.total_price
		FROM payments p JOIN orders o ON o.id = p.order_id
		WHERE p.order_id = $1`

	lockPaymentSQL = selectPaymentSQL + ` FOR UPDATE OF p, o`

	markPaymentSucceededSQL = `UPDATE payments
		SET status = 'SUCCESS', transaction_ref = $2, response_code = $3, paid_at = $4, updated_at = $4
		WHERE id = $1 AND status = 'PENDING'`

	markOrderPaidSQL = `UPDATE orders SET status = 'PAID', payment_status = 'PAID', updated_at = $2
		WHERE id = $1`

	markPaymentFailedSQL = `UPDATE payments
		SET status = 'FAILED', transaction_ref = $2, response_code = $3, updated_at = $4
		WHERE id = $1 AND status = 'PENDING'`

	markOrderPaymentFailedSQL = `UPDATE orders SET payment_status = 'FAILED', updated_at = $2
		WHERE id = $1`
)

var _ payment.Store = (*PaymentStore)(nil)

// PaymentStore implements payment.Store backed by PostgreSQL.
type PaymentStore struct {
	pool *pgxpool.Pool
}

// NewPaymentStore returns a PaymentStore that uses the given pool.
func NewPaymentStore(pool *pgxpool.Pool) *PaymentStore {
	return &PaymentStore{pool: pool}
}

// InTx runs fn in a single transaction.
func (s *PaymentStore) InTx(ctx context.Context, fn func(ctx context.Context, tx payment.Tx) error) error {
	return inTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(ctx, &paymentTx{tx: tx})
	})
}

// FindByOrder reads the payment of an order without locking it.
func (s *PaymentStore) FindByOrder(ctx context.Context, orderID uuid.UUID) (*payment.Record, error) {
	rows, err := s.pool.Query(ctx, selectPaymentSQL, orderID)
	if err != nil {
		return nil, errors.Wrapf(err, "find payment of order %s", orderID)
	}
	return collectRecord(rows, orderID)
}

type paymentTx struct {
	tx pgx.Tx
}

// LockByOrder reads the payment of an order and locks it together with the
// order row.
func (t *paymentTx) LockByOrder(ctx context.Context, orderID uuid.UUID) (*payment.Record, error) {
	rows, err := t.tx.Query(ctx, lockPaymentSQL, orderID)
	if err != nil {
		return nil, errors.Wrapf(err, "lock payment of order %s", orderID)
	}
	return collectRecord(rows, orderID)
}

// MarkPaid settles the payment as SUCCESS and the order as PAID.
func (t *paymentTx) MarkPaid(ctx context.Context, rec *payment.Record, c payment.Confirmation) error {
	if err := t.settle(ctx, markPaymentSucceededSQL, rec, c); err != nil {
		return err
	}
	if _, err := t.tx.Exec(ctx, markOrderPaidSQL, rec.OrderID, c.At); err != nil {
		return errors.Wrapf(err, "mark order %s paid", rec.OrderID)
	}
	return nil
}

// MarkFailed settles the payment as FAILED. The order status is untouched.
func (t *paymentTx) MarkFailed(ctx context.Context, rec *payment.Record, c payment.Confirmation) error {
	if err := t.settle(ctx, markPaymentFailedSQL, rec, c); err != nil {
		return err
	}
	if _, err := t.tx.Exec(ctx, markOrderPaymentFailedSQL, rec.OrderID, c.At); err != nil {
		return errors.Wrapf(err, "mark order %s payment failed", rec.OrderID)
	}
	return nil
}

func (t *paymentTx) settle(ctx context.Context, query string, rec *payment.Record, c payment.Confirmation) error {
	tag, err := t.tx.Exec(ctx, query, rec.ID, nullable(c.TransactionRef), nullable(c.ResponseCode), c.At)
	if err != nil {
		return errors.Wrapf(err, "settle payment %s", rec.ID)
	}
	if tag.RowsAffected() != 1 {
		return payment.ErrNotPending
	}
	return nil
}

func collectRecord(rows pgx.Rows, orderID uuid.UUID) (*payment.Record, error) {
	rec, err := pgx.CollectExactlyOneRow(rows, scanRecord)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, payment.ErrOrderNotFound
		}
		return nil, errors.Wrapf(err, "scan payment of order %s", orderID)
	}
	return &rec, nil
}

func scanRecord(row pgx.CollectableRow) (payment.Record, error) {
	var (
		rec    payment.Record
		method string
		status string
	)
	err := row.Scan(
		&rec.ID, &rec.OrderID, &rec.Amount, &method, &status,
		&rec.TransactionRef, &rec.ResponseCode, &rec.PaidAt,
		&rec.CreatedAt, &rec.UpdatedAt, &rec.OrderTotal,
	)
	rec.Method = payment.Method(method)
	rec.Status = payment.Status(status)
	return rec, err
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
